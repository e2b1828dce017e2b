package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Audio   AudioConfig   `yaml:"audio"`
	Queue   QueueConfig   `yaml:"queue"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Address       string `yaml:"address"`
	Port          int    `yaml:"port"`
	MaxBodySizeMB int    `yaml:"max_body_size_mb"`
}

// EngineConfig selects the speech-recognition backend and its model
type EngineConfig struct {
	Backend    string   `yaml:"backend"`     // "whisper" or "vosk"
	Model      string   `yaml:"model"`       // model identifier reported by /health
	ModelPath  string   `yaml:"model_path"`  // model file (whisper) or directory (vosk)
	BinaryPath string   `yaml:"binary_path"` // whisper.cpp CLI, whisper backend only
	Languages  []string `yaml:"languages"`   // accepted language tags; must include "auto"
}

// AudioConfig contains the PCM layout required by the model
type AudioConfig struct {
	SampleRate  int     `yaml:"sample_rate"`
	Channels    int     `yaml:"channels"`
	BitDepth    int     `yaml:"bit_depth"`
	FFmpegPath  string  `yaml:"ffmpeg_path"`
	MaxDuration float64 `yaml:"max_duration"` // seconds, 0 disables the limit

	// SilenceThreshold is the normalized RMS energy below which a whole clip
	// is answered without running the model. 0 disables the silence gate.
	SilenceThreshold float64 `yaml:"silence_threshold"`
}

// QueueConfig contains job serialization parameters
type QueueConfig struct {
	Capacity       int `yaml:"capacity"`
	RequestTimeout int `yaml:"request_timeout"` // seconds, queue wait plus inference
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets deployments override file values without editing
// the YAML. Only the fields that commonly differ between hosts are exposed.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TRANSCRIBER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("TRANSCRIBER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("TRANSCRIBER_MODEL_PATH"); v != "" {
		c.Engine.ModelPath = v
	}
	if v := os.Getenv("TRANSCRIBER_MODEL"); v != "" {
		c.Engine.Model = v
	}
	if v := os.Getenv("TRANSCRIBER_WHISPER_BIN"); v != "" {
		c.Engine.BinaryPath = v
	}
	if v := os.Getenv("TRANSCRIBER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.MaxBodySizeMB < 1 {
		return fmt.Errorf("max_body_size_mb must be at least 1, got %d", s.MaxBodySizeMB)
	}

	return nil
}

// Validate validates engine configuration
func (e *EngineConfig) Validate() error {
	validBackends := map[string]bool{"whisper": true, "vosk": true}
	if !validBackends[e.Backend] {
		return fmt.Errorf("backend must be 'whisper' or 'vosk', got '%s'", e.Backend)
	}

	if e.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if e.ModelPath == "" {
		return fmt.Errorf("model_path cannot be empty")
	}

	if len(e.Languages) == 0 {
		return fmt.Errorf("languages cannot be empty")
	}

	hasAuto := false
	for _, lang := range e.Languages {
		if lang == "auto" {
			hasAuto = true
		}
		if lang == "" {
			return fmt.Errorf("languages cannot contain empty tags")
		}
	}
	if !hasAuto {
		return fmt.Errorf("languages must include 'auto'")
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz for the speech model, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.MaxDuration < 0 {
		return fmt.Errorf("max_duration cannot be negative, got %f", a.MaxDuration)
	}

	if a.SilenceThreshold < 0 || a.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1, got %f", a.SilenceThreshold)
	}

	return nil
}

// Validate validates queue configuration
func (q *QueueConfig) Validate() error {
	if q.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", q.Capacity)
	}

	if q.RequestTimeout < 1 {
		return fmt.Errorf("request_timeout must be at least 1 second, got %d", q.RequestTimeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// IsLanguageAllowed reports whether the tag is in the configured language set.
func (e *EngineConfig) IsLanguageAllowed(tag string) bool {
	for _, lang := range e.Languages {
		if lang == tag {
			return true
		}
	}
	return false
}

// GetRequestTimeout returns the per-request timeout as a time.Duration
func (q *QueueConfig) GetRequestTimeout() time.Duration {
	return time.Duration(q.RequestTimeout) * time.Second
}

// GetMaxDuration returns the audio duration limit as a time.Duration
func (a *AudioConfig) GetMaxDuration() time.Duration {
	return time.Duration(a.MaxDuration * float64(time.Second))
}

// GetMaxBodySize returns the request body limit in bytes
func (s *ServerConfig) GetMaxBodySize() int64 {
	return int64(s.MaxBodySizeMB) << 20
}
