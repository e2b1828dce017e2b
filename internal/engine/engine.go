package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/localscribe/transcription-service/internal/audio"
)

// Common error types for the engine package
var (
	// ErrInference indicates an internal model failure during transcription
	ErrInference = errors.New("inference failed")

	// ErrModelLoad indicates the model could not be loaded at startup; this is fatal
	ErrModelLoad = errors.New("failed to load model")
)

// LanguageAuto asks the model to detect the spoken language itself.
const LanguageAuto = "auto"

// Result is the outcome of one successful transcription. Text may be empty
// when the model finds no speech content; that is a valid result, not an error.
type Result struct {
	Text     string
	Language string
	Duration time.Duration
}

// Engine is the single operation exposed by a loaded speech model.
//
// Transcribe honors ctx cancellation on a best-effort basis: the whisper
// backend kills the decoder process, while the Vosk backend cannot interrupt
// a recognition already in flight and only checks ctx before starting.
type Engine interface {
	Transcribe(ctx context.Context, pcm *audio.NormalizedAudio, language string) (*Result, error)
	ModelName() string
	Close() error
}

// Config selects and parametrizes the engine backend.
type Config struct {
	Backend    string // "whisper" or "vosk"
	ModelName  string
	ModelPath  string
	BinaryPath string // whisper only
}

// New creates the configured engine backend. Loading is expensive (seconds
// for Vosk) and happens here, once per process.
func New(cfg Config, logger *slog.Logger) (Engine, error) {
	switch cfg.Backend {
	case "whisper":
		return NewWhisperEngine(cfg, logger)
	case "vosk":
		return NewVoskEngine(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown engine backend %q, supported: whisper, vosk", cfg.Backend)
	}
}
