package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/localscribe/transcription-service/internal/audio"
)

// WhisperEngine transcribes by invoking the whisper.cpp CLI with a temporary
// WAV file and parsing its JSON output. The decoder runs as a child process,
// so ctx cancellation terminates it mid-inference.
type WhisperEngine struct {
	binaryPath string
	modelPath  string
	modelName  string
	logger     *slog.Logger
}

// whisperOutput mirrors the JSON file written by whisper.cpp with -oj.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Text string `json:"text"`
	} `json:"transcription"`
}

// NewWhisperEngine verifies the decoder binary and model file exist and
// returns a ready engine. Unlike the in-process backends there is no
// memory-resident model to load.
func NewWhisperEngine(cfg Config, logger *slog.Logger) (*WhisperEngine, error) {
	binaryPath := cfg.BinaryPath
	if binaryPath == "" {
		binaryPath = "whisper-cli"
	}

	resolved, err := exec.LookPath(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: whisper binary %q not found: %v", ErrModelLoad, binaryPath, err)
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: model file %q: %v", ErrModelLoad, cfg.ModelPath, err)
	}

	logger.Info("Whisper engine ready",
		slog.String("binary", resolved),
		slog.String("model", cfg.ModelName),
		slog.String("model_path", cfg.ModelPath),
	)

	return &WhisperEngine{
		binaryPath: resolved,
		modelPath:  cfg.ModelPath,
		modelName:  cfg.ModelName,
		logger:     logger,
	}, nil
}

// Transcribe runs one whisper.cpp invocation over the PCM buffer.
func (e *WhisperEngine) Transcribe(ctx context.Context, pcm *audio.NormalizedAudio, language string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wavData, err := audio.EncodeWAV(pcm.Samples, pcm.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	tmp, err := os.CreateTemp("", "whisper-*.wav")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	wavPath := tmp.Name()
	outPrefix := strings.TrimSuffix(wavPath, ".wav")
	jsonPath := outPrefix + ".json"
	defer os.Remove(wavPath)
	defer os.Remove(jsonPath)

	if _, err := tmp.Write(wavData); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	if language == "" {
		language = LanguageAuto
	}

	cmd := exec.CommandContext(ctx, e.binaryPath,
		"-m", e.modelPath,
		"-f", wavPath,
		"-l", language,
		"-oj",
		"-of", outPrefix,
		"-np",
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		detail := strings.TrimSpace(string(output))
		if len(detail) > 512 {
			detail = detail[len(detail)-512:]
		}
		return nil, fmt.Errorf("%w: whisper exited: %s", ErrInference, detail)
	}

	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("%w: missing decoder output: %v", ErrInference, err)
	}

	var parsed whisperOutput
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed decoder output: %v", ErrInference, err)
	}

	var sb strings.Builder
	for _, segment := range parsed.Transcription {
		sb.WriteString(segment.Text)
	}

	return &Result{
		Text:     strings.TrimSpace(sb.String()),
		Language: parsed.Result.Language,
		Duration: pcm.Duration(),
	}, nil
}

// ModelName returns the configured model identifier.
func (e *WhisperEngine) ModelName() string {
	return e.modelName
}

// Close releases nothing for the CLI backend.
func (e *WhisperEngine) Close() error {
	return nil
}
