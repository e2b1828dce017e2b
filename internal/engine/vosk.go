package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/localscribe/transcription-service/internal/audio"
)

// VoskEngine runs recognition in-process through the Vosk cgo binding. The
// model stays resident for the life of the process. A recognition already in
// flight cannot be interrupted; Transcribe only observes ctx before starting.
type VoskEngine struct {
	model     *vosk.VoskModel
	modelName string
	logger    *slog.Logger
}

// voskResult mirrors the JSON returned by the recognizer.
type voskResult struct {
	Text string `json:"text"`
}

// NewVoskEngine loads the Vosk model from disk. This takes seconds for the
// larger models and dominates service startup time.
func NewVoskEngine(cfg Config, logger *slog.Logger) (*VoskEngine, error) {
	start := time.Now()

	model, err := vosk.NewModel(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	logger.Info("Vosk model loaded",
		slog.String("model", cfg.ModelName),
		slog.String("model_path", cfg.ModelPath),
		slog.Duration("load_time", time.Since(start)),
	)

	return &VoskEngine{
		model:     model,
		modelName: cfg.ModelName,
		logger:    logger,
	}, nil
}

// Transcribe feeds the PCM buffer through a fresh recognizer. Vosk models are
// monolingual, so the language hint is accepted for interface compatibility
// but does not influence decoding and no detected language is reported.
func (e *VoskEngine) Transcribe(ctx context.Context, pcm *audio.NormalizedAudio, language string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := vosk.NewRecognizer(e.model, float64(pcm.SampleRate))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	defer rec.Free()

	rec.AcceptWaveform(pcm.Bytes())

	var parsed voskResult
	if err := json.Unmarshal([]byte(rec.FinalResult()), &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed recognizer output: %v", ErrInference, err)
	}

	return &Result{
		Text:     parsed.Text,
		Duration: pcm.Duration(),
	}, nil
}

// ModelName returns the configured model identifier.
func (e *VoskEngine) ModelName() string {
	return e.modelName
}

// Close frees the resident model.
func (e *VoskEngine) Close() error {
	e.model.Free()
	return nil
}
