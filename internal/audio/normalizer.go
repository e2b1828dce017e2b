package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Errors reported by Normalize. Callers classify them with errors.Is.
var (
	// ErrEmptyInput indicates a zero-byte audio payload
	ErrEmptyInput = errors.New("audio payload is empty")

	// ErrUnsupportedFormat indicates a format tag outside the supported set
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrCorruptAudio indicates the payload does not decode under its declared format
	ErrCorruptAudio = errors.New("audio payload is corrupt")
)

// supportedFormats is the fixed set of container/codec tags clients may declare.
var supportedFormats = map[string]bool{
	"mp3":  true,
	"wav":  true,
	"webm": true,
	"m4a":  true,
	"flac": true,
}

// SupportedFormats returns the accepted format tags in stable order.
func SupportedFormats() []string {
	return []string{"flac", "m4a", "mp3", "wav", "webm"}
}

// IsSupportedFormat reports whether the declared format tag is accepted.
func IsSupportedFormat(format string) bool {
	return supportedFormats[strings.ToLower(format)]
}

// NormalizedAudio is a mono 16-bit PCM buffer at the model's sample rate.
// It is produced once by the Normalizer and never mutated afterwards.
type NormalizedAudio struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the playing time of the buffer.
func (n *NormalizedAudio) Duration() time.Duration {
	if n.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(n.Samples)) / float64(n.SampleRate) * float64(time.Second))
}

// Bytes returns the samples as little-endian PCM, the layout expected by
// in-process recognizers.
func (n *NormalizedAudio) Bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(n.Samples)*2))
	binary.Write(buf, binary.LittleEndian, n.Samples)
	return buf.Bytes()
}

// NormalizerConfig contains the target PCM layout and decoder settings.
type NormalizerConfig struct {
	SampleRate int
	FFmpegPath string
	// MaxDuration rejects absurdly long uploads after decoding; zero disables the check.
	MaxDuration time.Duration
}

// Normalizer decodes arbitrary supported audio payloads into NormalizedAudio.
// It is stateless and safe for concurrent use.
type Normalizer struct {
	cfg NormalizerConfig
}

// NewNormalizer creates a normalizer targeting the given PCM layout.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	return &Normalizer{cfg: cfg}
}

// Normalize decodes the payload declared as format into mono 16-bit PCM at
// the configured sample rate. WAV payloads that already match the target
// layout decode natively; everything else is transcoded with ffmpeg. Any
// temporary files are removed before returning, on every path.
func (n *Normalizer) Normalize(ctx context.Context, data []byte, format string) (*NormalizedAudio, error) {
	// The format check runs first: an unsupported tag is rejected no matter
	// what the payload contains.
	format = strings.ToLower(strings.TrimSpace(format))
	if !supportedFormats[format] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	if format == "wav" {
		if samples, rate, err := DecodeWAV(data); err == nil && rate == n.cfg.SampleRate {
			return n.finish(samples)
		}
		// Resampling and non-trivial WAV layouts fall through to ffmpeg.
	}

	samples, err := n.decodeWithFFmpeg(ctx, data, format)
	if err != nil {
		return nil, err
	}

	return n.finish(samples)
}

// finish applies post-decode validation shared by both decode paths.
func (n *Normalizer) finish(samples []int16) (*NormalizedAudio, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: decoded zero samples", ErrCorruptAudio)
	}

	na := &NormalizedAudio{Samples: samples, SampleRate: n.cfg.SampleRate}
	if n.cfg.MaxDuration > 0 && na.Duration() > n.cfg.MaxDuration {
		return nil, fmt.Errorf("audio duration %s exceeds limit %s", na.Duration(), n.cfg.MaxDuration)
	}

	return na, nil
}

// decodeWithFFmpeg writes the payload to a temp file and asks ffmpeg for raw
// mono 16-bit PCM at the target rate on stdout.
func (n *Normalizer) decodeWithFFmpeg(ctx context.Context, data []byte, format string) ([]int16, error) {
	tmp, err := os.CreateTemp("", "normalize-*."+format)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	cmd := exec.CommandContext(ctx, n.cfg.FFmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", tmpName,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(n.cfg.SampleRate),
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("%w: %s", ErrCorruptAudio, detail)
	}

	raw := stdout.Bytes()
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: decoder produced no output", ErrCorruptAudio)
	}

	samples := make([]int16, len(raw)/2)
	if err := binary.Read(bytes.NewReader(raw[:len(samples)*2]), binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to read decoded PCM: %w", err)
	}

	return samples, nil
}
