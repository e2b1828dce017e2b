package audio

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(NormalizerConfig{SampleRate: 16000})
}

func TestNormalizeUnsupportedFormat(t *testing.T) {
	n := newTestNormalizer()

	// The format tag decides, no matter what the bytes look like.
	payloads := [][]byte{nil, {}, []byte("some bytes"), make([]byte, 4096)}
	formats := []string{"ogg", "aac", "wma", "avi", "", "mp4"}

	for _, format := range formats {
		for _, payload := range payloads {
			_, err := n.Normalize(context.Background(), payload, format)
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("format %q: expected ErrUnsupportedFormat, got %v", format, err)
			}
		}
	}
}

func TestNormalizeEmptyInput(t *testing.T) {
	n := newTestNormalizer()

	for _, format := range SupportedFormats() {
		_, err := n.Normalize(context.Background(), []byte{}, format)
		if !errors.Is(err, ErrEmptyInput) {
			t.Errorf("format %q: expected ErrEmptyInput, got %v", format, err)
		}
	}
}

func TestNormalizeFormatTagCaseInsensitive(t *testing.T) {
	n := newTestNormalizer()

	wav, err := EncodeWAV(sineWave(16000, 0.5, 440.0), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if _, err := n.Normalize(context.Background(), wav, "WAV"); err != nil {
		t.Errorf("uppercase tag should normalize, got %v", err)
	}
}

func TestNormalizeWAVNativePath(t *testing.T) {
	n := newTestNormalizer()

	samples := sineWave(16000, 2.0, 440.0)
	wav, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	na, err := n.Normalize(context.Background(), wav, "wav")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if na.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", na.SampleRate)
	}

	if len(na.Samples) != len(samples) {
		t.Errorf("Expected %d samples, got %d", len(samples), len(na.Samples))
	}

	if d := na.Duration(); d < 1990*time.Millisecond || d > 2010*time.Millisecond {
		t.Errorf("Expected ~2s duration, got %s", d)
	}
}

func TestNormalizeSilentWAV(t *testing.T) {
	n := newTestNormalizer()

	wav, err := EncodeWAV(make([]int16, 32000), 16000) // 2s of silence
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	na, err := n.Normalize(context.Background(), wav, "wav")
	if err != nil {
		t.Fatalf("silence must normalize cleanly, got %v", err)
	}

	if len(na.Samples) != 32000 {
		t.Errorf("Expected 32000 samples, got %d", len(na.Samples))
	}
}

func TestNormalizeMaxDuration(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{SampleRate: 16000, MaxDuration: time.Second})

	wav, err := EncodeWAV(make([]int16, 32000), 16000) // 2s
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if _, err := n.Normalize(context.Background(), wav, "wav"); err == nil {
		t.Error("Expected error for audio exceeding max duration")
	}
}

func TestNormalizeCorruptPayload(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available")
	}

	n := newTestNormalizer()

	garbage := []byte("definitely not audio data, just a string of text bytes")

	for _, format := range []string{"mp3", "flac", "webm", "m4a"} {
		_, err := n.Normalize(context.Background(), garbage, format)
		if !errors.Is(err, ErrCorruptAudio) {
			t.Errorf("format %q: expected ErrCorruptAudio, got %v", format, err)
		}
	}
}

func TestNormalizeCorruptWAVFallsBackAndFails(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available")
	}

	n := newTestNormalizer()

	// Valid RIFF magic but truncated body: the native decoder rejects it and
	// the ffmpeg fallback cannot produce samples either.
	data := append([]byte("RIFF\x10\x00\x00\x00WAVE"), make([]byte, 8)...)

	_, err := n.Normalize(context.Background(), data, "wav")
	if !errors.Is(err, ErrCorruptAudio) {
		t.Errorf("expected ErrCorruptAudio, got %v", err)
	}
}

func TestNormalizedAudioBytes(t *testing.T) {
	na := &NormalizedAudio{Samples: []int16{0x0102, -1}, SampleRate: 16000}

	b := na.Bytes()
	if len(b) != 4 {
		t.Fatalf("Expected 4 bytes, got %d", len(b))
	}

	// Little-endian layout.
	if b[0] != 0x02 || b[1] != 0x01 || b[2] != 0xFF || b[3] != 0xFF {
		t.Errorf("Unexpected byte layout: %v", b)
	}
}
