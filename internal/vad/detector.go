package vad

import (
	"fmt"
	"math"
	"sync"

	"github.com/localscribe/transcription-service/internal/audio"
)

// defaultWindowSize is 32ms at 16kHz, small enough that a short utterance
// still fills at least one window.
const defaultWindowSize = 512

// Detector classifies normalized PCM as speech or silence using windowed RMS
// energy. It is a cheap pre-filter, not a transcription-quality VAD: the
// threshold should be set low so only genuinely empty clips are gated.
type Detector struct {
	threshold  float64 // normalized RMS energy, 0..1
	windowSize int

	// Statistics
	clips       uint64
	silentClips uint64
	mu          sync.RWMutex
}

// Analysis summarizes the energy profile of one clip.
type Analysis struct {
	Windows       int     `json:"windows"`
	SpeechWindows int     `json:"speech_windows"`
	SpeechRatio   float64 `json:"speech_ratio"`
	PeakEnergy    float64 `json:"peak_energy"`
}

// DetectorStats is a snapshot of detector counters.
type DetectorStats struct {
	Threshold     float64 `json:"threshold"`
	Clips         uint64  `json:"clips"`
	SilentClips   uint64  `json:"silent_clips"`
	SilentPercent float64 `json:"silent_percent"`
}

// NewDetector creates a detector with the given energy threshold.
func NewDetector(threshold float64) (*Detector, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	return &Detector{
		threshold:  threshold,
		windowSize: defaultWindowSize,
	}, nil
}

// Analyze computes the energy profile of the clip. Clips shorter than one
// window are measured as a single partial window.
func (d *Detector) Analyze(pcm *audio.NormalizedAudio) Analysis {
	var a Analysis

	samples := pcm.Samples
	for len(samples) > 0 {
		n := d.windowSize
		if n > len(samples) {
			n = len(samples)
		}

		energy := windowEnergy(samples[:n])
		if energy > a.PeakEnergy {
			a.PeakEnergy = energy
		}
		if energy >= d.threshold {
			a.SpeechWindows++
		}
		a.Windows++

		samples = samples[n:]
	}

	if a.Windows > 0 {
		a.SpeechRatio = float64(a.SpeechWindows) / float64(a.Windows)
	}

	return a
}

// Silent reports whether no window in the clip crosses the energy threshold.
func (d *Detector) Silent(pcm *audio.NormalizedAudio) bool {
	a := d.Analyze(pcm)

	d.mu.Lock()
	d.clips++
	if a.SpeechWindows == 0 {
		d.silentClips++
	}
	d.mu.Unlock()

	return a.SpeechWindows == 0
}

// GetStats returns a snapshot of the detector counters.
func (d *Detector) GetStats() DetectorStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	silentPercent := float64(0)
	if d.clips > 0 {
		silentPercent = float64(d.silentClips) / float64(d.clips) * 100
	}

	return DetectorStats{
		Threshold:     d.threshold,
		Clips:         d.clips,
		SilentClips:   d.silentClips,
		SilentPercent: silentPercent,
	}
}

// windowEnergy returns the RMS energy of the window normalized to 0..1.
func windowEnergy(samples []int16) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return rms / float64(math.MaxInt16)
}
