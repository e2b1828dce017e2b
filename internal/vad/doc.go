// Package vad provides energy-based voice activity detection used to skip
// inference on clips that contain no audible signal.
package vad
