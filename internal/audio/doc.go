// Package audio converts client-supplied audio payloads into the fixed PCM
// representation the speech model consumes. It provides a native WAV codec
// for the common recorder output and an ffmpeg-backed decode path for
// compressed container formats.
package audio
