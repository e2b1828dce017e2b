// Package engine wraps the speech-recognition model behind a single
// Transcribe operation. Two backends are provided: a whisper.cpp CLI
// invocation and an in-process Vosk recognizer. Exactly one engine instance
// exists per process and callers must never invoke it concurrently; the
// queue package enforces that.
package engine
