// Package queue serializes access to the shared speech model. All
// transcription jobs pass through one bounded FIFO channel drained by a
// single worker goroutine, so at most one inference runs at a time and jobs
// complete in admission order. A full queue rejects new jobs immediately
// rather than queuing without bound.
package queue
