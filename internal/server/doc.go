// Package server implements the HTTP boundary of the transcription service:
// payload validation, the transcription endpoint, readiness reporting, and
// monitoring endpoints. Internal error kinds map to a small, stable JSON
// response contract.
package server
