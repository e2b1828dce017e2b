// Package client is a Go client for the transcription service HTTP API.
// It retries busy rejections with exponential backoff, which is safe because
// rejected requests never enter the queue.
package client
