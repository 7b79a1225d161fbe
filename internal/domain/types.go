package domain

import "errors"

// Queue admission errors, surfaced synchronously from Submit.
var (
	ErrAlreadyQueued = errors.New("job already queued for this key")
	ErrQueueFull     = errors.New("queue is full")
)

// Transcription service errors. RateLimited and Unavailable are retryable,
// InvalidAudio is terminal.
var (
	ErrRateLimited         = errors.New("transcription service rate limited")
	ErrInvalidAudio        = errors.New("transcription service rejected audio")
	ErrUnavailable         = errors.New("transcription service unavailable")
	ErrTranscriptionFailed = errors.New("transcription failed")
)

// Realtime channel errors.
var (
	ErrAuthenticationDenied = errors.New("authentication denied")
	ErrConnectionLimit      = errors.New("connection limit exceeded")
)

// Retryable reports whether a failed execution attempt may be retried.
func Retryable(err error) bool {
	if errors.Is(err, ErrInvalidAudio) {
		return false
	}
	return true
}

// Identity is an authenticated principal associated with a connection or a
// job submission.
type Identity string
