package utterance

import "errors"

// Domain-specific errors for utterance encoding.
var (
	// ErrEmptyCapture is returned when an utterance carries no audio bytes.
	// Nothing is published for it.
	ErrEmptyCapture = errors.New("utterance: empty capture")

	// ErrInvalidMessage is returned when a transport payload cannot be decoded.
	ErrInvalidMessage = errors.New("utterance: invalid message")
)
