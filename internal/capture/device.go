package capture

import "context"

// Sink receives what a device produces for one session.
// Implementations must be safe to call from any goroutine.
type Sink interface {
	// Fragment delivers the next chunk of encoded audio.
	Fragment(data []byte)

	// Stopped acknowledges the end of the stream. It is called exactly once,
	// after the last Fragment. err is nil for a requested or clean stop.
	Stopped(err error)
}

// Stream is a running device session.
type Stream interface {
	// Stop asks the device to finish. It does not wait; the acknowledgement
	// arrives through Sink.Stopped.
	Stop() error
}

// Device is an audio input that can be opened once per session.
type Device interface {
	// Open acquires the input and starts producing audio into sink.
	// Errors wrap ErrDeviceUnavailable, and sink is never called after one.
	Open(ctx context.Context, profile Profile, sink Sink) (Stream, error)
}
