package capture

import "errors"

// Domain-specific errors for audio capture.
var (
	// ErrDeviceUnavailable is returned when the input device cannot be
	// acquired (missing binary, permission denied, no such device).
	// The controller stays Idle and no session is created.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")

	// ErrDeviceFailed is reported when the device stops on its own with an
	// error while recording. The session is discarded.
	ErrDeviceFailed = errors.New("capture: device failed")

	// ErrUnknownSource is returned when parsing an unrecognised input source.
	ErrUnknownSource = errors.New("capture: unknown input source")
)
