package capture

import (
	"fmt"
	"strings"
)

// State is the push-to-talk control state.
//
//	Idle → Recording → Finalizing → Idle
//	         └──── device failure ────┘
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
)

// String returns the lower-case name used in logs and the API.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Source identifies where an engage or release came from.
// Pointer and touch events for one physical press can both arrive.
type Source int

const (
	SourcePointer Source = iota
	SourceTouch
	SourceKeyboard
	SourceAPI
)

// String returns the lower-case source name.
func (s Source) String() string {
	switch s {
	case SourcePointer:
		return "pointer"
	case SourceTouch:
		return "touch"
	case SourceKeyboard:
		return "keyboard"
	case SourceAPI:
		return "api"
	default:
		return "unknown"
	}
}

// ParseSource converts a name back to a Source. An empty name means SourceAPI.
func ParseSource(name string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pointer", "mouse":
		return SourcePointer, nil
	case "touch":
		return SourceTouch, nil
	case "keyboard", "key":
		return SourceKeyboard, nil
	case "api", "":
		return SourceAPI, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
}

// Profile is what the device is asked to produce.
type Profile struct {
	Channels         int
	SampleRate       int
	EchoCancellation bool
	NoiseSuppression bool
	Container        string
	Codec            string
}

// DefaultProfile is mono 16 kHz WebM/Opus with echo cancellation and noise
// suppression, the format the voice backend expects.
func DefaultProfile() Profile {
	return Profile{
		Channels:         1,
		SampleRate:       16000,
		EchoCancellation: true,
		NoiseSuppression: true,
		Container:        "webm",
		Codec:            "opus",
	}
}
