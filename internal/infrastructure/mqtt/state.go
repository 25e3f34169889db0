package mqtt

// ConnectionState is the lifecycle of the single broker connection.
//
//	Disconnected → Connecting → Connected
//	     ↑             ↑  ↓         │
//	     └── Closing ←─┴──┴─────────┘
//
// Only Client mutates it; everything else observes it through State()
// or SetOnStateChange.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateClosing
)

// String returns the lower-case name used in logs and diagnostics.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
