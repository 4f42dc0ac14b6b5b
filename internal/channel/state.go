package channel

// State represents the lifecycle state of the summary channel
type State int

const (
	// StateDisconnected means no connection exists. This is the initial
	// state, and the terminal state after Close.
	StateDisconnected State = iota

	// StateConnecting means a dial is in progress.
	StateConnecting

	// StateOpen means the connection is established and requests may be sent.
	StateOpen

	// StateClosing means Close was called and teardown is in progress.
	StateClosing
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
