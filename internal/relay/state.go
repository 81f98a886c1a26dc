package relay

// State is the position of the upstream connection state machine.
type State int32

// Upstream states, in the order a healthy connection passes through them.
const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}
