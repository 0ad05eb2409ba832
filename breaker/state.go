package breaker

/* State represents the lifecycle of a circuit
 * Follows the classic transitions: Closed -> Open -> HalfOpen -> Closed
 */
type State int

const (
	Closed State = iota + 1
	Open
	HalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "unknown"
	}
}
