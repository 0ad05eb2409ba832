package webhook

import "fmt"

/* DeliveryStatus represents the current state of one delivery attempt chain
 * Follows the lifecycle: Pending -> Retrying -> Success/Failed
 */
type DeliveryStatus int

const (
	Pending DeliveryStatus = iota + 1
	Retrying
	Success
	Failed
)

// String returns the string representation of the status
func (s DeliveryStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Retrying:
		return "retrying"
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// NewDeliveryStatus creates a DeliveryStatus from a string
func NewDeliveryStatus(str string) DeliveryStatus {
	switch str {
	case "pending":
		return Pending
	case "retrying":
		return Retrying
	case "success":
		return Success
	case "failed":
		return Failed
	default:
		return Pending
	}
}

// Validate checks if the status is valid
func (s DeliveryStatus) Validate() error {
	if s < Pending || s > Failed {
		return fmt.Errorf("invalid delivery status: %d", s)
	}
	return nil
}

// IsFinal returns true if the status is a terminal state
func (s DeliveryStatus) IsFinal() bool {
	return s == Success || s == Failed
}
