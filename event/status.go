package event

import "fmt"

/* Status represents the lifecycle of a captured event
 * Follows the lifecycle: Pending -> Processing -> Completed/Failed
 */
type Status int

const (
	Pending Status = iota + 1
	Processing
	Completed
	Failed
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Processing:
		return "processing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// NewStatus creates a Status from a string
func NewStatus(str string) Status {
	switch str {
	case "pending":
		return Pending
	case "processing":
		return Processing
	case "completed":
		return Completed
	case "failed":
		return Failed
	default:
		return Pending
	}
}

// ParseStatus is the strict variant of NewStatus used at decode boundaries
func ParseStatus(str string) (Status, error) {
	s := NewStatus(str)
	if s.String() != str {
		return 0, fmt.Errorf("invalid event status: %q", str)
	}
	return s, nil
}

// Validate checks if the status is valid
func (s Status) Validate() error {
	if s < Pending || s > Failed {
		return fmt.Errorf("invalid event status: %d", s)
	}
	return nil
}

// IsFinal returns true if the status is a terminal state
func (s Status) IsFinal() bool {
	return s == Completed || s == Failed
}

// CanTransition reports whether moving from s to next respects the lifecycle.
// Re-asserting the same status is allowed so status writes stay idempotent.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case Pending:
		return next == Processing || next.IsFinal()
	case Processing:
		return next.IsFinal()
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

/* RequestStatus is the state of a single delivery attempt
 * A request starts pending and is settled exactly once
 */
type RequestStatus int

const (
	RequestPending RequestStatus = iota + 1
	RequestCompleted
	RequestFailed
)

// String returns the string representation of the request status
func (s RequestStatus) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestCompleted:
		return "completed"
	case RequestFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// NewRequestStatus creates a RequestStatus from a string
func NewRequestStatus(str string) RequestStatus {
	switch str {
	case "completed":
		return RequestCompleted
	case "failed":
		return RequestFailed
	default:
		return RequestPending
	}
}

// ParseRequestStatus is the strict variant of NewRequestStatus
func ParseRequestStatus(str string) (RequestStatus, error) {
	s := NewRequestStatus(str)
	if s.String() != str {
		return 0, fmt.Errorf("invalid request status: %q", str)
	}
	return s, nil
}

// Validate checks if the request status is valid
func (s RequestStatus) Validate() error {
	if s < RequestPending || s > RequestFailed {
		return fmt.Errorf("invalid request status: %d", s)
	}
	return nil
}

// IsFinal returns true once the dispatcher has settled the request
func (s RequestStatus) IsFinal() bool {
	return s == RequestCompleted || s == RequestFailed
}

// MarshalText implements encoding.TextMarshaler
func (s RequestStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *RequestStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseRequestStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
