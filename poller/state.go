package poller

import (
	"errors"
	"time"
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrEmptyKey             = errors.New("subscription key is required")
	ErrDisposed             = errors.New("poller disposed")
)

const (
	MaxConsecutiveErrors = 5
	// RetryDelay is the base of the error backoff: RetryDelay * 2^(n-1)
	RetryDelay = time.Second

	DefaultInterval = 5 * time.Second
	MinInterval     = 2 * time.Second
	MaxInterval     = 30 * time.Second

	DefaultAutoPauseTimeout = 10 * time.Minute
	MinAutoPauseTimeout     = 5 * time.Minute
	MaxAutoPauseTimeout     = 60 * time.Minute
)

// PauseReason tells why polling is paused
type PauseReason int

const (
	NotPaused PauseReason = iota
	PausedManually
	PausedOnErrors
	PausedIdle
	PausedUnauthorized
)

// String returns the string representation of the pause reason
func (r PauseReason) String() string {
	switch r {
	case NotPaused:
		return ""
	case PausedManually:
		return "manual"
	case PausedOnErrors:
		return "errors"
	case PausedIdle:
		return "idle"
	case PausedUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// MarshalText encodes the reason by name
func (r PauseReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// State is a copy of the poll loop's observable state
type State struct {
	IsPolling         bool          `json:"is_polling"`
	IsPaused          bool          `json:"is_paused"`
	PauseReason       PauseReason   `json:"pause_reason,omitempty"`
	Interval          time.Duration `json:"interval"`
	AutoPauseTimeout  time.Duration `json:"auto_pause_timeout"`
	LastEventTime     *time.Time    `json:"last_event_time,omitempty"`
	LastPollTime      *time.Time    `json:"last_poll_time,omitempty"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	SubscriptionKey   string        `json:"subscription_key,omitempty"`
	AuthorizationLost bool          `json:"authorization_lost"`
}

func (s State) clone() State {
	if s.LastEventTime != nil {
		t := *s.LastEventTime
		s.LastEventTime = &t
	}
	if s.LastPollTime != nil {
		t := *s.LastPollTime
		s.LastPollTime = &t
	}
	return s
}

// Backoff returns the delay before retry number n (1-based)
func Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return RetryDelay << (n - 1)
}
