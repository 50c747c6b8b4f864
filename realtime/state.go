package realtime

import (
	"errors"
	"time"
)

var (
	ErrEmptyKey = errors.New("subscription key is required")
	ErrDisposed = errors.New("push client disposed")
)

const (
	ConnectTimeout       = 10 * time.Second
	HealthCheckInterval  = 30 * time.Second
	MaxReconnectAttempts = 5
	ReconnectDelay       = 5 * time.Second
	MinTokenLength       = 20
)

// Channel names one of the two subscriptions the client keeps
type Channel string

const (
	EventsChannel   Channel = "events"
	RequestsChannel Channel = "requests"
)

// Channels lists every channel in subscription order
var Channels = []Channel{EventsChannel, RequestsChannel}

// ChannelState is the per-channel subscription state
type ChannelState int

const (
	Unsubscribed ChannelState = iota
	Subscribing
	Subscribed
)

// String returns the string representation of the channel state
func (s ChannelState) String() string {
	switch s {
	case Unsubscribed:
		return "unsubscribed"
	case Subscribing:
		return "subscribing"
	case Subscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name
func (s ChannelState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnectionState is a copy of the push client's observable state
type ConnectionState struct {
	IsConnected       bool                     `json:"is_connected"`
	Channels          map[Channel]ChannelState `json:"channels"`
	ReconnectAttempts int                      `json:"reconnect_attempts"`
	SubscriptionKey   string                   `json:"subscription_key,omitempty"`
	AuthorizationLost bool                     `json:"authorization_lost"`
}

func newConnectionState() ConnectionState {
	st := ConnectionState{Channels: make(map[Channel]ChannelState, len(Channels))}
	for _, ch := range Channels {
		st.Channels[ch] = Unsubscribed
	}
	return st
}

func (s ConnectionState) clone() ConnectionState {
	out := s
	out.Channels = make(map[Channel]ChannelState, len(s.Channels))
	for k, v := range s.Channels {
		out.Channels[k] = v
	}
	return out
}

func (s *ConnectionState) setChannels(state ChannelState) {
	for _, ch := range Channels {
		s.Channels[ch] = state
	}
}

// ValidToken reports whether a credential is usable for connecting
func ValidToken(token string) bool {
	return len(token) >= MinTokenLength
}
