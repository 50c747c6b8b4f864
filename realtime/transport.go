package realtime

import (
	"context"

	"github.com/marcelsud/webhook-relay/reconciler"
)

// SubscriptionStatus is what a transport reports about one channel
type SubscriptionStatus int

const (
	StatusSubscribed SubscriptionStatus = iota + 1
	StatusClosed
	StatusChannelError
	StatusTimedOut
)

// String returns the string representation of the status
func (s SubscriptionStatus) String() string {
	switch s {
	case StatusSubscribed:
		return "SUBSCRIBED"
	case StatusClosed:
		return "CLOSED"
	case StatusChannelError:
		return "CHANNEL_ERROR"
	case StatusTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// RawChange is an untyped change record as received from the wire
type RawChange []byte

/* ChannelSpec describes one subscription
 * Key filters the table on its subscription key column
 */
type ChannelSpec struct {
	Channel Channel
	Table   reconciler.Table
	Key     string
}

/* Transport is the push channel's connection
 * Connect blocks until the connection is up or ctx is done
 * Subscribe callbacks may run on transport goroutines
 */
type Transport interface {
	Connect(ctx context.Context, token string) error
	Subscribe(ctx context.Context, spec ChannelSpec, onChange func(RawChange), onStatus func(SubscriptionStatus, error)) error
	IsConnected() bool
	Disconnect() error
}

// CredentialProvider hands out the current access token and reports changes
type CredentialProvider interface {
	Token() string
	OnChange(fn func(token string)) (cancel func())
}
