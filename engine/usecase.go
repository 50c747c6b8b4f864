package engine

import (
	"context"
	"time"

	"github.com/marcelsud/webhook-relay/reconciler"
)

// UseCase is the engine surface driven by the control API
type UseCase interface {
	GetState() State
	Events() reconciler.Snapshot
	SetPollingInterval(d time.Duration) error
	SetAutoPauseTimeout(d time.Duration) error
	StartPolling(key string) error
	PausePolling() error
	ResumePolling() error
	StopPolling() error
	Connect(ctx context.Context, key string) error
	Disconnect() error
	PingDestinations(ctx context.Context, key string) ([]PingResult, error)
}

var _ UseCase = (*Engine)(nil)
