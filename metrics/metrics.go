package metrics

import (
	"context"
	"time"
)

// Metrics represents the current state of the relay.
type Metrics struct {
	// StatusCounts maps event status name to the number of events in that status
	StatusCounts map[string]int64 `json:"status_counts"`

	// Deliveries maps destination name to its request counts
	Deliveries map[string]DeliveryCounts `json:"deliveries"`

	// Throughput represents successful deliveries per time window
	Throughput ThroughputMetrics `json:"throughput"`

	// Feeds is the health of the poll loop and the push channel
	Feeds FeedMetrics `json:"feeds"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// DeliveryCounts represents the requests recorded for one destination.
type DeliveryCounts struct {
	Pending   int64 `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// ThroughputMetrics represents deliveries completed over different time windows.
type ThroughputMetrics struct {
	// LastMinute is requests completed in the last 1 minute
	LastMinute int64 `json:"last_minute"`

	// LastFiveMinutes is requests completed in the last 5 minutes
	LastFiveMinutes int64 `json:"last_five_minutes"`

	// LastFifteenMinutes is requests completed in the last 15 minutes
	LastFifteenMinutes int64 `json:"last_fifteen_minutes"`
}

// FeedMetrics represents the state of both ingestion feeds.
type FeedMetrics struct {
	Polling           bool  `json:"polling"`
	PollPaused        bool  `json:"poll_paused"`
	ConsecutiveErrors int64 `json:"consecutive_errors"`
	PushConnected     bool  `json:"push_connected"`
	ReconnectAttempts int64 `json:"reconnect_attempts"`
	InFlight          int64 `json:"in_flight"`
}

// Collector defines the interface for collecting metrics from the relay.
type Collector interface {
	// Collect gathers current metrics from the relay
	Collect(ctx context.Context) (Metrics, error)

	// GetStatusCounts returns the count of events by status
	GetStatusCounts(ctx context.Context) (map[string]int64, error)

	// GetDeliveries returns request counts per destination
	GetDeliveries(ctx context.Context) (map[string]DeliveryCounts, error)

	// GetThroughput returns deliveries completed over time windows
	GetThroughput(ctx context.Context) (ThroughputMetrics, error)

	// GetFeeds returns the state of the poll loop and push channel
	GetFeeds(ctx context.Context) (FeedMetrics, error)
}
