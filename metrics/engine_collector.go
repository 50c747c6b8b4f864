package metrics

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/marcelsud/webhook-relay/engine"
	"github.com/marcelsud/webhook-relay/event"
	"github.com/marcelsud/webhook-relay/reconciler"
)

// Source is the part of the engine the collector reads
type Source interface {
	Events() reconciler.Snapshot
	GetState() engine.State
}

// EngineCollector implements the Collector interface over the engine's event list
type EngineCollector struct {
	source Source
	clock  clock.Clock
}

// NewEngineCollector creates a new engine metrics collector
func NewEngineCollector(source Source, clk clock.Clock) *EngineCollector {
	if clk == nil {
		clk = clock.New()
	}
	return &EngineCollector{
		source: source,
		clock:  clk,
	}
}

// Collect gathers all metrics from one snapshot of the list
func (c *EngineCollector) Collect(ctx context.Context) (Metrics, error) {
	events := c.source.Events().Events
	feeds, err := c.GetFeeds(ctx)
	if err != nil {
		return Metrics{}, err
	}

	return Metrics{
		StatusCounts: statusCounts(events),
		Deliveries:   deliveries(events),
		Throughput:   throughput(events, c.clock.Now()),
		Feeds:        feeds,
		Timestamp:    c.clock.Now(),
	}, nil
}

// GetStatusCounts returns counts of events grouped by status
func (c *EngineCollector) GetStatusCounts(context.Context) (map[string]int64, error) {
	return statusCounts(c.source.Events().Events), nil
}

// GetDeliveries returns request counts grouped by destination
func (c *EngineCollector) GetDeliveries(context.Context) (map[string]DeliveryCounts, error) {
	return deliveries(c.source.Events().Events), nil
}

// GetThroughput returns completed requests over time windows
func (c *EngineCollector) GetThroughput(context.Context) (ThroughputMetrics, error) {
	return throughput(c.source.Events().Events, c.clock.Now()), nil
}

// GetFeeds returns the poll loop and push channel state
func (c *EngineCollector) GetFeeds(context.Context) (FeedMetrics, error) {
	st := c.source.GetState()
	return FeedMetrics{
		Polling:           st.Polling.IsPolling,
		PollPaused:        st.Polling.IsPaused,
		ConsecutiveErrors: int64(st.Polling.ConsecutiveErrors),
		PushConnected:     st.Connection.IsConnected,
		ReconnectAttempts: int64(st.Connection.ReconnectAttempts),
		InFlight:          int64(st.InFlight),
	}, nil
}

func statusCounts(events []event.Event) map[string]int64 {
	counts := map[string]int64{
		event.Pending.String():    0,
		event.Processing.String(): 0,
		event.Completed.String():  0,
		event.Failed.String():     0,
	}
	for _, e := range events {
		counts[e.Status.String()]++
	}
	return counts
}

func deliveries(events []event.Event) map[string]DeliveryCounts {
	out := map[string]DeliveryCounts{}
	for _, e := range events {
		for _, req := range e.Requests {
			name := req.Destination.Name
			if name == "" {
				name = "unknown"
			}
			counts := out[name]
			switch req.Status {
			case event.RequestPending:
				counts.Pending++
			case event.RequestCompleted:
				counts.Completed++
			case event.RequestFailed:
				counts.Failed++
			}
			out[name] = counts
		}
	}
	return out
}

func throughput(events []event.Event, now time.Time) ThroughputMetrics {
	var t ThroughputMetrics
	for _, e := range events {
		for _, req := range e.Requests {
			if req.Status != event.RequestCompleted {
				continue
			}
			age := now.Sub(req.Timestamp)
			if age < 0 {
				age = 0
			}
			if age <= time.Minute {
				t.LastMinute++
			}
			if age <= 5*time.Minute {
				t.LastFiveMinutes++
			}
			if age <= 15*time.Minute {
				t.LastFifteenMinutes++
			}
		}
	}
	return t
}
