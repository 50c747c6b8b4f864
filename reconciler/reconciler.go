package reconciler

import (
	"fmt"
	"sync"

	"github.com/marcelsud/webhook-relay/event"
)

/* Reconciler holds the canonical, ordered event list
 * Every mutation happens under one mutex and returns a fresh deep-copied Snapshot,
 * so readers never observe a list that is half way through a merge
 */
type Reconciler struct {
	mu      sync.Mutex
	events  []event.Event
	version uint64
}

// Snapshot is a consistent, caller-owned copy of the list at a given version
type Snapshot struct {
	Version uint64
	Events  []event.Event
}

// New creates an empty reconciler
func New() *Reconciler {
	return &Reconciler{}
}

// Events returns the current list
func (r *Reconciler) Events() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Event returns a copy of one event
func (r *Reconciler) Event(id string) (event.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return event.Event{}, false
	}
	return r.events[idx].Clone(), true
}

// Len returns the number of events held
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Reset drops every event, used when the subscription key changes
func (r *Reconciler) Reset() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.version++
	return r.snapshotLocked()
}

/* ApplySnapshot replaces the working set wholesale
 * Snapshot values win for every field except Origin: a cached origin payload survives when
 * the snapshot row does not carry one
 */
func (r *Reconciler) ApplySnapshot(events []event.Event) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	cached := make(map[string]*event.OriginPayload, len(r.events))
	for _, e := range r.events {
		if e.Origin != nil {
			cached[e.ID] = e.Origin
		}
	}

	next := make([]event.Event, 0, len(events))
	positions := make(map[string]int, len(events))
	for _, in := range events {
		if in.ID == "" {
			continue
		}
		e := in.Clone()
		if e.Origin == nil {
			if origin, ok := cached[e.ID]; ok {
				o := origin.Clone()
				e.Origin = &o
			}
		}
		event.SortRequests(e.Requests)
		if pos, dup := positions[e.ID]; dup {
			next[pos] = e
			continue
		}
		positions[e.ID] = len(next)
		next = append(next, e)
	}
	event.SortEvents(next)

	r.events = next
	r.version++
	return r.snapshotLocked()
}

// Merge upserts events fetched by an incremental poll. An incoming origin payload replaces the cached one.
func (r *Reconciler) Merge(events []event.Event) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range events {
		if in.ID == "" {
			continue
		}
		r.upsertEventLocked(in.Clone(), true)
	}
	event.SortEvents(r.events)
	r.version++
	return r.snapshotLocked()
}

/* ApplyDelta applies one push change
 * UPDATE on a known event keeps the cached origin payload and the known requests
 * Unknown targets on INSERT/UPDATE are inserted, DELETE of unknown ids is a no-op
 */
func (r *Reconciler) ApplyDelta(c Change) (Snapshot, error) {
	if err := c.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("validating change: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch c.Table {
	case EventsTable:
		switch c.Type {
		case Insert, Update:
			r.upsertEventLocked(c.Event.Clone(), false)
			event.SortEvents(r.events)
		case Delete:
			r.removeEventLocked(c.Event.ID)
		}
	case RequestsTable:
		switch c.Type {
		case Insert, Update:
			r.upsertRequestLocked(c.Request.Clone())
		case Delete:
			r.removeRequestLocked(c.Request.EventID, c.Request.ID)
		}
	}
	r.version++
	return r.snapshotLocked(), nil
}

// AddRequest records an optimistically created request
func (r *Reconciler) AddRequest(req event.Request) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertRequestLocked(req.Clone())
	r.version++
	return r.snapshotLocked()
}

// UpdateRequest records the settled state of a request
func (r *Reconciler) UpdateRequest(req event.Request) Snapshot {
	return r.AddRequest(req)
}

/* UpdateEventStatus patches the status of a known event
 * Returns false when the event is unknown or the move would break the lifecycle
 */
func (r *Reconciler) UpdateEventStatus(id string, status event.Status, failedReason string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 || !r.events[idx].Status.CanTransition(status) {
		return r.snapshotLocked(), false
	}
	r.events[idx].Status = status
	r.events[idx].FailedReason = failedReason
	r.version++
	return r.snapshotLocked(), true
}

// IncrementRetry bumps the local retry count of an event
func (r *Reconciler) IncrementRetry(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return r.snapshotLocked(), false
	}
	r.events[idx].RetryCount++
	r.version++
	return r.snapshotLocked(), true
}

// SetOrigin fills in an origin payload for an event that has none cached
func (r *Reconciler) SetOrigin(id string, origin event.OriginPayload) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 || r.events[idx].Origin != nil {
		return r.snapshotLocked(), false
	}
	o := origin.Clone()
	r.events[idx].Origin = &o
	r.version++
	return r.snapshotLocked(), true
}

func (r *Reconciler) upsertEventLocked(in event.Event, incomingOriginWins bool) {
	event.SortRequests(in.Requests)
	idx := r.indexLocked(in.ID)
	if idx < 0 {
		r.events = append(r.events, in)
		return
	}

	existing := r.events[idx]
	switch {
	case existing.Origin == nil:
	case incomingOriginWins && in.Origin != nil:
	default:
		in.Origin = existing.Origin
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = existing.Timestamp
	}
	if in.WebhookID == "" {
		in.WebhookID = existing.WebhookID
	}
	if in.Source == "" {
		in.Source = existing.Source
	}
	if in.Status.Validate() != nil {
		in.Status = existing.Status
	}
	// partial rows omit the retry columns and the retry count never goes down
	in.RetryCount = max(in.RetryCount, existing.RetryCount)
	if in.MaxRetries == 0 {
		in.MaxRetries = existing.MaxRetries
	}
	if in.FailedReason == "" && in.Status == event.Failed {
		in.FailedReason = existing.FailedReason
	}
	in.Requests = mergeRequests(existing.Requests, in.Requests)
	r.events[idx] = in
}

func (r *Reconciler) upsertRequestLocked(req event.Request) {
	idx := r.indexLocked(req.EventID)
	if idx < 0 {
		r.events = append(r.events, event.Event{
			ID:        req.EventID,
			WebhookID: req.WebhookID,
			Status:    event.Pending,
			Timestamp: req.Timestamp,
			Requests:  []event.Request{req},
		})
		event.SortEvents(r.events)
		return
	}
	parent := &r.events[idx]
	parent.Requests = mergeRequests(parent.Requests, []event.Request{req})
}

func (r *Reconciler) removeEventLocked(id string) {
	idx := r.indexLocked(id)
	if idx < 0 {
		return
	}
	r.events = append(r.events[:idx], r.events[idx+1:]...)
}

func (r *Reconciler) removeRequestLocked(eventID, requestID string) {
	idx := r.indexLocked(eventID)
	if idx < 0 {
		return
	}
	requests := r.events[idx].Requests
	for i, req := range requests {
		if req.ID == requestID {
			r.events[idx].Requests = append(requests[:i], requests[i+1:]...)
			return
		}
	}
}

func (r *Reconciler) indexLocked(id string) int {
	for i, e := range r.events {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) snapshotLocked() Snapshot {
	return Snapshot{
		Version: r.version,
		Events:  event.CloneAll(r.events),
	}
}

// mergeRequests upserts incoming into existing by id and re-sorts. A settled request never goes back to pending.
func mergeRequests(existing, incoming []event.Request) []event.Request {
	if len(incoming) == 0 {
		return existing
	}
	out := make([]event.Request, len(existing), len(existing)+len(incoming))
	copy(out, existing)
	for _, in := range incoming {
		replaced := false
		for i, cur := range out {
			if cur.ID != in.ID {
				continue
			}
			replaced = true
			if cur.Status.IsFinal() && !in.Status.IsFinal() {
				break
			}
			if in.Destination.Name == "" {
				in.Destination = cur.Destination
			}
			if in.Timestamp.IsZero() {
				in.Timestamp = cur.Timestamp
			}
			out[i] = in
			break
		}
		if !replaced {
			out = append(out, in)
		}
	}
	event.SortRequests(out)
	return out
}
