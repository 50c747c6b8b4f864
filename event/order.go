package event

import "sort"

// SortEvents orders events newest first. Equal timestamps fall back to id so the order is deterministic.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].ID > events[j].ID
		}
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}

// SortRequests orders requests newest first
func SortRequests(requests []Request) {
	sort.SliceStable(requests, func(i, j int) bool {
		if requests[i].Timestamp.Equal(requests[j].Timestamp) {
			return requests[i].ID > requests[j].ID
		}
		return requests[i].Timestamp.After(requests[j].Timestamp)
	})
}

// IsSorted reports whether events and their requests respect the newest-first ordering
func IsSorted(events []Event) bool {
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.After(events[i-1].Timestamp) {
			return false
		}
	}
	for _, e := range events {
		for i := 1; i < len(e.Requests); i++ {
			if e.Requests[i].Timestamp.After(e.Requests[i-1].Timestamp) {
				return false
			}
		}
	}
	return true
}

// IDs returns the ids of the given events in order
func IDs(events []Event) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return ids
}
