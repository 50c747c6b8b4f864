package reconciler

import (
	"fmt"

	"github.com/marcelsud/webhook-relay/event"
)

/* ChangeType is the kind of row change carried by a delta
 * INSERT and UPDATE upsert, DELETE removes
 */
type ChangeType int

const (
	Insert ChangeType = iota + 1
	Update
	Delete
)

// String returns the string representation of the change type
func (c ChangeType) String() string {
	switch c {
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// NewChangeType creates a ChangeType from its wire name
func NewChangeType(s string) (ChangeType, error) {
	switch s {
	case "INSERT":
		return Insert, nil
	case "UPDATE":
		return Update, nil
	case "DELETE":
		return Delete, nil
	default:
		return 0, fmt.Errorf("invalid change type: %q", s)
	}
}

// Table names the collection a change applies to
type Table string

const (
	EventsTable   Table = "events"
	RequestsTable Table = "requests"
)

// Validate checks if the table is known
func (t Table) Validate() error {
	if t != EventsTable && t != RequestsTable {
		return fmt.Errorf("invalid table: %q", string(t))
	}
	return nil
}

/* Change is a typed delta record
 * Exactly one of Event or Request is set, matching Table
 * For DELETE only the identifiers are required
 */
type Change struct {
	Table   Table
	Type    ChangeType
	Event   *event.Event
	Request *event.Request
}

// Validate checks that the change carries what its table and type require
func (c Change) Validate() error {
	if err := c.Table.Validate(); err != nil {
		return err
	}
	if c.Type < Insert || c.Type > Delete {
		return fmt.Errorf("invalid change type: %d", c.Type)
	}
	switch c.Table {
	case EventsTable:
		if c.Event == nil || c.Event.ID == "" {
			return fmt.Errorf("%s on %s requires an event id", c.Type, c.Table)
		}
	case RequestsTable:
		if c.Request == nil || c.Request.ID == "" {
			return fmt.Errorf("%s on %s requires a request id", c.Type, c.Table)
		}
		if c.Request.EventID == "" {
			return fmt.Errorf("%s on %s requires the parent event id", c.Type, c.Table)
		}
	}
	return nil
}

// EventID returns the id of the event the change touches
func (c Change) EventID() string {
	if c.Event != nil {
		return c.Event.ID
	}
	if c.Request != nil {
		return c.Request.EventID
	}
	return ""
}
