package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/marcelsud/webhook-relay/event"
	"github.com/marcelsud/webhook-relay/reconciler"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const changeSchemaURL = "change.schema.json"

const changeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["table", "type"],
  "properties": {
    "table": {"enum": ["events", "requests"]},
    "type": {"enum": ["INSERT", "UPDATE", "DELETE"]},
    "record": {"type": ["object", "null"]},
    "old_record": {"type": ["object", "null"]}
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"enum": ["INSERT", "UPDATE"]}}},
      "then": {"required": ["record"], "properties": {"record": {"type": "object"}}}
    },
    {
      "if": {"properties": {"table": {"const": "events"}}},
      "then": {
        "properties": {
          "record": {"$ref": "#/$defs/eventRow"},
          "old_record": {"$ref": "#/$defs/eventKey"}
        }
      }
    },
    {
      "if": {"properties": {"table": {"const": "requests"}}},
      "then": {
        "properties": {
          "record": {"$ref": "#/$defs/requestRow"},
          "old_record": {"$ref": "#/$defs/requestKey"}
        }
      }
    }
  ],
  "$defs": {
    "status": {"enum": ["pending", "processing", "completed", "failed"]},
    "eventKey": {
      "type": ["object", "null"],
      "properties": {"id": {"type": "string", "minLength": 1}}
    },
    "eventRow": {
      "type": ["object", "null"],
      "required": ["id"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "webhook_id": {"type": "string"},
        "status": {"$ref": "#/$defs/status"},
        "timestamp": {"type": "string"},
        "retry_count": {"type": "integer", "minimum": 0},
        "max_retries": {"type": "integer", "minimum": 0}
      }
    },
    "requestKey": {
      "type": ["object", "null"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "event_id": {"type": "string", "minLength": 1}
      }
    },
    "requestRow": {
      "type": ["object", "null"],
      "required": ["id", "event_id"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "event_id": {"type": "string", "minLength": 1},
        "status": {"enum": ["pending", "completed", "failed"]},
        "timestamp": {"type": "string"},
        "response_time_ms": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

var compiledChangeSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(changeSchema))
	if err != nil {
		return nil, fmt.Errorf("parsing change schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(changeSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("adding change schema: %w", err)
	}
	return c.Compile(changeSchemaURL)
})

type wireChange struct {
	Table     string          `json:"table"`
	Type      string          `json:"type"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record"`
}

/* DecodeChange validates an untyped change record and coerces it into a typed change
 * DELETE takes its identifiers from old_record, falling back to record
 */
func DecodeChange(raw RawChange) (reconciler.Change, error) {
	schema, err := compiledChangeSchema()
	if err != nil {
		return reconciler.Change{}, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return reconciler.Change{}, fmt.Errorf("parsing change: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return reconciler.Change{}, fmt.Errorf("validating change: %w", err)
	}

	var w wireChange
	if err := json.Unmarshal(raw, &w); err != nil {
		return reconciler.Change{}, fmt.Errorf("decoding change: %w", err)
	}
	changeType, err := reconciler.NewChangeType(w.Type)
	if err != nil {
		return reconciler.Change{}, err
	}

	record := w.Record
	if changeType == reconciler.Delete && !isNull(w.OldRecord) {
		record = w.OldRecord
	}
	if isNull(record) {
		return reconciler.Change{}, fmt.Errorf("%s on %s carries no record", w.Type, w.Table)
	}

	change := reconciler.Change{Table: reconciler.Table(w.Table), Type: changeType}
	switch change.Table {
	case reconciler.EventsTable:
		var e event.Event
		if err := json.Unmarshal(record, &e); err != nil {
			return reconciler.Change{}, fmt.Errorf("decoding event record: %w", err)
		}
		change.Event = &e
	case reconciler.RequestsTable:
		var r event.Request
		if err := json.Unmarshal(record, &r); err != nil {
			return reconciler.Change{}, fmt.Errorf("decoding request record: %w", err)
		}
		change.Request = &r
	}

	if err := change.Validate(); err != nil {
		return reconciler.Change{}, err
	}
	return change, nil
}

// EncodeChange renders a typed change in the wire shape DecodeChange accepts
func EncodeChange(c reconciler.Change) (RawChange, error) {
	w := wireChange{Table: string(c.Table), Type: c.Type.String()}
	var record any
	switch {
	case c.Type == reconciler.Delete && c.Event != nil:
		record = map[string]string{"id": c.Event.ID}
	case c.Type == reconciler.Delete && c.Request != nil:
		record = map[string]string{"id": c.Request.ID, "event_id": c.Request.EventID}
	case c.Event != nil:
		record = c.Event
	case c.Request != nil:
		record = c.Request
	}
	b, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	if c.Type == reconciler.Delete {
		w.OldRecord = b
	} else {
		w.Record = b
	}
	return json.Marshal(w)
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
