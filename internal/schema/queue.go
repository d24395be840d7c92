package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is the remote operation recorded in a queue item.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpsert Action = "upsert"
	ActionDelete Action = "delete"
)

// MaxRetries is the per-item retry bound. An item that has failed this many
// times is removed from the active queue and dead-lettered.
const MaxRetries = 3

// SyncQueueItem is a durable record of one pending local mutation awaiting
// remote acknowledgment. ID is assigned by the local store on append; the
// queue is always processed in non-decreasing EnqueuedAt order.
type SyncQueueItem struct {
	ID         int64           `json:"id"`
	Table      string          `json:"table"`
	Action     Action          `json:"action"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Retries    int             `json:"retries"`
}

// Validate checks field values.
func (q *SyncQueueItem) Validate() error {
	if q.Table == "" {
		return fmt.Errorf("table is required")
	}
	switch q.Action {
	case ActionInsert, ActionUpsert, ActionDelete:
	default:
		return fmt.Errorf("unknown action %q", q.Action)
	}
	if q.Retries < 0 || q.Retries > MaxRetries {
		return fmt.Errorf("retries out of range: %d", q.Retries)
	}
	return nil
}

// Exhausted reports whether the item has reached the retry bound.
func (q *SyncQueueItem) Exhausted() bool {
	return q.Retries >= MaxRetries
}
