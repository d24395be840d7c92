package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mealrota/mealrota/internal/schema"
)

// AppendQueueItem durably appends a new pending item and returns its assigned
// ordinal id. The EnqueuedAt timestamp is taken from the item (set by the
// caller) so ordering matches enqueue time, not commit time.
func (s *Store) AppendQueueItem(ctx context.Context, item *schema.SyncQueueItem) (int64, error) {
	if err := item.Validate(); err != nil {
		return 0, fmt.Errorf("invalid queue item: %w", err)
	}

	res, err := s.conn.ExecContext(ctx, `
	INSERT INTO sync_queue (target_table, action, payload, enqueued_at, retries)
	VALUES (?, ?, ?, ?, ?)`,
		item.Table,
		string(item.Action),
		string(item.Payload),
		item.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		item.Retries,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append queue item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue item id: %w", err)
	}
	return id, nil
}

// LoadQueue returns every pending item in non-decreasing enqueue-timestamp
// order (id breaks ties, preserving append order within a timestamp).
func (s *Store) LoadQueue(ctx context.Context) ([]schema.SyncQueueItem, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, target_table, action, payload, enqueued_at, retries
	FROM sync_queue ORDER BY enqueued_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}
	defer rows.Close()

	var items []schema.SyncQueueItem
	for rows.Next() {
		var item schema.SyncQueueItem
		var action, payload, enqueuedAt string
		if err := rows.Scan(&item.ID, &item.Table, &action, &payload, &enqueuedAt, &item.Retries); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		item.Action = schema.Action(action)
		item.Payload = json.RawMessage(payload)
		t, err := time.Parse(time.RFC3339Nano, enqueuedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse enqueued_at for item %d: %w", item.ID, err)
		}
		item.EnqueuedAt = t
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue: %w", err)
	}
	return items, nil
}

// DeleteQueueItem removes an item after remote acknowledgment or drop.
// Idempotent.
func (s *Store) DeleteQueueItem(ctx context.Context, id int64) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete queue item %d: %w", id, err)
	}
	return nil
}

// BumpRetry increments the retry counter of an item and returns the new
// count.
func (s *Store) BumpRetry(ctx context.Context, id int64) (int, error) {
	if _, err := s.conn.ExecContext(ctx, "UPDATE sync_queue SET retries = retries + 1 WHERE id = ?", id); err != nil {
		return 0, fmt.Errorf("failed to bump retry for item %d: %w", id, err)
	}
	var retries int
	err := s.conn.QueryRowContext(ctx, "SELECT retries FROM sync_queue WHERE id = ?", id).Scan(&retries)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read retries for item %d: %w", id, err)
	}
	return retries, nil
}

// QueueLen returns the number of pending items.
func (s *Store) QueueLen(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

// DeadLetter moves an exhausted item into the dead-letter table and removes
// it from the active queue in one transaction, preserving the full payload
// for operator inspection.
func (s *Store) DeadLetter(ctx context.Context, item schema.SyncQueueItem, reason string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO dead_letter (queue_id, target_table, action, payload, enqueued_at, retries, dropped_at, reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.Table,
		string(item.Action),
		string(item.Payload),
		item.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		item.Retries,
		time.Now().UTC().Format(time.RFC3339Nano),
		reason,
	)
	if err != nil {
		return fmt.Errorf("failed to dead-letter item %d: %w", item.ID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", item.ID); err != nil {
		return fmt.Errorf("failed to remove dead-lettered item %d: %w", item.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dead-letter transaction: %w", err)
	}
	return nil
}

// DeadLetterCount returns the number of dead-lettered items.
func (s *Store) DeadLetterCount(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM dead_letter").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count dead letter: %w", err)
	}
	return n, nil
}

// PutDomains rewrites the given domain snapshot blobs in one transaction.
// The state store persists its allow-listed domains wholesale through this.
func (s *Store) PutDomains(ctx context.Context, blobs map[string][]byte) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for name, data := range blobs {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO domains (name, data, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at`,
			name, string(data), now)
		if err != nil {
			return fmt.Errorf("failed to persist domain %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit domain snapshot: %w", err)
	}
	return nil
}

// GetDomains returns every persisted domain snapshot blob.
func (s *Store) GetDomains(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT name, data FROM domains")
	if err != nil {
		return nil, fmt.Errorf("failed to load domains: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var name, data string
		if err := rows.Scan(&name, &data); err != nil {
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		out[name] = []byte(data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating domains: %w", err)
	}
	return out, nil
}

// DeleteDomain removes a persisted domain snapshot. Idempotent.
func (s *Store) DeleteDomain(ctx context.Context, name string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM domains WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to delete domain %s: %w", name, err)
	}
	return nil
}
