// Package syncer drains the durable sync queue to the cloud backend and pulls
// cloud state down over local state. Pushes are at-least-once: an item leaves
// the queue only after the backend acknowledged it, and a crash between
// acknowledgment and removal redelivers on restart.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/mealrota/mealrota/internal/bus"
	"github.com/mealrota/mealrota/internal/connectivity"
	"github.com/mealrota/mealrota/internal/localstore"
	"github.com/mealrota/mealrota/internal/remote"
	"github.com/mealrota/mealrota/internal/schema"
	"github.com/mealrota/mealrota/internal/state"
)

// PassResult summarizes one sync pass. Published as the payload of
// sync.completed.
type PassResult struct {
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}

// Manager owns the push/pull cycle. At most one pass runs at a time; a pass
// requested while one is in flight is a no-op, and items enqueued during a
// pass wait for the next one.
type Manager struct {
	db      *localstore.Store
	state   *state.Store
	bus     *bus.Bus
	monitor *connectivity.Monitor
	client  remote.Client // nil means not configured; engine stays passive
	logger  *log.Logger

	interval time.Duration

	// In-pass retry around each backend call. A transient blip is absorbed
	// here; only a call that keeps failing counts against the item's
	// lifetime retry bound.
	pushTries uint
	pushDelay time.Duration

	mu      sync.Mutex
	syncing bool

	triggers chan struct{}
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool
	unsub    func()
}

// New wires the engine. client may be nil when no backend is configured;
// every pass then no-ops and enqueued items accumulate durably.
func New(db *localstore.Store, st *state.Store, b *bus.Bus, monitor *connectivity.Monitor, client remote.Client, interval time.Duration, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Manager{
		db:        db,
		state:     st,
		bus:       b,
		monitor:   monitor,
		client:    client,
		logger:    logger,
		interval:  interval,
		pushTries: 3,
		pushDelay: 500 * time.Millisecond,
		triggers:  make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Init restores the queue depth into the state tree, reacts to connectivity
// transitions, and starts the periodic pass loop with an immediate first
// pass.
func (m *Manager) Init(ctx context.Context) error {
	pending, err := m.db.QueueLen(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore sync queue: %w", err)
	}
	m.setSyncStatus(map[string]any{
		"pendingChanges": pending,
		"isOnline":       m.monitor.IsOnline(),
	})
	if pending > 0 {
		m.logger.Printf("Restored %d pending change(s) from previous session", pending)
	}

	m.unsub = m.bus.Subscribe(bus.EventConnectivityChanged, func(event string, payload any) {
		online, _ := payload.(bool)
		m.setSyncStatus(map[string]any{"isOnline": online})
		if online {
			m.TriggerSync()
		}
	})

	m.started = true
	go m.loop(ctx)
	m.TriggerSync()
	return nil
}

// Stop halts the pass loop. Safe to call once after Init.
func (m *Manager) Stop() {
	if m.unsub != nil {
		m.unsub()
	}
	m.stopOnce.Do(func() { close(m.stop) })
	if m.started {
		<-m.done
	}
}

// TriggerSync requests a pass without blocking. Collapses with an already
// pending request.
func (m *Manager) TriggerSync() {
	select {
	case m.triggers <- struct{}{}:
	default:
	}
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-m.triggers:
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
		if _, err := m.RunPass(ctx); err != nil {
			m.logger.Printf("Sync pass failed: %v", err)
		}
	}
}

// Enqueue durably records one outbound change. The append commits before
// Enqueue returns; a crash immediately after cannot lose the item. Requests
// a pass when online.
func (m *Manager) Enqueue(ctx context.Context, table string, action schema.Action, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", table, err)
	}
	item := &schema.SyncQueueItem{
		Table:      table,
		Action:     action,
		Payload:    data,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := item.Validate(); err != nil {
		return err
	}
	if _, err := m.db.AppendQueueItem(ctx, item); err != nil {
		return fmt.Errorf("failed to enqueue change: %w", err)
	}

	pending, err := m.db.QueueLen(ctx)
	if err == nil {
		m.setSyncStatus(map[string]any{"pendingChanges": pending})
	}
	if m.monitor.IsOnline() {
		m.TriggerSync()
	}
	return nil
}

// RunPass drains the queue snapshot in enqueue order. No-op when a pass is
// already running, when offline, or when no backend is configured. Items that
// fail have their retry count bumped; an item that reaches the retry bound is
// moved to the dead letter table and dropped from the queue.
func (m *Manager) RunPass(ctx context.Context) (PassResult, error) {
	m.mu.Lock()
	if m.syncing {
		m.mu.Unlock()
		return PassResult{}, nil
	}
	if m.client == nil || !m.monitor.IsOnline() {
		m.mu.Unlock()
		return PassResult{}, nil
	}
	m.syncing = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.syncing = false
		m.mu.Unlock()
	}()

	items, err := m.db.LoadQueue(ctx)
	if err != nil {
		err = fmt.Errorf("failed to load sync queue: %w", err)
		m.bus.Publish(bus.EventSyncFailed, err)
		return PassResult{}, err
	}
	if len(items) == 0 {
		var result PassResult
		m.finishPass(ctx, &result)
		return result, nil
	}

	m.bus.Publish(bus.EventSyncStarted, len(items))
	m.logger.Printf("Sync pass: %d item(s) queued", len(items))

	var result PassResult
	for _, item := range items {
		// Going offline mid-pass leaves the remainder pending for the
		// next pass.
		if !m.monitor.IsOnline() {
			m.logger.Print("Went offline mid-pass, deferring remaining items")
			break
		}

		if err := m.dispatch(ctx, item); err != nil {
			result.Failed++
			m.handleFailure(ctx, item, err)
			continue
		}
		if err := m.db.DeleteQueueItem(ctx, item.ID); err != nil {
			// The backend has the change; redelivery on the next pass is
			// the at-least-once contract working as intended.
			m.logger.Printf("Failed to remove acknowledged item %d: %v", item.ID, err)
		}
		result.Synced++
	}

	m.finishPass(ctx, &result)
	return result, nil
}

// ForcePush re-enqueues every record in the state mirror as an upsert and runs
// a pass, pushing the full local dataset to the backend. Items already queued
// keep their place ahead of the re-enqueued ones.
func (m *Manager) ForcePush(ctx context.Context) (PassResult, error) {
	tree, err := m.state.Typed()
	if err != nil {
		return PassResult{}, fmt.Errorf("failed to read local state for force push: %w", err)
	}

	for _, code := range sortedKeys(tree.Meals) {
		rec, err := upsertRecord(tree.Meals[code], code, map[string]any{"archived": false})
		if err != nil {
			return PassResult{}, err
		}
		if err := m.Enqueue(ctx, TableMeals, schema.ActionUpsert, rec); err != nil {
			return PassResult{}, err
		}
	}
	for _, code := range sortedKeys(tree.ArchivedMeals) {
		rec, err := upsertRecord(tree.ArchivedMeals[code], code, map[string]any{"archived": true})
		if err != nil {
			return PassResult{}, err
		}
		if err := m.Enqueue(ctx, TableMeals, schema.ActionUpsert, rec); err != nil {
			return PassResult{}, err
		}
	}
	for _, entry := range tree.CookingLog {
		rec, err := upsertRecord(entry, entry.ID(), nil)
		if err != nil {
			return PassResult{}, err
		}
		if err := m.Enqueue(ctx, TableCookingLog, schema.ActionUpsert, rec); err != nil {
			return PassResult{}, err
		}
	}
	for _, trip := range tree.ShoppingTrips {
		rec, err := upsertRecord(trip, trip.ID(), nil)
		if err != nil {
			return PassResult{}, err
		}
		if err := m.Enqueue(ctx, TableShoppingTrips, schema.ActionUpsert, rec); err != nil {
			return PassResult{}, err
		}
	}
	for _, key := range sortedKeys(tree.IngredientPrices) {
		rec, err := upsertRecord(tree.IngredientPrices[key], key, nil)
		if err != nil {
			return PassResult{}, err
		}
		if err := m.Enqueue(ctx, TablePrices, schema.ActionUpsert, rec); err != nil {
			return PassResult{}, err
		}
	}

	return m.RunPass(ctx)
}

// upsertRecord flattens v into a wire record carrying its cloud id.
func upsertRecord(v any, id string, extra map[string]any) (remote.Record, error) {
	rec, err := state.ToMap(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record %q: %w", id, err)
	}
	rec["id"] = id
	for k, val := range extra {
		rec[k] = val
	}
	return remote.Record(rec), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Manager) dispatch(ctx context.Context, item schema.SyncQueueItem) error {
	var record remote.Record
	if err := json.Unmarshal(item.Payload, &record); err != nil {
		return fmt.Errorf("malformed payload for item %d: %w", item.ID, err)
	}
	var call func() error
	switch item.Action {
	case schema.ActionInsert:
		call = func() error { return m.client.Insert(ctx, item.Table, record) }
	case schema.ActionUpsert:
		call = func() error { return m.client.Upsert(ctx, item.Table, record) }
	case schema.ActionDelete:
		id, _ := record["id"].(string)
		if id == "" {
			return fmt.Errorf("delete payload for item %d missing id", item.ID)
		}
		call = func() error { return m.client.Delete(ctx, item.Table, id) }
	default:
		return fmt.Errorf("unknown action %q for item %d", item.Action, item.ID)
	}
	return remote.ExecuteWithRetry(ctx, m.pushTries, m.pushDelay, call)
}

func (m *Manager) handleFailure(ctx context.Context, item schema.SyncQueueItem, cause error) {
	m.logger.Printf("Failed to push %s %s (item %d): %v", item.Action, item.Table, item.ID, cause)

	retries, err := m.db.BumpRetry(ctx, item.ID)
	if err != nil {
		m.logger.Printf("Failed to record retry for item %d: %v", item.ID, err)
		return
	}
	if retries < schema.MaxRetries {
		return
	}

	item.Retries = retries
	reason := fmt.Sprintf("retry bound reached: %v", cause)
	if err := m.db.DeadLetter(ctx, item, reason); err != nil {
		m.logger.Printf("Failed to dead-letter item %d: %v", item.ID, err)
		return
	}
	m.logger.Printf("Dropped %s %s (item %d) after %d attempts", item.Action, item.Table, item.ID, retries)
}

// finishPass refreshes the sync domain and announces the outcome. Per-item
// failures are part of the completion payload; sync.failed carries pass-level
// errors only.
func (m *Manager) finishPass(ctx context.Context, result *PassResult) {
	if pending, err := m.db.QueueLen(ctx); err == nil {
		result.Pending = pending
	}
	m.setSyncStatus(map[string]any{
		"pendingChanges": result.Pending,
		"lastSyncTime":   time.Now().UTC().Format(time.RFC3339),
		"isOnline":       m.monitor.IsOnline(),
	})
	m.bus.Publish(bus.EventSyncCompleted, *result)
	m.logger.Printf("Sync pass complete: %d synced, %d failed, %d pending", result.Synced, result.Failed, result.Pending)
}

// setSyncStatus merges into the ephemeral sync domain. Never persisted.
func (m *Manager) setSyncStatus(fields map[string]any) {
	err := m.state.Set(map[string]any{"sync": fields}, state.WithoutPersist())
	if err != nil {
		m.logger.Printf("Failed to update sync status: %v", err)
	}
}
