package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"reflect"
	"sort"
	"sync"

	"github.com/mealrota/mealrota/internal/localstore"
)

// SubscriberFunc receives the new and previous value at the subscribed path
// whenever a set touches that path or an ancestor/descendant of it.
type SubscriberFunc func(newValue, oldValue any, path string)

// GlobalFunc receives full before/after snapshots and the changed paths on
// every notifying set.
type GlobalFunc func(newState, oldState map[string]any, changedPaths []string)

type pathSub struct {
	id   uint64
	path string
	fn   SubscriberFunc
}

type globalSub struct {
	id uint64
	fn GlobalFunc
}

// Store owns the state tree. All mutation goes through Set; no component
// holds a writable alias into the tree. Set calls are serialized: a call
// fully completes (merge, persist, notify) before another begins.
type Store struct {
	mu      sync.Mutex
	tree    map[string]any
	db      *localstore.Store // nil degrades to in-memory-only operation
	logger  *log.Logger
	nextID  uint64
	subs    []pathSub
	globals []globalSub
}

// New constructs a store, loading the persisted snapshot (if any) and
// deep-merging it over compiled-in defaults so newly introduced default
// fields survive stale snapshots. A malformed snapshot falls back to
// defaults rather than failing startup.
func New(db *localstore.Store, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[state] ", log.LstdFlags)
	}

	defaults, err := ToMap(Defaults())
	if err != nil {
		return nil, fmt.Errorf("failed to build default tree: %w", err)
	}

	s := &Store{
		tree:   defaults,
		db:     db,
		logger: logger,
	}

	if db != nil {
		blobs, err := db.GetDomains(context.Background())
		if err != nil {
			// Storage-unavailable: degrade to in-memory defaults.
			logger.Printf("Warning: failed to load snapshot, using defaults: %v", err)
			return s, nil
		}
		snapshot := make(map[string]any)
		for _, domain := range PersistedDomains {
			blob, ok := blobs[domain]
			if !ok {
				continue
			}
			var val any
			if err := json.Unmarshal(blob, &val); err != nil {
				logger.Printf("Warning: malformed snapshot for domain %q, using defaults: %v", domain, err)
				continue
			}
			snapshot[domain] = val
		}
		merge(s.tree, snapshot, "")
	}
	return s, nil
}

// SetOption adjusts the side effects of one Set call.
type SetOption func(*setConfig)

type setConfig struct {
	persist bool
	notify  bool
	replace []string
}

// WithoutPersist skips the snapshot rewrite for this set.
func WithoutPersist() SetOption {
	return func(c *setConfig) { c.persist = false }
}

// WithoutNotify skips subscriber notification for this set.
func WithoutNotify() SetOption {
	return func(c *setConfig) { c.notify = false }
}

// WithReplaceDomains resets the named top-level domains to their defaults
// before merging, so the update replaces them wholesale instead of merging
// into them. A plain merge can never remove a map key; cloud-wins overwrites
// need this.
func WithReplaceDomains(domains ...string) SetOption {
	return func(c *setConfig) { c.replace = append(c.replace, domains...) }
}

// Set deep-merges the partial update into the tree. Objects merge
// recursively; arrays and scalars replace wholesale. The merge, snapshot
// rewrite, and notification all complete before Set returns. Only a failure
// of the local snapshot write is returned; notification errors do not exist
// (handlers are isolated by the callers that registered them).
func (s *Store) Set(update map[string]any, opts ...SetOption) error {
	cfg := setConfig{persist: true, notify: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	// Normalize through JSON so the tree stays in canonical form (float64
	// numbers, map[string]any objects) no matter what typed values the caller
	// put in the update.
	update, err := ToMap(update)
	if err != nil {
		return fmt.Errorf("failed to normalize update: %w", err)
	}

	var replaceDefaults map[string]any
	if len(cfg.replace) > 0 {
		replaceDefaults, err = ToMap(Defaults())
		if err != nil {
			return fmt.Errorf("failed to build default tree: %w", err)
		}
	}

	s.mu.Lock()
	oldTree := deepCopyTree(s.tree)
	for _, domain := range cfg.replace {
		if def, ok := replaceDefaults[domain]; ok {
			s.tree[domain] = deepCopyValue(def)
		}
	}
	changed := merge(s.tree, update, "")
	for _, domain := range cfg.replace {
		if !hasOverlap(changed, domain) && !reflect.DeepEqual(oldTree[domain], s.tree[domain]) {
			changed = append(changed, domain)
		}
	}
	sort.Strings(changed)

	var persistErr error
	if cfg.persist && len(changed) > 0 {
		persistErr = s.persistLocked()
	}

	var notifications []func()
	if cfg.notify && len(changed) > 0 {
		notifications = s.collectNotificationsLocked(oldTree, changed)
	}
	s.mu.Unlock()

	for _, notify := range notifications {
		notify()
	}
	return persistErr
}

// persistLocked rewrites the snapshot for every persisted domain wholesale.
// Caller holds s.mu.
func (s *Store) persistLocked() error {
	if s.db == nil {
		return nil
	}
	blobs := make(map[string][]byte, len(PersistedDomains))
	for _, domain := range PersistedDomains {
		val, ok := s.tree[domain]
		if !ok {
			continue
		}
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("failed to encode domain %q: %w", domain, err)
		}
		blobs[domain] = data
	}
	if err := s.db.PutDomains(context.Background(), blobs); err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return nil
}

// collectNotificationsLocked builds the callback invocations for a completed
// merge. Callbacks run after the lock is released so a handler may call Set
// again without deadlocking; merges themselves never interleave.
func (s *Store) collectNotificationsLocked(oldTree map[string]any, changed []string) []func() {
	newTree := deepCopyTree(s.tree)
	var out []func()

	for _, sub := range s.subs {
		fired := false
		for _, path := range changed {
			if pathsOverlap(sub.path, path) {
				fired = true
				break
			}
		}
		if !fired {
			continue
		}
		newVal, _ := lookup(newTree, sub.path)
		oldVal, _ := lookup(oldTree, sub.path)
		fn, p := sub.fn, sub.path
		out = append(out, func() { fn(newVal, oldVal, p) })
	}

	for _, g := range s.globals {
		fn := g.fn
		out = append(out, func() { fn(newTree, oldTree, changed) })
	}
	return out
}

// Get returns the value at the dot-scoped path, or ok=false if absent.
// The returned value is a copy; mutating it does not affect the tree.
func (s *Store) Get(path string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := lookup(s.tree, path)
	if !ok {
		return nil, false
	}
	return deepCopyValue(val), true
}

// FullTree returns a read-only copy of the entire tree.
func (s *Store) FullTree() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopyTree(s.tree)
}

// Subscribe registers a callback for changes at path (or any
// ancestor/descendant of it). Returns an unsubscribe function.
func (s *Store) Subscribe(path string, fn SubscriberFunc) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, pathSub{id: id, path: path, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeGlobal registers a callback invoked on every notifying set with
// full before/after snapshots and the changed paths.
func (s *Store) SubscribeGlobal(fn GlobalFunc) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.globals = append(s.globals, globalSub{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, g := range s.globals {
			if g.id == id {
				s.globals = append(s.globals[:i:i], s.globals[i+1:]...)
				return
			}
		}
	}
}

// ResetState restores the named domains (or all domains if none are given)
// to compiled-in defaults, persists, and notifies.
func (s *Store) ResetState(domains ...string) error {
	defaults, err := ToMap(Defaults())
	if err != nil {
		return fmt.Errorf("failed to build default tree: %w", err)
	}
	if len(domains) == 0 {
		for domain := range defaults {
			domains = append(domains, domain)
		}
		sort.Strings(domains)
	}

	s.mu.Lock()
	oldTree := deepCopyTree(s.tree)
	var changed []string
	for _, domain := range domains {
		def, ok := defaults[domain]
		if !ok {
			continue
		}
		s.tree[domain] = deepCopyValue(def)
		changed = append(changed, domain)
	}
	persistErr := s.persistLocked()
	notifications := s.collectNotificationsLocked(oldTree, changed)
	s.mu.Unlock()

	for _, notify := range notifications {
		notify()
	}
	return persistErr
}

// ExportState serializes the entire tree with full fidelity.
func (s *Store) ExportState() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(s.tree, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to export state: %w", err)
	}
	return data, nil
}

// ImportState replaces the tree with the serialized form deep-merged over
// compiled-in defaults, exactly like startup load: fields absent from the
// import keep their defaults. Persists and notifies.
func (s *Store) ImportState(serialized []byte) error {
	var imported map[string]any
	if err := json.Unmarshal(serialized, &imported); err != nil {
		return fmt.Errorf("failed to parse imported state: %w", err)
	}
	defaults, err := ToMap(Defaults())
	if err != nil {
		return fmt.Errorf("failed to build default tree: %w", err)
	}

	s.mu.Lock()
	oldTree := s.tree
	s.tree = defaults
	changed := merge(s.tree, imported, "")
	sort.Strings(changed)
	persistErr := s.persistLocked()
	notifications := s.collectNotificationsLocked(oldTree, changed)
	s.mu.Unlock()

	for _, notify := range notifications {
		notify()
	}
	return persistErr
}

// Typed accessors.

// Settings decodes the settings domain.
func (s *Store) Settings() (Settings, error) {
	var out Settings
	val, _ := s.Get("settings")
	if err := DecodeDomain(val, &out); err != nil {
		return Settings{}, err
	}
	return out, nil
}

// SyncStatus decodes the sync domain.
func (s *Store) SyncStatus() (SyncStatus, error) {
	var out SyncStatus
	val, _ := s.Get("sync")
	if err := DecodeDomain(val, &out); err != nil {
		return SyncStatus{}, err
	}
	return out, nil
}

// Typed decodes the full tree.
func (s *Store) Typed() (Tree, error) {
	var out Tree
	if err := DecodeDomain(s.FullTree(), &out); err != nil {
		return Tree{}, err
	}
	return out, nil
}
