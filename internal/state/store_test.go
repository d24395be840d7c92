package state

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mealrota/mealrota/internal/localstore"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func memoryStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(nil, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s
}

func durableStore(t *testing.T, path string) (*Store, *localstore.Store) {
	t.Helper()
	db, err := localstore.Open(path, testLogger())
	if err != nil {
		t.Fatalf("localstore.Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := New(db, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s, db
}

// TestSet_DeepMerge covers the merge correctness property: sibling fields of
// a merged object survive, and the subscriber fires once with old and new
// values.
func TestSet_DeepMerge(t *testing.T) {
	s := memoryStore(t)

	if err := s.Set(map[string]any{"settings": map[string]any{"householdName": "X"}}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	var calls int
	var gotNew, gotOld any
	s.Subscribe("settings.weeklyBudget", func(newValue, oldValue any, path string) {
		calls++
		gotNew, gotOld = newValue, oldValue
	})

	if err := s.Set(map[string]any{"settings": map[string]any{"weeklyBudget": 250}}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	name, _ := s.Get("settings.householdName")
	if name != "X" {
		t.Errorf("householdName = %v, want X (sibling clobbered by merge)", name)
	}
	budget, _ := s.Get("settings.weeklyBudget")
	if budget != float64(250) {
		t.Errorf("weeklyBudget = %v, want 250", budget)
	}

	if calls != 1 {
		t.Fatalf("subscriber invoked %d times, want 1", calls)
	}
	if gotNew != float64(250) {
		t.Errorf("subscriber new value = %v, want 250", gotNew)
	}
	if gotOld != float64(0) {
		t.Errorf("subscriber old value = %v, want 0", gotOld)
	}
}

func TestSet_ArraysReplaceWholesale(t *testing.T) {
	s := memoryStore(t)

	if err := s.Set(map[string]any{"rotationOrder": []any{"M1", "M2"}}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(map[string]any{"rotationOrder": []any{"M3"}}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	got, _ := s.Get("rotationOrder")
	want := []any{"M3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("rotationOrder = %v, want %v", got, want)
	}
}

func TestSubscribe_AncestorAndDescendant(t *testing.T) {
	s := memoryStore(t)

	var ancestorCalls, descendantCalls int
	s.Subscribe("settings", func(newValue, oldValue any, path string) {
		ancestorCalls++
	})
	s.Subscribe("settings.currency", func(newValue, oldValue any, path string) {
		descendantCalls++
	})

	// Changing a leaf notifies the ancestor subscription.
	if err := s.Set(map[string]any{"settings": map[string]any{"weeklyBudget": 100}}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if ancestorCalls != 1 {
		t.Errorf("ancestor subscriber calls = %d, want 1", ancestorCalls)
	}
	// weeklyBudget change does not touch settings.currency's subtree... but it
	// does touch its ancestor "settings", so the descendant fires too.
	if descendantCalls != 0 {
		// settings.currency overlaps settings.weeklyBudget only via "settings";
		// a change at settings.weeklyBudget is neither ancestor nor descendant
		// of settings.currency.
		t.Errorf("sibling-leaf subscriber calls = %d, want 0", descendantCalls)
	}

	// Replacing the whole domain notifies the leaf subscription.
	if err := s.Set(map[string]any{"settings": map[string]any{"currency": "EUR"}}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if descendantCalls != 1 {
		t.Errorf("leaf subscriber calls = %d, want 1", descendantCalls)
	}
}

func TestSubscribeGlobal(t *testing.T) {
	s := memoryStore(t)

	var changed []string
	s.SubscribeGlobal(func(newState, oldState map[string]any, changedPaths []string) {
		changed = changedPaths
	})

	if err := s.Set(map[string]any{"tags": []any{"quick"}}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if len(changed) != 1 || changed[0] != "tags" {
		t.Errorf("changed paths = %v, want [tags]", changed)
	}
}

func TestSet_NoNotifyWhenUnchanged(t *testing.T) {
	s := memoryStore(t)

	var calls int
	s.Subscribe("settings.currency", func(newValue, oldValue any, path string) {
		calls++
	})

	// Same value as default: no change, no notification.
	if err := s.Set(map[string]any{"settings": map[string]any{"currency": "USD"}}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if calls != 0 {
		t.Errorf("subscriber fired %d times for a no-op set", calls)
	}
}

func TestUnsubscribe(t *testing.T) {
	s := memoryStore(t)

	var calls int
	unsub := s.Subscribe("tags", func(newValue, oldValue any, path string) {
		calls++
	})

	s.Set(map[string]any{"tags": []any{"a"}})
	unsub()
	s.Set(map[string]any{"tags": []any{"b"}})

	if calls != 1 {
		t.Errorf("subscriber calls = %d, want 1", calls)
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	s := memoryStore(t)

	updates := map[string]any{
		"settings": map[string]any{"householdName": "Nordli", "weeklyBudget": 180},
		"meals": map[string]any{
			"M1": map[string]any{"code": "M1", "name": "Chili", "servings": 4},
		},
		"rotationOrder": []any{"M1"},
	}
	if err := s.Set(updates); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	before := s.FullTree()
	exported, err := s.ExportState()
	if err != nil {
		t.Fatalf("ExportState() failed: %v", err)
	}
	if err := s.ImportState(exported); err != nil {
		t.Fatalf("ImportState() failed: %v", err)
	}
	after := s.FullTree()

	if !reflect.DeepEqual(before, after) {
		t.Errorf("import(export()) changed the tree:\nbefore: %v\nafter:  %v", before, after)
	}
}

func TestImport_AbsentFieldsKeepDefaults(t *testing.T) {
	s := memoryStore(t)

	if err := s.ImportState([]byte(`{"settings":{"weeklyBudget":99}}`)); err != nil {
		t.Fatalf("ImportState() failed: %v", err)
	}

	budget, _ := s.Get("settings.weeklyBudget")
	if budget != float64(99) {
		t.Errorf("weeklyBudget = %v, want 99", budget)
	}
	servings, _ := s.Get("settings.defaultServings")
	if servings != float64(2) {
		t.Errorf("defaultServings = %v, want default 2", servings)
	}
}

func TestResetState_Domains(t *testing.T) {
	s := memoryStore(t)

	s.Set(map[string]any{
		"settings": map[string]any{"weeklyBudget": 300},
		"tags":     []any{"spicy"},
	})

	if err := s.ResetState("settings"); err != nil {
		t.Fatalf("ResetState() failed: %v", err)
	}

	budget, _ := s.Get("settings.weeklyBudget")
	if budget != float64(0) {
		t.Errorf("weeklyBudget after reset = %v, want 0", budget)
	}
	tags, _ := s.Get("tags")
	if !reflect.DeepEqual(tags, []any{"spicy"}) {
		t.Errorf("tags were reset but should not have been: %v", tags)
	}
}

// TestPersistence_ReloadMergesOverDefaults verifies the startup rule: the
// snapshot merges over defaults so stale snapshots cannot clobber newly
// introduced default fields, and persisted mutations survive restart.
func TestPersistence_ReloadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s1, db1 := durableStore(t, path)
	if err := s1.Set(map[string]any{
		"settings": map[string]any{"householdName": "Nordli"},
		"ui":       map[string]any{"activeView": "prices"},
	}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := db1.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	s2, _ := durableStore(t, path)
	name, _ := s2.Get("settings.householdName")
	if name != "Nordli" {
		t.Errorf("reloaded householdName = %v, want Nordli", name)
	}
	// Defaults still present for untouched fields.
	currency, _ := s2.Get("settings.currency")
	if currency != "USD" {
		t.Errorf("reloaded currency = %v, want USD", currency)
	}
	// ui is not on the persistence allow-list.
	view, _ := s2.Get("ui.activeView")
	if view != "rotation" {
		t.Errorf("ui.activeView = %v, want default rotation (ui must not persist)", view)
	}
}

// TestMalformedSnapshot_FallsBackToDefaults covers the malformed-snapshot
// error class: a corrupt domain blob must not fail startup.
func TestMalformedSnapshot_FallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := localstore.Open(path, testLogger())
	if err != nil {
		t.Fatalf("localstore.Open() failed: %v", err)
	}
	defer db.Close()

	blobs := map[string][]byte{
		"settings": []byte(`{not json`),
		"tags":     []byte(`["keeper"]`),
	}
	if err := db.PutDomains(context.Background(), blobs); err != nil {
		t.Fatalf("PutDomains() failed: %v", err)
	}

	s, err := New(db, testLogger())
	if err != nil {
		t.Fatalf("New() must not fail on malformed snapshot: %v", err)
	}

	currency, _ := s.Get("settings.currency")
	if currency != "USD" {
		t.Errorf("settings fell back incorrectly: currency = %v", currency)
	}
	tags, _ := s.Get("tags")
	if !reflect.DeepEqual(tags, []any{"keeper"}) {
		t.Errorf("valid sibling domain was not loaded: %v", tags)
	}
}

func TestTypedAccessors(t *testing.T) {
	s := memoryStore(t)

	if err := s.Set(map[string]any{"settings": map[string]any{"weeklyBudget": 120.5}}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	settings, err := s.Settings()
	if err != nil {
		t.Fatalf("Settings() failed: %v", err)
	}
	if settings.WeeklyBudget != 120.5 {
		t.Errorf("WeeklyBudget = %v, want 120.5", settings.WeeklyBudget)
	}
	if settings.Currency != "USD" {
		t.Errorf("Currency = %q, want USD", settings.Currency)
	}

	tree, err := s.Typed()
	if err != nil {
		t.Fatalf("Typed() failed: %v", err)
	}
	if tree.Version != SchemaVersion {
		t.Errorf("Version = %d, want %d", tree.Version, SchemaVersion)
	}
}
