package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/mealrota/mealrota/internal/schema"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(context.Background(), DefaultSchema()); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return s, path
}

func TestMigrate_Idempotent(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	meal := schema.Meal{Code: "M1", Name: "Chili", Servings: 4}
	if err := s.Put(ctx, CollectionMeals, meal.Code, meal); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	// Re-running migration must not destroy existing data.
	if err := s.Migrate(ctx, DefaultSchema()); err != nil {
		t.Fatalf("second Migrate() failed: %v", err)
	}

	var got schema.Meal
	if err := s.Get(ctx, CollectionMeals, "M1", &got); err != nil {
		t.Fatalf("Get() after re-migrate failed: %v", err)
	}
	if got.Name != "Chili" {
		t.Errorf("meal name = %q, want Chili", got.Name)
	}
}

func TestPut_InsertThenReplace(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	meal := schema.Meal{Code: "M1", Name: "Chili", Servings: 4}
	if err := s.Put(ctx, CollectionMeals, meal.Code, meal); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	meal.Servings = 6
	if err := s.Put(ctx, CollectionMeals, meal.Code, meal); err != nil {
		t.Fatalf("replace Put() failed: %v", err)
	}

	var got schema.Meal
	if err := s.Get(ctx, CollectionMeals, "M1", &got); err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Servings != 6 {
		t.Errorf("servings = %d, want 6", got.Servings)
	}

	n, err := s.Count(ctx, CollectionMeals)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1 (put is insert-or-replace)", n)
	}
}

func TestGet_NotFound(t *testing.T) {
	s, _ := testStore(t)

	var got schema.Meal
	err := s.Get(context.Background(), CollectionMeals, "missing", &got)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestUnknownCollection(t *testing.T) {
	s, _ := testStore(t)
	if err := s.Put(context.Background(), "nope", "1", "x"); err == nil {
		t.Error("expected error for unregistered collection")
	}
}

func TestFindBy_SecondaryIndex(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	entries := []schema.CookingLogEntry{
		{MealCode: "M1", Date: "2026-08-01", LoggedAt: time.Now()},
		{MealCode: "M2", Date: "2026-08-02", LoggedAt: time.Now()},
		{MealCode: "M1", Date: "2026-08-03", LoggedAt: time.Now()},
	}
	for _, e := range entries {
		if err := s.Put(ctx, CollectionCookingLog, e.ID(), e); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}

	raw, err := s.FindBy(ctx, CollectionCookingLog, "$.meal_code", "M1")
	if err != nil {
		t.Fatalf("FindBy() failed: %v", err)
	}
	if len(raw) != 2 {
		t.Fatalf("FindBy returned %d records, want 2", len(raw))
	}
	for _, r := range raw {
		var e schema.CookingLogEntry
		if err := json.Unmarshal(r, &e); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if e.MealCode != "M1" {
			t.Errorf("record meal_code = %q, want M1", e.MealCode)
		}
	}
}

func TestDeleteAndClear(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	for _, code := range []string{"M1", "M2", "M3"} {
		meal := schema.Meal{Code: code, Name: "x", Servings: 2}
		if err := s.Put(ctx, CollectionMeals, code, meal); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}

	if err := s.Delete(ctx, CollectionMeals, "M2"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	// Deleting again is idempotent.
	if err := s.Delete(ctx, CollectionMeals, "M2"); err != nil {
		t.Fatalf("second Delete() failed: %v", err)
	}

	n, _ := s.Count(ctx, CollectionMeals)
	if n != 2 {
		t.Errorf("count after delete = %d, want 2", n)
	}

	if err := s.Clear(ctx, CollectionMeals); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	n, _ = s.Count(ctx, CollectionMeals)
	if n != 0 {
		t.Errorf("count after clear = %d, want 0", n)
	}
}

// TestQueue_DurableAcrossReopen simulates a crash-and-restart: items appended
// before close must reload in original timestamp order.
func TestQueue_DurableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	logger := log.New(io.Discard, "", 0)
	ctx := context.Background()

	s, err := Open(path, logger)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	var ids []int64
	for i := 0; i < 3; i++ {
		item := &schema.SyncQueueItem{
			Table:      "meals",
			Action:     schema.ActionUpsert,
			Payload:    json.RawMessage(`{"code":"M1"}`),
			EnqueuedAt: base.Add(time.Duration(i) * time.Second),
		}
		id, err := s.AppendQueueItem(ctx, item)
		if err != nil {
			t.Fatalf("AppendQueueItem() failed: %v", err)
		}
		ids = append(ids, id)
	}

	// Acknowledge the middle item, then simulate a crash by closing.
	if err := s.DeleteQueueItem(ctx, ids[1]); err != nil {
		t.Fatalf("DeleteQueueItem() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened, err := Open(path, logger)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	items, err := reopened.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue() failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("reloaded queue has %d items, want 2", len(items))
	}
	if items[0].ID != ids[0] || items[1].ID != ids[2] {
		t.Errorf("queue order = [%d %d], want [%d %d]", items[0].ID, items[1].ID, ids[0], ids[2])
	}
	if !items[0].EnqueuedAt.Before(items[1].EnqueuedAt) {
		t.Error("queue not in timestamp order")
	}
}

func TestBumpRetry(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	item := &schema.SyncQueueItem{
		Table:      "meals",
		Action:     schema.ActionInsert,
		Payload:    json.RawMessage(`{}`),
		EnqueuedAt: time.Now(),
	}
	id, err := s.AppendQueueItem(ctx, item)
	if err != nil {
		t.Fatalf("AppendQueueItem() failed: %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := s.BumpRetry(ctx, id)
		if err != nil {
			t.Fatalf("BumpRetry() failed: %v", err)
		}
		if got != want {
			t.Errorf("retries = %d, want %d", got, want)
		}
	}

	if _, err := s.BumpRetry(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("BumpRetry on missing item: error = %v, want ErrNotFound", err)
	}
}

func TestDeadLetter_MovesItem(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	item := &schema.SyncQueueItem{
		Table:      "shopping_trips",
		Action:     schema.ActionUpsert,
		Payload:    json.RawMessage(`{"trip_number":7}`),
		EnqueuedAt: time.Now(),
		Retries:    3,
	}
	id, err := s.AppendQueueItem(ctx, item)
	if err != nil {
		t.Fatalf("AppendQueueItem() failed: %v", err)
	}
	item.ID = id

	if err := s.DeadLetter(ctx, *item, "retry bound reached"); err != nil {
		t.Fatalf("DeadLetter() failed: %v", err)
	}

	qn, _ := s.QueueLen(ctx)
	if qn != 0 {
		t.Errorf("queue length = %d, want 0", qn)
	}
	dn, _ := s.DeadLetterCount(ctx)
	if dn != 1 {
		t.Errorf("dead letter count = %d, want 1", dn)
	}
}

func TestDomains_RoundTrip(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	blobs := map[string][]byte{
		"settings": []byte(`{"weeklyBudget":250}`),
		"meals":    []byte(`{"M1":{"code":"M1"}}`),
	}
	if err := s.PutDomains(ctx, blobs); err != nil {
		t.Fatalf("PutDomains() failed: %v", err)
	}

	got, err := s.GetDomains(ctx)
	if err != nil {
		t.Fatalf("GetDomains() failed: %v", err)
	}
	if string(got["settings"]) != `{"weeklyBudget":250}` {
		t.Errorf("settings blob = %s", got["settings"])
	}
	if len(got) != 2 {
		t.Errorf("domain count = %d, want 2", len(got))
	}
}
