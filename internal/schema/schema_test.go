package schema

import (
	"math"
	"testing"
	"time"
)

func TestMeal_Validate(t *testing.T) {
	tests := []struct {
		name    string
		meal    Meal
		wantErr bool
	}{
		{"valid", Meal{Code: "M1", Name: "Chili", Servings: 4}, false},
		{"missing code", Meal{Name: "Chili", Servings: 4}, true},
		{"missing name", Meal{Code: "M1", Servings: 4}, true},
		{"zero servings", Meal{Code: "M1", Name: "Chili"}, true},
		{"negative servings", Meal{Code: "M1", Name: "Chili", Servings: -1}, true},
		{"negative prep", Meal{Code: "M1", Name: "Chili", Servings: 2, PrepMinutes: -5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meal.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMeal_SetDefaults(t *testing.T) {
	m := Meal{Code: "M1", Name: "Soup"}
	m.SetDefaults()

	if m.Servings != 2 {
		t.Errorf("default servings = %d, want 2", m.Servings)
	}
	if m.Tags == nil {
		t.Error("tags should default to empty slice")
	}
	if m.CreatedAt.IsZero() || m.UpdatedAt.IsZero() {
		t.Error("timestamps should be set")
	}
}

func TestCookingLogEntry_ID(t *testing.T) {
	e := CookingLogEntry{MealCode: "M1", Date: "2026-08-20", LoggedAt: time.Now()}
	if got := e.ID(); got != "M1@2026-08-20" {
		t.Errorf("ID() = %q", got)
	}
}

func TestCookingLogEntry_Validate(t *testing.T) {
	e := CookingLogEntry{MealCode: "M1", Date: "not-a-date"}
	if err := e.Validate(); err == nil {
		t.Error("expected error for malformed date")
	}

	e.Date = "2026-08-20"
	if err := e.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

// TestShoppingTrip_RecomputeBreakdown verifies the materialized per-store
// aggregate always equals the sum of its line items.
func TestShoppingTrip_RecomputeBreakdown(t *testing.T) {
	trip := ShoppingTrip{
		TripNumber: 1,
		Date:       "2026-08-20",
		Items: []TripItem{
			{Name: "rice", Cost: 3.50, Store: "GreenMart"},
			{Name: "beans", Cost: 1.25, Store: "GreenMart"},
			{Name: "salmon", Cost: 12.00, Store: "FishCo"},
		},
	}
	trip.Recompute()

	if got := trip.StoreBreakdown["GreenMart"]; math.Abs(got-4.75) > 1e-9 {
		t.Errorf("GreenMart breakdown = %v, want 4.75", got)
	}
	if got := trip.StoreBreakdown["FishCo"]; math.Abs(got-12.00) > 1e-9 {
		t.Errorf("FishCo breakdown = %v, want 12.00", got)
	}

	// Mutate and recompute: the aggregate must follow the items.
	trip.Items = trip.Items[:1]
	trip.Recompute()
	if len(trip.StoreBreakdown) != 1 {
		t.Errorf("breakdown has %d stores after mutation, want 1", len(trip.StoreBreakdown))
	}
	if math.Abs(trip.Total()-3.50) > 1e-9 {
		t.Errorf("Total() = %v, want 3.50", trip.Total())
	}
}

func TestShoppingTrip_Validate(t *testing.T) {
	trip := ShoppingTrip{TripNumber: 1, Items: []TripItem{{Name: "milk", Cost: -1, Store: "A"}}}
	if err := trip.Validate(); err == nil {
		t.Error("expected error for negative cost")
	}
}

func TestComputePriceSummary_Derived(t *testing.T) {
	records := []PriceRecord{
		{Cost: 2.00, Store: "GreenMart", Date: "2026-08-01", TripNumber: 1},
		{Cost: 4.00, Store: "FishCo", Date: "2026-08-08", TripNumber: 2},
		{Cost: 3.00, Store: "GreenMart", Date: "2026-08-15", TripNumber: 3},
	}

	s := ComputePriceSummary("rice", records)

	if math.Abs(s.AverageCost-3.00) > 1e-9 {
		t.Errorf("AverageCost = %v, want 3.00", s.AverageCost)
	}
	if s.Lowest == nil || s.Lowest.Cost != 2.00 || s.Lowest.Store != "GreenMart" {
		t.Errorf("Lowest = %+v", s.Lowest)
	}
	if s.Lowest.TripNumber != 1 {
		t.Errorf("Lowest provenance trip = %d, want 1", s.Lowest.TripNumber)
	}
	if s.Highest == nil || s.Highest.Cost != 4.00 || s.Highest.Store != "FishCo" {
		t.Errorf("Highest = %+v", s.Highest)
	}
	// GreenMart is both more frequent and cheaper on average.
	if s.PreferredStore != "GreenMart" {
		t.Errorf("PreferredStore = %q, want GreenMart", s.PreferredStore)
	}
}

func TestComputePriceSummary_Empty(t *testing.T) {
	s := ComputePriceSummary("rice", nil)
	if s.AverageCost != 0 || s.Lowest != nil || s.Highest != nil || s.PreferredStore != "" {
		t.Errorf("empty summary has derived values: %+v", s)
	}
}

// TestComputePriceSummary_FrequencyVsPrice exercises the tradeoff: a store
// shopped at far more often wins even when slightly more expensive.
func TestComputePriceSummary_FrequencyVsPrice(t *testing.T) {
	records := []PriceRecord{
		{Cost: 2.10, Store: "Corner", Date: "2026-08-01"},
		{Cost: 2.10, Store: "Corner", Date: "2026-08-02"},
		{Cost: 2.10, Store: "Corner", Date: "2026-08-03"},
		{Cost: 2.10, Store: "Corner", Date: "2026-08-04"},
		{Cost: 2.00, Store: "FarAway", Date: "2026-08-05"},
	}

	s := ComputePriceSummary("eggs", records)
	if s.PreferredStore != "Corner" {
		t.Errorf("PreferredStore = %q, want Corner (frequency outweighs 5%% premium)", s.PreferredStore)
	}
}

func TestSyncQueueItem_Validate(t *testing.T) {
	item := SyncQueueItem{Table: "meals", Action: ActionUpsert, EnqueuedAt: time.Now()}
	if err := item.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}

	item.Action = "replace"
	if err := item.Validate(); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestSyncQueueItem_Exhausted(t *testing.T) {
	item := SyncQueueItem{Table: "meals", Action: ActionInsert}
	for i := 0; i < MaxRetries; i++ {
		if item.Exhausted() {
			t.Fatalf("exhausted after %d retries, bound is %d", i, MaxRetries)
		}
		item.Retries++
	}
	if !item.Exhausted() {
		t.Error("item should be exhausted at the retry bound")
	}
}
