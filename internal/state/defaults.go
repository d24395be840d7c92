// Package state owns the in-memory state tree: a versioned mapping of typed
// top-level domains. Partial updates deep-merge into the tree, an allow-listed
// subset of domains persists to the durable local store, and path-scoped
// subscribers are notified of changes.
package state

import (
	"encoding/json"
	"fmt"

	"github.com/mealrota/mealrota/internal/schema"
)

// SchemaVersion is bumped when the shape of the tree changes incompatibly.
const SchemaVersion = 1

// Settings holds household configuration.
type Settings struct {
	HouseholdName   string  `json:"householdName"`
	WeeklyBudget    float64 `json:"weeklyBudget"`
	DefaultServings int     `json:"defaultServings"`
	Currency        string  `json:"currency"`
}

// UIState is ephemeral view state. Never persisted, never synced.
type UIState struct {
	ActiveView   string `json:"activeView"`
	SelectedMeal string `json:"selectedMeal"`
}

// SyncStatus mirrors connectivity and queue depth for consumers of the tree.
type SyncStatus struct {
	IsOnline       bool   `json:"isOnline"`
	PendingChanges int    `json:"pendingChanges"`
	LastSyncTime   string `json:"lastSyncTime"`
}

// Tree is the full state tree. JSON tags are the canonical domain names used
// in paths, snapshots, and exports.
type Tree struct {
	Version          int                            `json:"version"`
	Settings         Settings                       `json:"settings"`
	UI               UIState                        `json:"ui"`
	Meals            map[string]schema.Meal         `json:"meals"`
	RotationOrder    []string                       `json:"rotationOrder"`
	ArchivedMeals    map[string]schema.Meal         `json:"archivedMeals"`
	CookingLog       []schema.CookingLogEntry       `json:"cookingLog"`
	ShoppingTrips    []schema.ShoppingTrip          `json:"shoppingTrips"`
	IngredientPrices map[string]schema.PriceSummary `json:"ingredientPrices"`
	StaplesLog       []schema.StapleEntry           `json:"staplesLog"`
	Tags             []string                       `json:"tags"`
	Sync             SyncStatus                     `json:"sync"`
}

// Defaults returns the compiled-in default tree.
func Defaults() Tree {
	return Tree{
		Version: SchemaVersion,
		Settings: Settings{
			HouseholdName:   "",
			WeeklyBudget:    0,
			DefaultServings: 2,
			Currency:        "USD",
		},
		UI:               UIState{ActiveView: "rotation"},
		Meals:            map[string]schema.Meal{},
		RotationOrder:    []string{},
		ArchivedMeals:    map[string]schema.Meal{},
		CookingLog:       []schema.CookingLogEntry{},
		ShoppingTrips:    []schema.ShoppingTrip{},
		IngredientPrices: map[string]schema.PriceSummary{},
		StaplesLog:       []schema.StapleEntry{},
		Tags:             []string{},
		Sync:             SyncStatus{},
	}
}

// PersistedDomains is the allow-list of top-level domains written to the
// local snapshot. ui and sync are ephemeral; derived values are recomputed.
var PersistedDomains = []string{
	"version",
	"settings",
	"meals",
	"rotationOrder",
	"archivedMeals",
	"cookingLog",
	"shoppingTrips",
	"ingredientPrices",
	"staplesLog",
	"tags",
}

// ToMap converts any JSON-encodable value to its generic map form. The tree
// is held in this form internally so the merge operates uniformly regardless
// of which typed struct produced an update.
func ToMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode value into map: %w", err)
	}
	return m, nil
}

// DomainUpdate builds a partial update that replaces or merges into one
// top-level domain with the JSON form of v.
func DomainUpdate(domain string, v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s update: %w", domain, err)
	}
	var val any
	if err := json.Unmarshal(data, &val); err != nil {
		return nil, fmt.Errorf("failed to decode %s update: %w", domain, err)
	}
	return map[string]any{domain: val}, nil
}

// DecodeDomain decodes the generic form of one domain back into a typed
// value.
func DecodeDomain(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode domain: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode domain: %w", err)
	}
	return nil
}
