package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mealrota/mealrota/internal/localstore"
	"github.com/mealrota/mealrota/internal/remote"
	"github.com/mealrota/mealrota/internal/schema"
	"github.com/mealrota/mealrota/internal/state"
)

// Synced tables and their local collections.
const (
	TableMeals         = "meals"
	TableCookingLog    = "cooking_log"
	TableShoppingTrips = "shopping_trips"
	TablePrices        = "ingredient_prices"
)

// ErrOffline is returned when a pull is requested without connectivity.
var ErrOffline = errors.New("backend unreachable")

// FetchFromCloud pulls the named tables and overwrites local state with the
// cloud copy; with no arguments every synced table is pulled. Cloud wins: rows
// absent from the cloud disappear locally. Malformed rows are logged and
// skipped rather than failing the whole pull.
func (m *Manager) FetchFromCloud(ctx context.Context, tables ...string) error {
	if m.client == nil {
		return remote.ErrNotConfigured
	}
	if !m.monitor.IsOnline() {
		return ErrOffline
	}

	if len(tables) == 0 {
		tables = []string{TableMeals, TableCookingLog, TableShoppingTrips, TablePrices}
	}
	for _, table := range tables {
		var err error
		switch table {
		case TableMeals:
			err = m.fetchMeals(ctx)
		case TableCookingLog:
			err = m.fetchCookingLog(ctx)
		case TableShoppingTrips:
			err = m.fetchShoppingTrips(ctx)
		case TablePrices:
			err = m.fetchPrices(ctx)
		default:
			err = fmt.Errorf("unknown table %q", table)
		}
		if err != nil {
			return err
		}
	}

	m.setSyncStatus(map[string]any{
		"lastSyncTime": time.Now().UTC().Format(time.RFC3339),
	})
	m.logger.Print("Pulled cloud state over local state")
	return nil
}

// selectAll fetches one table with a short retry around transient failures.
func (m *Manager) selectAll(ctx context.Context, table string) ([]remote.Record, error) {
	var rows []remote.Record
	err := remote.ExecuteWithRetry(ctx, 3, 500*time.Millisecond, func() error {
		var err error
		rows, err = m.client.SelectAll(ctx, table)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", table, err)
	}
	return rows, nil
}

func (m *Manager) fetchMeals(ctx context.Context) error {
	rows, err := m.selectAll(ctx, TableMeals)
	if err != nil {
		return err
	}

	active := map[string]schema.Meal{}
	archived := map[string]schema.Meal{}
	for _, row := range rows {
		var meal schema.Meal
		if err := decodeRecord(row, &meal); err != nil || meal.Code == "" {
			m.logger.Printf("Skipping malformed meal row: %v", err)
			continue
		}
		if flag, _ := row["archived"].(bool); flag {
			archived[meal.Code] = meal
		} else {
			active[meal.Code] = meal
		}
	}

	if err := m.db.Clear(ctx, localstore.CollectionMeals); err != nil {
		return err
	}
	for code, meal := range active {
		if err := m.db.Put(ctx, localstore.CollectionMeals, code, meal); err != nil {
			return err
		}
	}
	for code, meal := range archived {
		if err := m.db.Put(ctx, localstore.CollectionMeals, code, meal); err != nil {
			return err
		}
	}

	return m.state.Set(map[string]any{
		"meals":         active,
		"archivedMeals": archived,
	}, state.WithReplaceDomains("meals", "archivedMeals"))
}

func (m *Manager) fetchCookingLog(ctx context.Context) error {
	rows, err := m.selectAll(ctx, TableCookingLog)
	if err != nil {
		return err
	}

	entries := []schema.CookingLogEntry{}
	for _, row := range rows {
		var entry schema.CookingLogEntry
		if err := decodeRecord(row, &entry); err != nil || entry.MealCode == "" {
			m.logger.Printf("Skipping malformed cooking log row: %v", err)
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Date != entries[j].Date {
			return entries[i].Date < entries[j].Date
		}
		return entries[i].MealCode < entries[j].MealCode
	})

	if err := m.db.Clear(ctx, localstore.CollectionCookingLog); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := m.db.Put(ctx, localstore.CollectionCookingLog, entry.ID(), entry); err != nil {
			return err
		}
	}

	return m.state.Set(map[string]any{"cookingLog": entries})
}

func (m *Manager) fetchShoppingTrips(ctx context.Context) error {
	rows, err := m.selectAll(ctx, TableShoppingTrips)
	if err != nil {
		return err
	}

	trips := []schema.ShoppingTrip{}
	for _, row := range rows {
		var trip schema.ShoppingTrip
		if err := decodeRecord(row, &trip); err != nil || trip.TripNumber <= 0 {
			m.logger.Printf("Skipping malformed shopping trip row: %v", err)
			continue
		}
		// The breakdown is derived; recompute rather than trusting the wire.
		trip.Recompute()
		trips = append(trips, trip)
	}
	sort.Slice(trips, func(i, j int) bool { return trips[i].TripNumber < trips[j].TripNumber })

	if err := m.db.Clear(ctx, localstore.CollectionShoppingTrips); err != nil {
		return err
	}
	for _, trip := range trips {
		if err := m.db.Put(ctx, localstore.CollectionShoppingTrips, trip.ID(), trip); err != nil {
			return err
		}
	}

	return m.state.Set(map[string]any{"shoppingTrips": trips})
}

func (m *Manager) fetchPrices(ctx context.Context) error {
	rows, err := m.selectAll(ctx, TablePrices)
	if err != nil {
		return err
	}

	prices := map[string]schema.PriceSummary{}
	for _, row := range rows {
		var summary schema.PriceSummary
		if err := decodeRecord(row, &summary); err != nil || summary.IngredientKey == "" {
			m.logger.Printf("Skipping malformed price row: %v", err)
			continue
		}
		prices[summary.IngredientKey] = summary
	}

	if err := m.db.Clear(ctx, localstore.CollectionPrices); err != nil {
		return err
	}
	for key, summary := range prices {
		if err := m.db.Put(ctx, localstore.CollectionPrices, key, summary); err != nil {
			return err
		}
	}

	return m.state.Set(map[string]any{"ingredientPrices": prices},
		state.WithReplaceDomains("ingredientPrices"))
}

// decodeRecord converts a generic row into a typed value via JSON.
func decodeRecord(row remote.Record, out any) error {
	return state.DecodeDomain(row, out)
}
