package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/mealrota/mealrota/internal/bus"
	"github.com/mealrota/mealrota/internal/localstore"
	"github.com/mealrota/mealrota/internal/schema"
	"github.com/mealrota/mealrota/internal/state"
	"github.com/mealrota/mealrota/internal/syncer"
)

// RecordTrip stores a shopping trip and folds each priced line item into the
// ingredient price history. The store breakdown is always recomputed from the
// line items before anything is written.
func (p *Planner) RecordTrip(ctx context.Context, trip schema.ShoppingTrip) error {
	if trip.Date == "" {
		trip.Date = nowUTC().Format(schema.DateFormat)
	}
	if err := trip.Validate(); err != nil {
		return fmt.Errorf("invalid shopping trip: %w", err)
	}
	trip.Recompute()

	tree, err := p.state.Typed()
	if err != nil {
		return err
	}
	for _, existing := range tree.ShoppingTrips {
		if existing.TripNumber == trip.TripNumber {
			return fmt.Errorf("trip %d already recorded", trip.TripNumber)
		}
	}

	trips := append(tree.ShoppingTrips, trip)
	if err := p.state.Set(map[string]any{"shoppingTrips": trips}); err != nil {
		return err
	}
	if err := p.db.Put(ctx, localstore.CollectionShoppingTrips, trip.ID(), trip); err != nil {
		return err
	}

	record, err := state.ToMap(trip)
	if err != nil {
		return err
	}
	record["id"] = trip.ID()
	p.enqueue(ctx, syncer.TableShoppingTrips, schema.ActionUpsert, record)
	p.bus.Publish(bus.EventTripRecorded, trip)

	return p.foldTripPrices(ctx, trip, tree.IngredientPrices)
}

// foldTripPrices appends one price record per priced line item and rebuilds
// the affected summaries.
func (p *Planner) foldTripPrices(ctx context.Context, trip schema.ShoppingTrip, prices map[string]schema.PriceSummary) error {
	updated := map[string]any{}
	for _, item := range trip.Items {
		if item.Cost <= 0 {
			continue
		}
		key := IngredientKey(item.Name)
		records := append(prices[key].Records, schema.PriceRecord{
			Cost:       item.Cost,
			Quantity:   item.Quantity,
			Store:      item.Store,
			Date:       trip.Date,
			TripNumber: trip.TripNumber,
		})
		summary := schema.ComputePriceSummary(key, records)
		prices[key] = summary
		updated[key] = summary

		if err := p.db.Put(ctx, localstore.CollectionPrices, key, summary); err != nil {
			return err
		}
		record, err := state.ToMap(summary)
		if err != nil {
			return err
		}
		record["id"] = key
		p.enqueue(ctx, syncer.TablePrices, schema.ActionUpsert, record)
	}
	if len(updated) == 0 {
		return nil
	}

	if err := p.state.Set(map[string]any{"ingredientPrices": updated}); err != nil {
		return err
	}
	for key := range updated {
		p.bus.Publish(bus.EventPriceUpdated, key)
	}
	return nil
}

// IngredientKey normalizes an item name into the price-history key:
// lowercase with runs of whitespace collapsed.
func IngredientKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
