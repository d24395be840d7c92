package schema

import (
	"fmt"
	"strconv"
)

// TripItem is one line item of a shopping trip.
type TripItem struct {
	Name     string  `json:"name"`
	Cost     float64 `json:"cost"`
	Store    string  `json:"store"`
	Quantity float64 `json:"quantity,omitempty"`
}

// ShoppingTrip records one shopping trip. StoreBreakdown is a materialized
// aggregate: it must always equal the per-store sum of the line items and is
// recomputed on every mutation, never hand-edited.
type ShoppingTrip struct {
	TripNumber     int                `json:"trip_number"`
	Date           string             `json:"date"` // DateFormat
	Items          []TripItem         `json:"items"`
	StoreBreakdown map[string]float64 `json:"store_breakdown"`
}

// ID returns the durable-store key for the trip.
func (t *ShoppingTrip) ID() string {
	return strconv.Itoa(t.TripNumber)
}

// Validate checks field values.
func (t *ShoppingTrip) Validate() error {
	if t.TripNumber <= 0 {
		return fmt.Errorf("trip_number must be positive (got %d)", t.TripNumber)
	}
	for i, item := range t.Items {
		if item.Name == "" {
			return fmt.Errorf("item %d: name is required", i)
		}
		if item.Cost < 0 {
			return fmt.Errorf("item %d (%s): cost cannot be negative", i, item.Name)
		}
	}
	return nil
}

// Recompute rebuilds the per-store cost breakdown from the line items.
// Must be called after any mutation of Items.
func (t *ShoppingTrip) Recompute() {
	breakdown := make(map[string]float64, len(t.Items))
	for _, item := range t.Items {
		breakdown[item.Store] += item.Cost
	}
	t.StoreBreakdown = breakdown
}

// Total returns the summed cost of all line items.
func (t *ShoppingTrip) Total() float64 {
	var total float64
	for _, item := range t.Items {
		total += item.Cost
	}
	return total
}
