package schema

import (
	"fmt"
	"sort"
)

// PriceRecord is one observed purchase of an ingredient. Records are
// append-only; corrections are made by appending, not editing.
type PriceRecord struct {
	Cost       float64 `json:"cost"`
	Quantity   float64 `json:"quantity,omitempty"`
	Store      string  `json:"store"`
	Date       string  `json:"date"` // DateFormat
	TripNumber int     `json:"trip_number,omitempty"`
}

// PricePoint is an extreme observation with its provenance.
type PricePoint struct {
	Cost       float64 `json:"cost"`
	Store      string  `json:"store"`
	Date       string  `json:"date"`
	TripNumber int     `json:"trip_number,omitempty"`
}

// PriceSummary aggregates the price history of one ingredient. The derived
// fields are pure functions of Records and are rebuilt by ComputePriceSummary;
// they are never stored independently of the record sequence.
type PriceSummary struct {
	IngredientKey  string        `json:"ingredient_key"`
	Records        []PriceRecord `json:"records"`
	AverageCost    float64       `json:"average_cost"`
	Lowest         *PricePoint   `json:"lowest,omitempty"`
	Highest        *PricePoint   `json:"highest,omitempty"`
	PreferredStore string        `json:"preferred_store,omitempty"`
}

// ID returns the durable-store key for the summary.
func (s *PriceSummary) ID() string {
	return s.IngredientKey
}

// Validate checks field values.
func (s *PriceSummary) Validate() error {
	if s.IngredientKey == "" {
		return fmt.Errorf("ingredient_key is required")
	}
	for i, r := range s.Records {
		if r.Cost < 0 {
			return fmt.Errorf("record %d: cost cannot be negative", i)
		}
		if r.Store == "" {
			return fmt.Errorf("record %d: store is required", i)
		}
	}
	return nil
}

// ComputePriceSummary builds a summary with all derived fields from the given
// record sequence.
//
// The preferred store balances purchase frequency against relative price:
// each store scores 0.6 * (purchases at store / total purchases) plus
// 0.4 * (cheapest store average / store average). Ties break on store name
// so the result is deterministic.
func ComputePriceSummary(ingredientKey string, records []PriceRecord) PriceSummary {
	summary := PriceSummary{
		IngredientKey: ingredientKey,
		Records:       records,
	}
	if len(records) == 0 {
		return summary
	}

	var total float64
	storeTotals := make(map[string]float64)
	storeCounts := make(map[string]int)

	for _, r := range records {
		total += r.Cost
		storeTotals[r.Store] += r.Cost
		storeCounts[r.Store]++

		if summary.Lowest == nil || r.Cost < summary.Lowest.Cost {
			summary.Lowest = &PricePoint{Cost: r.Cost, Store: r.Store, Date: r.Date, TripNumber: r.TripNumber}
		}
		if summary.Highest == nil || r.Cost > summary.Highest.Cost {
			summary.Highest = &PricePoint{Cost: r.Cost, Store: r.Store, Date: r.Date, TripNumber: r.TripNumber}
		}
	}
	summary.AverageCost = total / float64(len(records))
	summary.PreferredStore = preferredStore(storeTotals, storeCounts, len(records))
	return summary
}

func preferredStore(storeTotals map[string]float64, storeCounts map[string]int, total int) string {
	if total == 0 {
		return ""
	}

	stores := make([]string, 0, len(storeCounts))
	for store := range storeCounts {
		stores = append(stores, store)
	}
	sort.Strings(stores)

	cheapestAvg := 0.0
	for i, store := range stores {
		avg := storeTotals[store] / float64(storeCounts[store])
		if i == 0 || avg < cheapestAvg {
			cheapestAvg = avg
		}
	}

	best := ""
	bestScore := -1.0
	for _, store := range stores {
		avg := storeTotals[store] / float64(storeCounts[store])
		frequency := float64(storeCounts[store]) / float64(total)
		relPrice := 1.0
		if avg > 0 {
			relPrice = cheapestAvg / avg
		}
		score := 0.6*frequency + 0.4*relPrice
		if score > bestScore {
			best = store
			bestScore = score
		}
	}
	return best
}
