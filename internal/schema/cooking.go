package schema

import (
	"fmt"
	"time"
)

// DateFormat is the canonical day format used for cooking-log identity.
const DateFormat = "2006-01-02"

// CookingLogEntry records one cooking session. Identity is the composite of
// meal code and date; an entry is immutable once recorded except for Notes.
type CookingLogEntry struct {
	MealCode string    `json:"meal_code"`
	Date     string    `json:"date"` // DateFormat
	Servings int       `json:"servings,omitempty"`
	Notes    string    `json:"notes,omitempty"`
	LoggedAt time.Time `json:"logged_at"`
}

// ID returns the composite identity used as the durable-store key.
func (e *CookingLogEntry) ID() string {
	return e.MealCode + "@" + e.Date
}

// Validate checks field values.
func (e *CookingLogEntry) Validate() error {
	if e.MealCode == "" {
		return fmt.Errorf("meal_code is required")
	}
	if e.Date == "" {
		return fmt.Errorf("date is required")
	}
	if _, err := time.Parse(DateFormat, e.Date); err != nil {
		return fmt.Errorf("date must be formatted as %s: %w", DateFormat, err)
	}
	if e.Servings < 0 {
		return fmt.Errorf("servings cannot be negative")
	}
	return nil
}

// StapleEntry records restocking a pantry staple outside any shopping trip.
type StapleEntry struct {
	Name string `json:"name"`
	Date string `json:"date"` // DateFormat
}
