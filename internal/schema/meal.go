// Package schema provides the typed entities of the meal-rotation data model
// and the derived aggregates computed from them.
package schema

import (
	"fmt"
	"time"
)

// Ingredient is one line of a meal's ingredient list.
type Ingredient struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity,omitempty"`
	Unit     string  `json:"unit,omitempty"`
}

// Meal represents a recipe identified by a stable code.
//
// A code appears in at most one of the active and archived meal sets at a
// time; the rotation order may only reference active codes. Those invariants
// are enforced by the state store actions, not here.
type Meal struct {
	Code         string       `json:"code"`
	Name         string       `json:"name"`
	Servings     int          `json:"servings"`
	PrepMinutes  int          `json:"prep_minutes,omitempty"`
	CookMinutes  int          `json:"cook_minutes,omitempty"`
	Ingredients  []Ingredient `json:"ingredients,omitempty"`
	Instructions []string     `json:"instructions,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Validate checks field values.
func (m *Meal) Validate() error {
	if m.Code == "" {
		return fmt.Errorf("code is required")
	}
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.Servings <= 0 {
		return fmt.Errorf("servings must be positive (got %d)", m.Servings)
	}
	if m.PrepMinutes < 0 || m.CookMinutes < 0 {
		return fmt.Errorf("prep/cook time cannot be negative")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (m *Meal) SetDefaults() {
	if m.Servings == 0 {
		m.Servings = 2
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
}

// Touch sets UpdatedAt to the current time. Call on every mutation.
func (m *Meal) Touch() {
	m.UpdatedAt = time.Now().UTC()
}
