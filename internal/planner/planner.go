// Package planner implements the domain actions of the meal rotation: meal
// lifecycle, rotation order, cooking log, shopping trips, and the price
// history derived from them. Every action funnels through the same pipeline:
// validate, merge into the state tree, mirror into the durable collections,
// enqueue the outbound change, announce on the bus.
package planner

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mealrota/mealrota/internal/bus"
	"github.com/mealrota/mealrota/internal/localstore"
	"github.com/mealrota/mealrota/internal/schema"
	"github.com/mealrota/mealrota/internal/state"
	"github.com/mealrota/mealrota/internal/syncer"
)

// Enqueuer is the slice of the sync engine the planner needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, table string, action schema.Action, payload any) error
}

// Planner executes domain actions against the state tree.
type Planner struct {
	state  *state.Store
	db     *localstore.Store
	queue  Enqueuer
	bus    *bus.Bus
	logger *log.Logger
}

// New wires a planner. queue may be nil when sync is disabled entirely;
// actions then mutate local state only.
func New(st *state.Store, db *localstore.Store, queue Enqueuer, b *bus.Bus, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.New(os.Stderr, "[planner] ", log.LstdFlags)
	}
	return &Planner{state: st, db: db, queue: queue, bus: b, logger: logger}
}

// mealRecord builds the outbound row for a meal. Cloud rows carry an explicit
// id column plus the archived flag so one table holds both sets.
func mealRecord(meal schema.Meal, archived bool) (map[string]any, error) {
	record, err := state.ToMap(meal)
	if err != nil {
		return nil, err
	}
	record["id"] = meal.Code
	record["archived"] = archived
	return record, nil
}

func (p *Planner) enqueue(ctx context.Context, table string, action schema.Action, payload any) {
	if p.queue == nil {
		return
	}
	if err := p.queue.Enqueue(ctx, table, action, payload); err != nil {
		// The local mutation already committed; losing the outbound copy
		// only delays convergence until the next full push.
		p.logger.Printf("Failed to enqueue %s %s: %v", action, table, err)
	}
}

// AddMeal validates and inserts a new meal. The code must not exist in either
// the active or archived set.
func (p *Planner) AddMeal(ctx context.Context, meal schema.Meal) error {
	meal.SetDefaults()
	if err := meal.Validate(); err != nil {
		return fmt.Errorf("invalid meal: %w", err)
	}

	tree, err := p.state.Typed()
	if err != nil {
		return err
	}
	if _, ok := tree.Meals[meal.Code]; ok {
		return fmt.Errorf("meal %s already exists", meal.Code)
	}
	if _, ok := tree.ArchivedMeals[meal.Code]; ok {
		return fmt.Errorf("meal %s exists in the archive; restore it instead", meal.Code)
	}

	update := map[string]any{
		"meals": map[string]any{meal.Code: meal},
		"tags":  unionTags(tree.Tags, meal.Tags),
	}
	if err := p.state.Set(update); err != nil {
		return err
	}
	if err := p.db.Put(ctx, localstore.CollectionMeals, meal.Code, meal); err != nil {
		return err
	}

	record, err := mealRecord(meal, false)
	if err != nil {
		return err
	}
	p.enqueue(ctx, syncer.TableMeals, schema.ActionUpsert, record)
	p.bus.Publish(bus.EventMealAdded, meal)
	return nil
}

// UpdateMeal replaces an active meal's fields. The code itself is immutable.
func (p *Planner) UpdateMeal(ctx context.Context, meal schema.Meal) error {
	tree, err := p.state.Typed()
	if err != nil {
		return err
	}
	existing, ok := tree.Meals[meal.Code]
	if !ok {
		return fmt.Errorf("meal %s not found", meal.Code)
	}

	meal.CreatedAt = existing.CreatedAt
	meal.SetDefaults()
	meal.Touch()
	if err := meal.Validate(); err != nil {
		return fmt.Errorf("invalid meal: %w", err)
	}

	update := map[string]any{
		"meals": map[string]any{meal.Code: meal},
		"tags":  unionTags(tree.Tags, meal.Tags),
	}
	if err := p.state.Set(update); err != nil {
		return err
	}
	if err := p.db.Put(ctx, localstore.CollectionMeals, meal.Code, meal); err != nil {
		return err
	}

	record, err := mealRecord(meal, false)
	if err != nil {
		return err
	}
	p.enqueue(ctx, syncer.TableMeals, schema.ActionUpsert, record)
	p.bus.Publish(bus.EventMealUpdated, meal)
	return nil
}

// ArchiveMeal moves an active meal to the archive and drops it from the
// rotation order.
func (p *Planner) ArchiveMeal(ctx context.Context, code string) error {
	tree, err := p.state.Typed()
	if err != nil {
		return err
	}
	meal, ok := tree.Meals[code]
	if !ok {
		return fmt.Errorf("meal %s not found", code)
	}
	meal.Touch()

	delete(tree.Meals, code)
	tree.ArchivedMeals[code] = meal
	update := map[string]any{
		"meals":         tree.Meals,
		"archivedMeals": tree.ArchivedMeals,
		"rotationOrder": removeCode(tree.RotationOrder, code),
	}
	err = p.state.Set(update, state.WithReplaceDomains("meals", "archivedMeals"))
	if err != nil {
		return err
	}

	record, err := mealRecord(meal, true)
	if err != nil {
		return err
	}
	p.enqueue(ctx, syncer.TableMeals, schema.ActionUpsert, record)
	p.bus.Publish(bus.EventMealArchived, meal)
	return nil
}

// RestoreMeal moves an archived meal back to the active set. It does not
// rejoin the rotation automatically.
func (p *Planner) RestoreMeal(ctx context.Context, code string) error {
	tree, err := p.state.Typed()
	if err != nil {
		return err
	}
	meal, ok := tree.ArchivedMeals[code]
	if !ok {
		return fmt.Errorf("meal %s not found in archive", code)
	}
	meal.Touch()

	delete(tree.ArchivedMeals, code)
	tree.Meals[code] = meal
	update := map[string]any{
		"meals":         tree.Meals,
		"archivedMeals": tree.ArchivedMeals,
	}
	err = p.state.Set(update, state.WithReplaceDomains("meals", "archivedMeals"))
	if err != nil {
		return err
	}

	record, err := mealRecord(meal, false)
	if err != nil {
		return err
	}
	p.enqueue(ctx, syncer.TableMeals, schema.ActionUpsert, record)
	p.bus.Publish(bus.EventMealRestored, meal)
	return nil
}

// DeleteMeal permanently removes a meal from whichever set holds it.
func (p *Planner) DeleteMeal(ctx context.Context, code string) error {
	tree, err := p.state.Typed()
	if err != nil {
		return err
	}
	_, active := tree.Meals[code]
	_, archived := tree.ArchivedMeals[code]
	if !active && !archived {
		return fmt.Errorf("meal %s not found", code)
	}

	delete(tree.Meals, code)
	delete(tree.ArchivedMeals, code)
	update := map[string]any{
		"meals":         tree.Meals,
		"archivedMeals": tree.ArchivedMeals,
		"rotationOrder": removeCode(tree.RotationOrder, code),
	}
	err = p.state.Set(update, state.WithReplaceDomains("meals", "archivedMeals"))
	if err != nil {
		return err
	}
	if err := p.db.Delete(ctx, localstore.CollectionMeals, code); err != nil {
		return err
	}

	p.enqueue(ctx, syncer.TableMeals, schema.ActionDelete, map[string]any{"id": code})
	p.bus.Publish(bus.EventMealDeleted, code)
	return nil
}

// SetRotation replaces the rotation order. Every code must name an active
// meal and appear at most once.
func (p *Planner) SetRotation(ctx context.Context, codes []string) error {
	tree, err := p.state.Typed()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		if _, ok := tree.Meals[code]; !ok {
			return fmt.Errorf("rotation references unknown or archived meal %s", code)
		}
		if seen[code] {
			return fmt.Errorf("rotation lists meal %s twice", code)
		}
		seen[code] = true
	}

	if codes == nil {
		codes = []string{}
	}
	if err := p.state.Set(map[string]any{"rotationOrder": codes}); err != nil {
		return err
	}
	p.bus.Publish(bus.EventRotationChanged, codes)
	return nil
}

// NextInRotation returns the meal that has gone longest uncooked, judged by
// the cooking log. Rotation position breaks ties for never-cooked meals.
func (p *Planner) NextInRotation(ctx context.Context) (schema.Meal, error) {
	tree, err := p.state.Typed()
	if err != nil {
		return schema.Meal{}, err
	}
	if len(tree.RotationOrder) == 0 {
		return schema.Meal{}, fmt.Errorf("rotation is empty")
	}

	lastCooked := make(map[string]string)
	for _, entry := range tree.CookingLog {
		if entry.Date > lastCooked[entry.MealCode] {
			lastCooked[entry.MealCode] = entry.Date
		}
	}

	best := ""
	for _, code := range tree.RotationOrder {
		if best == "" || lastCooked[code] < lastCooked[best] {
			best = code
		}
	}
	return tree.Meals[best], nil
}

// RecordCooking appends a cooking log entry. The meal must be active; a
// second entry for the same meal and date replaces the first.
func (p *Planner) RecordCooking(ctx context.Context, entry schema.CookingLogEntry) error {
	tree, err := p.state.Typed()
	if err != nil {
		return err
	}
	meal, ok := tree.Meals[entry.MealCode]
	if !ok {
		return fmt.Errorf("meal %s not found", entry.MealCode)
	}
	if entry.Servings == 0 {
		entry.Servings = meal.Servings
	}
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = nowUTC()
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid cooking log entry: %w", err)
	}

	entries := replaceOrAppendEntry(tree.CookingLog, entry)
	if err := p.state.Set(map[string]any{"cookingLog": entries}); err != nil {
		return err
	}
	if err := p.db.Put(ctx, localstore.CollectionCookingLog, entry.ID(), entry); err != nil {
		return err
	}

	record, err := state.ToMap(entry)
	if err != nil {
		return err
	}
	record["id"] = entry.ID()
	p.enqueue(ctx, syncer.TableCookingLog, schema.ActionUpsert, record)
	p.bus.Publish(bus.EventMealCooked, entry)
	return nil
}

// RecordStaple appends a pantry staple restock. Local only; staples are not
// synced.
func (p *Planner) RecordStaple(ctx context.Context, staple schema.StapleEntry) error {
	if staple.Name == "" {
		return fmt.Errorf("staple name is required")
	}
	if staple.Date == "" {
		staple.Date = nowUTC().Format(schema.DateFormat)
	}

	tree, err := p.state.Typed()
	if err != nil {
		return err
	}
	return p.state.Set(map[string]any{
		"staplesLog": append(tree.StaplesLog, staple),
	})
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func removeCode(codes []string, code string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c != code {
			out = append(out, c)
		}
	}
	return out
}

func replaceOrAppendEntry(entries []schema.CookingLogEntry, entry schema.CookingLogEntry) []schema.CookingLogEntry {
	for i, e := range entries {
		if e.ID() == entry.ID() {
			out := append([]schema.CookingLogEntry(nil), entries...)
			out[i] = entry
			return out
		}
	}
	return append(entries, entry)
}

// unionTags merges new tags into the known-tags list, sorted and
// case-preserving.
func unionTags(known, added []string) []string {
	set := make(map[string]bool, len(known)+len(added))
	for _, t := range known {
		set[t] = true
	}
	for _, t := range added {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = true
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
