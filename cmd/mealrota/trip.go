package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mealrota/mealrota/internal/planner"
	"github.com/mealrota/mealrota/internal/schema"
	"github.com/mealrota/mealrota/internal/ui"
)

// parseTripItem parses "name:cost:store" with an optional ":quantity".
func parseTripItem(spec string) (schema.TripItem, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 3 {
		return schema.TripItem{}, fmt.Errorf("item %q: want name:cost:store[:quantity]", spec)
	}
	cost, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return schema.TripItem{}, fmt.Errorf("item %q: bad cost: %w", spec, err)
	}
	item := schema.TripItem{Name: parts[0], Cost: cost, Store: parts[2]}
	if len(parts) > 3 {
		qty, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			return schema.TripItem{}, fmt.Errorf("item %q: bad quantity: %w", spec, err)
		}
		item.Quantity = qty
	}
	return item, nil
}

var tripCmd = &cobra.Command{
	Use:     "trip",
	GroupID: "tracking",
	Short:   "Record and inspect shopping trips",
}

var tripAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a shopping trip",
	Long: `Record a shopping trip with its line items. Each priced item also
feeds the ingredient price history.

  mealrota trip add --item "black beans:1.50:FreshMart" \
      --item "olive oil:8.99:FreshMart:1" --date yesterday`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		specs, _ := cmd.Flags().GetStringArray("item")
		if len(specs) == 0 {
			fatal("at least one --item is required")
		}
		items := make([]schema.TripItem, 0, len(specs))
		for _, spec := range specs {
			item, err := parseTripItem(spec)
			if err != nil {
				fatal("%v", err)
			}
			items = append(items, item)
		}

		dateText, _ := cmd.Flags().GetString("date")
		date, err := parseDay(dateText)
		if err != nil {
			fatal("%v", err)
		}

		number, _ := cmd.Flags().GetInt("number")
		if number == 0 {
			tree, err := a.state.Typed()
			if err != nil {
				fatal("%v", err)
			}
			for _, t := range tree.ShoppingTrips {
				if t.TripNumber >= number {
					number = t.TripNumber
				}
			}
			number++
		}

		trip := schema.ShoppingTrip{TripNumber: number, Date: date, Items: items}
		if err := a.planner.RecordTrip(cmd.Context(), trip); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Trip %d recorded: %d item(s), %.2f total\n",
			ui.Pass.Render("✓"), number, len(items), trip.Total())
	},
}

var tripListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded trips",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		tree, err := a.state.Typed()
		if err != nil {
			fatal("%v", err)
		}
		if len(tree.ShoppingTrips) == 0 {
			fmt.Println(ui.Muted.Render("No trips recorded."))
			return
		}
		for _, trip := range tree.ShoppingTrips {
			stores := make([]string, 0, len(trip.StoreBreakdown))
			for store := range trip.StoreBreakdown {
				stores = append(stores, store)
			}
			sort.Strings(stores)
			breakdown := make([]string, 0, len(stores))
			for _, store := range stores {
				breakdown = append(breakdown, fmt.Sprintf("%s %.2f", store, trip.StoreBreakdown[store]))
			}
			fmt.Printf("#%-4d %s  %7.2f  %s\n",
				trip.TripNumber, trip.Date, trip.Total(), ui.Muted.Render(strings.Join(breakdown, ", ")))
		}
	},
}

var priceCmd = &cobra.Command{
	Use:     "price <ingredient>",
	GroupID: "tracking",
	Short:   "Show the price history of an ingredient",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		tree, err := a.state.Typed()
		if err != nil {
			fatal("%v", err)
		}

		key := planner.IngredientKey(args[0])
		summary, ok := tree.IngredientPrices[key]
		if !ok {
			fatal("no price history for %q", key)
		}

		fmt.Println(ui.Title.Render(key))
		fmt.Printf("  average  %.2f over %d purchase(s)\n", summary.AverageCost, len(summary.Records))
		if summary.Lowest != nil {
			fmt.Printf("  lowest   %.2f at %s on %s\n", summary.Lowest.Cost, summary.Lowest.Store, summary.Lowest.Date)
		}
		if summary.Highest != nil {
			fmt.Printf("  highest  %.2f at %s on %s\n", summary.Highest.Cost, summary.Highest.Store, summary.Highest.Date)
		}
		if summary.PreferredStore != "" {
			fmt.Printf("  prefer   %s\n", ui.Accent.Render(summary.PreferredStore))
		}
	},
}

func init() {
	tripAddCmd.Flags().StringArray("item", nil, "Line item as name:cost:store[:quantity] (repeatable)")
	tripAddCmd.Flags().String("date", "", "Trip date (ISO or natural language)")
	tripAddCmd.Flags().Int("number", 0, "Trip number (default: next)")

	tripCmd.AddCommand(tripAddCmd, tripListCmd)
	rootCmd.AddCommand(tripCmd, priceCmd)
}
