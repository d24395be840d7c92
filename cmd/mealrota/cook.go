package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/mealrota/mealrota/internal/schema"
	"github.com/mealrota/mealrota/internal/ui"
)

// parseDay resolves a natural-language or ISO date to the canonical day
// format.
func parseDay(text string) (string, error) {
	if text == "" {
		return time.Now().Format(schema.DateFormat), nil
	}
	if t, err := time.Parse(schema.DateFormat, text); err == nil {
		return t.Format(schema.DateFormat), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	result, err := w.Parse(text, time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to parse date %q: %w", text, err)
	}
	if result == nil {
		return "", fmt.Errorf("could not understand date %q", text)
	}
	return result.Time.Format(schema.DateFormat), nil
}

var cookCmd = &cobra.Command{
	Use:     "cook <code>",
	GroupID: "tracking",
	Short:   "Record that a meal was cooked",
	Long: `Append an entry to the cooking log. The date accepts ISO form or
natural language:

  mealrota cook M12
  mealrota cook M12 --date yesterday
  mealrota cook M12 --date "last tuesday" --servings 6 --notes "doubled it"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		dateText, _ := cmd.Flags().GetString("date")
		servings, _ := cmd.Flags().GetInt("servings")
		notes, _ := cmd.Flags().GetString("notes")

		date, err := parseDay(dateText)
		if err != nil {
			fatal("%v", err)
		}

		entry := schema.CookingLogEntry{
			MealCode: strings.ToUpper(args[0]),
			Date:     date,
			Servings: servings,
			Notes:    notes,
		}
		if err := a.planner.RecordCooking(cmd.Context(), entry); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Logged %s on %s\n", ui.Pass.Render("✓"), entry.MealCode, date)
	},
}

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: "tracking",
	Short:   "Show the cooking log",
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
		if len(tree.CookingLog) == 0 {
			fmt.Println(ui.Muted.Render("Nothing cooked yet."))
			return
		}

		limit, _ := cmd.Flags().GetInt("limit")
		entries := tree.CookingLog
		if limit > 0 && len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}
		for _, entry := range entries {
			name := entry.MealCode
			if meal, ok := tree.Meals[entry.MealCode]; ok {
				name = meal.Name
			}
			line := fmt.Sprintf("%s  %-30s", entry.Date, name)
			if entry.Notes != "" {
				line += "  " + ui.Muted.Render(entry.Notes)
			}
			fmt.Println(line)
		}
	},
}

var stapleCmd = &cobra.Command{
	Use:     "staple <name>",
	GroupID: "tracking",
	Short:   "Record restocking a pantry staple",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		dateText, _ := cmd.Flags().GetString("date")
		date, err := parseDay(dateText)
		if err != nil {
			fatal("%v", err)
		}

		staple := schema.StapleEntry{Name: args[0], Date: date}
		if err := a.planner.RecordStaple(cmd.Context(), staple); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Restocked %s\n", ui.Pass.Render("✓"), args[0])
	},
}

func init() {
	cookCmd.Flags().String("date", "", "When it was cooked (ISO or natural language)")
	cookCmd.Flags().Int("servings", 0, "Servings cooked (default from the meal)")
	cookCmd.Flags().String("notes", "", "Notes")
	logCmd.Flags().Int("limit", 20, "Show at most this many entries (0 for all)")
	stapleCmd.Flags().String("date", "", "When it was restocked")

	rootCmd.AddCommand(cookCmd, logCmd, stapleCmd)
}
