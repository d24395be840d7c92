package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mealrota/mealrota/internal/schema"
	"github.com/mealrota/mealrota/internal/ui"
)

var mealCmd = &cobra.Command{
	Use:     "meal",
	GroupID: "meals",
	Short:   "Manage the meal collection",
}

var mealAddCmd = &cobra.Command{
	Use:   "add <code> <name>",
	Short: "Add a meal to the collection",
	Long: `Add a meal identified by a short stable code.

Example:
  mealrota meal add M12 "Black Bean Chili" --servings 4 --tags quick,batch \
      --ingredient "black beans" --ingredient "crushed tomatoes"`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		servings, _ := cmd.Flags().GetInt("servings")
		prep, _ := cmd.Flags().GetInt("prep")
		cook, _ := cmd.Flags().GetInt("cook")
		tags, _ := cmd.Flags().GetStringSlice("tags")
		ingredientNames, _ := cmd.Flags().GetStringArray("ingredient")

		ingredients := make([]schema.Ingredient, 0, len(ingredientNames))
		for _, name := range ingredientNames {
			ingredients = append(ingredients, schema.Ingredient{Name: name})
		}

		meal := schema.Meal{
			Code:        strings.ToUpper(args[0]),
			Name:        args[1],
			Servings:    servings,
			PrepMinutes: prep,
			CookMinutes: cook,
			Tags:        tags,
			Ingredients: ingredients,
		}
		if err := a.planner.AddMeal(cmd.Context(), meal); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Added %s (%s)\n", ui.Pass.Render("✓"), meal.Code, meal.Name)
	},
}

var mealListCmd = &cobra.Command{
	Use:   "list",
	Short: "List meals",
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

		showArchived, _ := cmd.Flags().GetBool("archived")
		meals := tree.Meals
		if showArchived {
			meals = tree.ArchivedMeals
		}
		if len(meals) == 0 {
			fmt.Println(ui.Muted.Render("No meals yet. Add one with: mealrota meal add"))
			return
		}

		inRotation := make(map[string]bool, len(tree.RotationOrder))
		for _, code := range tree.RotationOrder {
			inRotation[code] = true
		}

		codes := make([]string, 0, len(meals))
		for code := range meals {
			codes = append(codes, code)
		}
		sort.Strings(codes)

		for _, code := range codes {
			meal := meals[code]
			marker := " "
			if inRotation[code] {
				marker = ui.Accent.Render("●")
			}
			line := fmt.Sprintf("%s %-6s %s", marker, code, meal.Name)
			if len(meal.Tags) > 0 {
				line += "  " + ui.Muted.Render(strings.Join(meal.Tags, ","))
			}
			fmt.Println(line)
		}
	},
}

var mealArchiveCmd = &cobra.Command{
	Use:   "archive <code>",
	Short: "Move a meal out of the active collection",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		code := strings.ToUpper(args[0])
		if err := a.planner.ArchiveMeal(cmd.Context(), code); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Archived %s\n", ui.Pass.Render("✓"), code)
	},
}

var mealRestoreCmd = &cobra.Command{
	Use:   "restore <code>",
	Short: "Bring an archived meal back",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		code := strings.ToUpper(args[0])
		if err := a.planner.RestoreMeal(cmd.Context(), code); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Restored %s\n", ui.Pass.Render("✓"), code)
	},
}

var mealDeleteCmd = &cobra.Command{
	Use:   "delete <code>",
	Short: "Permanently delete a meal",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		code := strings.ToUpper(args[0])
		if err := a.planner.DeleteMeal(cmd.Context(), code); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Deleted %s\n", ui.Pass.Render("✓"), code)
	},
}

var rotationCmd = &cobra.Command{
	Use:     "rotation [code...]",
	GroupID: "meals",
	Short:   "Show or set the rotation order",
	Long: `With no arguments, print the rotation with each meal's last-cooked date.
With meal codes, replace the rotation order.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		if len(args) > 0 {
			codes := make([]string, len(args))
			for i, arg := range args {
				codes[i] = strings.ToUpper(arg)
			}
			if err := a.planner.SetRotation(cmd.Context(), codes); err != nil {
				fatal("%v", err)
			}
			fmt.Printf("%s Rotation set: %s\n", ui.Pass.Render("✓"), strings.Join(codes, " → "))
			return
		}

		tree, err := a.state.Typed()
		if err != nil {
			fatal("%v", err)
		}
		if len(tree.RotationOrder) == 0 {
			fmt.Println(ui.Muted.Render("Rotation is empty. Set it with: mealrota rotation M1 M2 ..."))
			return
		}

		lastCooked := make(map[string]string)
		for _, entry := range tree.CookingLog {
			if entry.Date > lastCooked[entry.MealCode] {
				lastCooked[entry.MealCode] = entry.Date
			}
		}
		for i, code := range tree.RotationOrder {
			meal := tree.Meals[code]
			last := lastCooked[code]
			if last == "" {
				last = ui.Muted.Render("never cooked")
			}
			fmt.Printf("%2d. %-6s %-30s %s\n", i+1, code, meal.Name, last)
		}
	},
}

var nextCmd = &cobra.Command{
	Use:     "next",
	GroupID: "meals",
	Short:   "Suggest the next meal to cook",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		meal, err := a.planner.NextInRotation(cmd.Context())
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s %s (%s)\n", ui.Title.Render("Next up:"), meal.Name, meal.Code)
	},
}

func init() {
	mealAddCmd.Flags().Int("servings", 0, "Servings (default from settings)")
	mealAddCmd.Flags().Int("prep", 0, "Prep minutes")
	mealAddCmd.Flags().Int("cook", 0, "Cook minutes")
	mealAddCmd.Flags().StringSlice("tags", nil, "Comma-separated tags")
	mealAddCmd.Flags().StringArray("ingredient", nil, "Ingredient (repeatable)")
	mealListCmd.Flags().Bool("archived", false, "List archived meals instead")

	mealCmd.AddCommand(mealAddCmd, mealListCmd, mealArchiveCmd, mealRestoreCmd, mealDeleteCmd)
	rootCmd.AddCommand(mealCmd, rotationCmd, nextCmd)
}
