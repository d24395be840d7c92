package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mealrota/mealrota/internal/config"
	"github.com/mealrota/mealrota/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up the household and optional cloud backend",
	Long: `Create the config file interactively: household name, weekly budget,
and (optionally) the cloud backend endpoint and API key.

Leave the endpoint empty to run purely offline; sync can be configured later
by re-running init.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fatal("%v", err)
		}

		household := cfg.HouseholdName
		budget := ""
		endpoint := cfg.Remote.Endpoint
		apiKey := cfg.Remote.APIKey

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Household name").
					Value(&household),
				huh.NewInput().
					Title("Weekly grocery budget").
					Placeholder("0 to skip").
					Value(&budget).
					Validate(func(s string) error {
						if s == "" {
							return nil
						}
						if _, err := strconv.ParseFloat(s, 64); err != nil {
							return fmt.Errorf("enter a number")
						}
						return nil
					}),
			),
			huh.NewGroup(
				huh.NewInput().
					Title("Backend endpoint").
					Placeholder("https://... (empty for offline only)").
					Value(&endpoint),
				huh.NewInput().
					Title("API key").
					EchoMode(huh.EchoModePassword).
					Value(&apiKey),
			),
		)
		if err := form.Run(); err != nil {
			fatal("%v", err)
		}

		cfg.HouseholdName = household
		cfg.Remote.Endpoint = endpoint
		cfg.Remote.APIKey = apiKey
		if err := config.Save(configPath, cfg); err != nil {
			fatal("%v", err)
		}

		// Seed the settings domain so the state tree matches the config.
		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		settings := map[string]any{"householdName": household}
		if budget != "" {
			value, _ := strconv.ParseFloat(budget, 64)
			settings["weeklyBudget"] = value
		}
		if err := a.state.Set(map[string]any{"settings": settings}); err != nil {
			fatal("%v", err)
		}

		fmt.Println(ui.Pass.Render("✓") + " Config written to " + configPath)
		if cfg.Configured() {
			fmt.Println("Cloud sync enabled against " + ui.Accent.Render(endpoint))
		} else {
			fmt.Println(ui.Muted.Render("Running offline only; re-run init to add a backend."))
		}
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
