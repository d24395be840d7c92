package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mealrota/mealrota/internal/ui"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Export, import, or reset the state tree",
}

var stateExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the full state tree to stdout or a file",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		data, err := a.state.ExportState()
		if err != nil {
			fatal("%v", err)
		}

		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "json":
			// already JSON
		case "yaml":
			var tree map[string]any
			if err := json.Unmarshal(data, &tree); err != nil {
				fatal("%v", err)
			}
			data, err = yaml.Marshal(tree)
			if err != nil {
				fatal("%v", err)
			}
		default:
			fatal("unknown format %q (json or yaml)", format)
		}

		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			fmt.Println(string(data))
			return
		}
		if err := os.WriteFile(out, data, 0o600); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Exported to %s\n", ui.Pass.Render("✓"), out)
	},
}

var stateImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the state tree with a previously exported copy",
	Long: `Import a JSON export. Fields absent from the file keep their defaults.
The import replaces local state; it does not merge with it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			fatal("%v", err)
		}
		if err := a.state.ImportState(data); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Imported %s\n", ui.Pass.Render("✓"), args[0])
	},
}

var stateResetCmd = &cobra.Command{
	Use:   "reset [domain...]",
	Short: "Reset domains (or everything) to defaults",
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			fatal("refusing to reset without --yes")
		}

		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		if err := a.state.ResetState(args...); err != nil {
			fatal("%v", err)
		}
		if len(args) == 0 {
			fmt.Printf("%s Reset all domains to defaults\n", ui.Pass.Render("✓"))
		} else {
			fmt.Printf("%s Reset %v to defaults\n", ui.Pass.Render("✓"), args)
		}
	},
}

func init() {
	stateExportCmd.Flags().String("format", "json", "Output format: json or yaml")
	stateExportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")
	stateResetCmd.Flags().Bool("yes", false, "Confirm the reset")

	stateCmd.AddCommand(stateExportCmd, stateImportCmd, stateResetCmd)
	rootCmd.AddCommand(stateCmd)
}
