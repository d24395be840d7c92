package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mealrota/mealrota/internal/config"
	"github.com/mealrota/mealrota/internal/daemon"
	"github.com/mealrota/mealrota/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon",
	Long: `Run the sync daemon in the foreground. It probes connectivity, pushes
queued changes on an interval, and serves the local dashboard:

  http://127.0.0.1:<port>/status   point-in-time sync status
  ws://127.0.0.1:<port>/ws         live event feed

Foreground commands request an immediate pass by touching the trigger file
(mealrota daemon trigger).`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fatal("%v", err)
		}
		if port, _ := cmd.Flags().GetInt("port"); cmd.Flags().Changed("port") {
			cfg.Daemon.ListenPort = port
		}

		d, err := daemon.New(cfg)
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("Daemon running; dashboard on port %d. Ctrl+C to stop.\n", cfg.Daemon.ListenPort)
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			fatal("%v", err)
		}
	},
}

var daemonTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Ask a running daemon for an immediate sync pass",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fatal("%v", err)
		}
		if err := daemon.TouchTrigger(cfg); err != nil {
			fatal("%v", err)
		}
		fmt.Println(ui.Pass.Render("✓") + " Sync pass requested")
	},
}

func init() {
	daemonCmd.Flags().Int("port", 0, "Dashboard port (overrides config)")

	daemonCmd.AddCommand(daemonTriggerCmd)
	rootCmd.AddCommand(daemonCmd)
}
