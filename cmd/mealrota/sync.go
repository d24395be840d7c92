package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mealrota/mealrota/internal/syncer"
	"github.com/mealrota/mealrota/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push queued changes and pull cloud state",
	Long: `Run one full sync cycle: push every queued local change, then pull the
cloud copy down over local state (cloud wins).

Requires a configured backend; see mealrota init.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		if !a.cfg.Configured() {
			fatal("no backend configured; run: mealrota init")
		}
		if !a.monitor.CheckNow(cmd.Context()) {
			fatal("backend unreachable; changes stay queued")
		}

		result, err := a.engine.RunPass(cmd.Context())
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Pushed %d, failed %d, pending %d\n", result.Synced, result.Failed, result.Pending)

		if err := a.engine.FetchFromCloud(cmd.Context()); err != nil {
			fatal("pull failed: %v", err)
		}
		fmt.Println(ui.Pass.Render("✓") + " In sync with cloud")
	},
}

var pushCmd = &cobra.Command{
	Use:     "push",
	GroupID: "sync",
	Short:   "Push queued changes only",
	Long: `Push every queued local change. With --all, first re-enqueue the entire
local dataset as upserts so the backend converges on the local copy (full
resynchronization).`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		if !a.cfg.Configured() {
			fatal("no backend configured; run: mealrota init")
		}
		if !a.monitor.CheckNow(cmd.Context()) {
			fatal("backend unreachable; changes stay queued")
		}

		var result syncer.PassResult
		if all, _ := cmd.Flags().GetBool("all"); all {
			result, err = a.engine.ForcePush(cmd.Context())
		} else {
			result, err = a.engine.RunPass(cmd.Context())
		}
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Pushed %d, failed %d, pending %d\n", result.Synced, result.Failed, result.Pending)
	},
}

var pullCmd = &cobra.Command{
	Use:     "pull [table...]",
	GroupID: "sync",
	Short:   "Pull cloud state down (cloud wins)",
	Long: `Pull the cloud copy down over local state. Naming tables limits the pull
to those tables (meals, cooking_log, shopping_trips, ingredient_prices);
with no arguments everything is pulled.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		if !a.cfg.Configured() {
			fatal("no backend configured; run: mealrota init")
		}
		if !a.monitor.CheckNow(cmd.Context()) {
			fatal("backend unreachable")
		}

		if err := a.engine.FetchFromCloud(cmd.Context(), args...); err != nil {
			fatal("%v", err)
		}
		fmt.Println(ui.Pass.Render("✓") + " Local state replaced with cloud copy")
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		online := false
		if a.cfg.Configured() {
			online = a.monitor.CheckNow(cmd.Context())
		}

		pending, err := a.db.QueueLen(cmd.Context())
		if err != nil {
			fatal("%v", err)
		}
		dead, err := a.db.DeadLetterCount(cmd.Context())
		if err != nil {
			fatal("%v", err)
		}
		ss, err := a.state.SyncStatus()
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("backend   %s\n", backendLabel(a.cfg.Remote.Endpoint, online))
		fmt.Printf("pending   %s\n", ui.CountBadge(pending, ui.Warn))
		fmt.Printf("dropped   %s\n", ui.CountBadge(dead, ui.Fail))
		last := ss.LastSyncTime
		if last == "" {
			last = ui.Muted.Render("never")
		}
		fmt.Printf("last sync %s\n", last)
	},
}

func backendLabel(endpoint string, online bool) string {
	if endpoint == "" {
		return ui.Muted.Render("not configured")
	}
	return endpoint + " " + ui.OnlineBadge(online)
}

func init() {
	pushCmd.Flags().Bool("all", false, "Re-enqueue the entire local dataset before pushing")

	rootCmd.AddCommand(syncCmd, pushCmd, pullCmd, statusCmd)
}
