// Command mealrota is the offline-first household meal rotation CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/mealrota/mealrota/internal/bus"
	"github.com/mealrota/mealrota/internal/config"
	"github.com/mealrota/mealrota/internal/connectivity"
	"github.com/mealrota/mealrota/internal/localstore"
	"github.com/mealrota/mealrota/internal/planner"
	"github.com/mealrota/mealrota/internal/remote"
	"github.com/mealrota/mealrota/internal/state"
	"github.com/mealrota/mealrota/internal/syncer"
	"github.com/mealrota/mealrota/internal/ui"
)

var configPath string
var verbose bool

var rootCmd = &cobra.Command{
	Use:   "mealrota",
	Short: "Offline-first household meal rotation",
	Long: `mealrota keeps your household's meal rotation, cooking log, shopping
trips, and ingredient price history on your own machine, and syncs them to a
cloud backend whenever one is configured and reachable.

Everything works offline; changes queue durably and push when connectivity
returns.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Init()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Config file location")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log internal activity to stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "meals", Title: "Meal Commands:"},
		&cobra.Group{ID: "tracking", Title: "Tracking Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
	)
}

// app bundles the wired components a foreground command needs.
type app struct {
	cfg     config.Config
	logger  *log.Logger
	db      *localstore.Store
	state   *state.Store
	bus     *bus.Bus
	monitor *connectivity.Monitor
	engine  *syncer.Manager
	planner *planner.Planner
}

// openApp loads config and wires the components for one command invocation.
func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	var logOut io.Writer = io.Discard
	if verbose {
		logOut = os.Stderr
	}
	logger := log.New(logOut, "[mealrota] ", log.LstdFlags)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := localstore.Open(cfg.DBPath(), logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background(), localstore.DefaultSchema()); err != nil {
		db.Close()
		return nil, err
	}

	st, err := state.New(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	b := bus.New(logger)

	var client remote.Client
	var probe connectivity.ProbeFunc
	if httpClient, err := remote.NewHTTPClient(remote.Config{
		Endpoint: cfg.Remote.Endpoint,
		APIKey:   cfg.Remote.APIKey,
		Timeout:  cfg.RemoteTimeout(),
	}, logger); err == nil {
		client = httpClient
		probe = httpClient.Ping
	}

	monitor := connectivity.New(b, probe, cfg.ProbeInterval(), logger)
	engine := syncer.New(db, st, b, monitor, client, cfg.SyncInterval(), logger)
	pl := planner.New(st, db, engine, b, logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		state:   st,
		bus:     b,
		monitor: monitor,
		engine:  engine,
		planner: pl,
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
	}
}

// fatal prints the error and exits. Commands use it instead of returning
// errors up through cobra.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
