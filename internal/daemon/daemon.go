// Package daemon runs the background sync process: it keeps the connectivity
// monitor and sync engine alive, serves the local dashboard, and watches a
// trigger file so foreground commands can request an immediate pass.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mealrota/mealrota/internal/bus"
	"github.com/mealrota/mealrota/internal/config"
	"github.com/mealrota/mealrota/internal/connectivity"
	"github.com/mealrota/mealrota/internal/dashboard"
	"github.com/mealrota/mealrota/internal/localstore"
	"github.com/mealrota/mealrota/internal/remote"
	"github.com/mealrota/mealrota/internal/state"
	"github.com/mealrota/mealrota/internal/syncer"
)

// Daemon owns the long-running components of the sync core.
type Daemon struct {
	cfg    config.Config
	logger *log.Logger

	db      *localstore.Store
	state   *state.Store
	bus     *bus.Bus
	monitor *connectivity.Monitor
	engine  *syncer.Manager
	dash    *dashboard.Server // nil when the dashboard port is 0
	watcher *fsnotify.Watcher

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// logWriter returns the daemon log destination: a size-rotated file when
// configured, stderr otherwise.
func logWriter(cfg config.Config) io.Writer {
	if cfg.Daemon.LogFile == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   cfg.Daemon.LogFile,
		MaxSize:    5, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
}

// New builds the daemon and opens its durable store. Call Start to run it.
func New(cfg config.Config) (*Daemon, error) {
	logger := log.New(logWriter(cfg), "[mealrotad] ", log.LstdFlags)

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
	httpClient, err := remote.NewHTTPClient(remote.Config{
		Endpoint: cfg.Remote.Endpoint,
		APIKey:   cfg.Remote.APIKey,
		Timeout:  cfg.RemoteTimeout(),
	}, logger)
	switch {
	case err == nil:
		client = httpClient
		probe = httpClient.Ping
	case errors.Is(err, remote.ErrNotConfigured):
		logger.Print("No backend configured; running offline only")
	default:
		db.Close()
		return nil, err
	}

	monitor := connectivity.New(b, probe, cfg.ProbeInterval(), logger)
	engine := syncer.New(db, st, b, monitor, client, cfg.SyncInterval(), logger)

	d := &Daemon{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		state:   st,
		bus:     b,
		monitor: monitor,
		engine:  engine,
	}
	if cfg.Daemon.ListenPort > 0 {
		d.dash = dashboard.New(cfg.Daemon.ListenPort, d.Status, logger)
	}
	return d, nil
}

// Status snapshots the sync state for the dashboard.
func (d *Daemon) Status(ctx context.Context) (dashboard.Status, error) {
	ss, err := d.state.SyncStatus()
	if err != nil {
		return dashboard.Status{}, err
	}
	dead, err := d.db.DeadLetterCount(ctx)
	if err != nil {
		return dashboard.Status{}, err
	}
	return dashboard.Status{
		Online:         ss.IsOnline,
		PendingChanges: ss.PendingChanges,
		LastSyncTime:   ss.LastSyncTime,
		DeadLetters:    dead,
	}, nil
}

// Start brings every component up and blocks until the context is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Print("Starting daemon")
	ctx, d.cancel = context.WithCancel(ctx)

	d.monitor.Start(ctx)
	if err := d.engine.Init(ctx); err != nil {
		return err
	}
	if d.dash != nil {
		if err := d.dash.Start(d.bus); err != nil {
			return err
		}
		d.logger.Printf("Dashboard at http://%s", d.dash.Addr())
	}
	if err := d.watchTriggerFile(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return d.Stop()
}

// watchTriggerFile requests a sync pass whenever the trigger file is touched.
// Foreground commands touch it instead of talking to the daemon directly.
func (d *Daemon) watchTriggerFile(ctx context.Context) error {
	path := d.cfg.Daemon.TriggerFile
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create trigger directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return fmt.Errorf("failed to create trigger file: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: editors and touch replace the file, which drops
	// a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch trigger directory: %w", err)
	}
	d.watcher = watcher

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Chmod) == 0 {
					continue
				}
				d.logger.Print("Trigger file touched, requesting sync pass")
				d.engine.TriggerSync()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Printf("Watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Stop shuts everything down in dependency order.
func (d *Daemon) Stop() error {
	d.logger.Print("Stopping daemon")
	if d.cancel != nil {
		d.cancel()
	}
	if d.watcher != nil {
		_ = d.watcher.Close()
	}
	d.wg.Wait()

	d.engine.Stop()
	d.monitor.Stop()
	if d.dash != nil {
		if err := d.dash.Stop(); err != nil {
			d.logger.Printf("Dashboard stop error: %v", err)
		}
	}
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	d.logger.Print("Daemon stopped")
	return nil
}

// TouchTrigger asks a running daemon for an immediate pass by touching its
// trigger file. Used by foreground commands.
func TouchTrigger(cfg config.Config) error {
	path := cfg.Daemon.TriggerFile
	if path == "" {
		return fmt.Errorf("no trigger file configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
