// Package connectivity tracks whether the cloud backend is reachable. The
// flag it maintains gates every sync pass; transitions are announced on the
// event bus so the sync engine can react immediately instead of waiting for
// its next timer tick.
package connectivity

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mealrota/mealrota/internal/bus"
)

// ProbeFunc checks backend reachability. A nil error means online.
type ProbeFunc func(ctx context.Context) error

// Monitor holds the current online flag and re-probes on an interval.
type Monitor struct {
	mu     sync.Mutex
	online bool

	bus      *bus.Bus
	probe    ProbeFunc
	interval time.Duration
	logger   *log.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New builds a monitor. A nil probe leaves the flag under manual control
// only (SetOnline). The initial state is offline until a probe or override
// says otherwise.
func New(b *bus.Bus, probe ProbeFunc, interval time.Duration, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		bus:      b,
		probe:    probe,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start probes once immediately, then on every interval tick until Stop or
// context cancellation.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		m.CheckNow(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CheckNow(ctx)
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// CheckNow runs one probe and applies the result.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	if m.probe == nil {
		return m.IsOnline()
	}
	err := m.probe(ctx)
	online := err == nil
	if !online {
		m.logger.Printf("Probe failed, treating backend as offline: %v", err)
	}
	m.SetOnline(online)
	return online
}

// SetOnline overrides the flag directly. Used by probes, tests, and callers
// that learn reachability out of band (a request that just failed, say).
// Publishes a transition event only when the flag actually flips.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if changed && m.bus != nil {
		m.bus.Publish(bus.EventConnectivityChanged, online)
	}
}

// IsOnline reports the current flag.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}
