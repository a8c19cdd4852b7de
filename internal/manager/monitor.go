package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"infracontrol/internal/models"
	"infracontrol/internal/utils"
)

// Cycler produces one snapshot per call.
type Cycler interface {
	RunCycle(ctx context.Context) (*models.Snapshot, error)
}

// Listener is called with every published snapshot.
type Listener func(*models.Snapshot)

// Monitor runs poll cycles on a fixed interval and on demand. Cycles never
// overlap; a failed cycle keeps the previous snapshot.
type Monitor struct {
	cycler   Cycler
	store    *SnapshotStore
	interval time.Duration
	log      *utils.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	trigger chan struct{}

	runMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []Listener
}

func NewMonitor(cycler Cycler, store *SnapshotStore, interval time.Duration, log *utils.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultSettings().PollInterval()
	}
	return &Monitor{
		cycler:   cycler,
		store:    store,
		interval: interval,
		log:      log,
		trigger:  make(chan struct{}, 1),
	}
}

// OnPublish registers fn for every snapshot published after this call.
func (m *Monitor) OnPublish(fn Listener) {
	if fn == nil {
		return
	}
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

// Start launches the polling loop. The first cycle runs immediately.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		_ = m.RunOnce(ctx)
		for {
			select {
			case <-ticker.C:
				_ = m.RunOnce(ctx)
			case <-m.trigger:
				_ = m.RunOnce(ctx)
				ticker.Reset(m.interval)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels any in-flight cycle and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// Running reports whether the polling loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Trigger requests an immediate cycle without waiting for it. Requests made
// while one is already pending collapse into it.
func (m *Monitor) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// RunOnce executes a single cycle and publishes its result.
func (m *Monitor) RunOnce(ctx context.Context) (err error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll cycle panicked: %v", r)
			m.log.Error().Interface("panic", r).Msg("poll cycle panicked; keeping previous snapshot")
		}
	}()

	start := time.Now()
	snap, err := m.cycler.RunCycle(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("poll cycle failed; keeping previous snapshot")
		return err
	}
	m.store.Publish(snap)
	m.log.Debug().
		Int("servers", len(snap.Servers)).
		Int("websites", len(snap.Websites)).
		Int("alerts", len(snap.Alerts)).
		Dur("elapsed", time.Since(start)).
		Msg("snapshot published")

	m.listenersMu.RLock()
	listeners := append([]Listener(nil), m.listeners...)
	m.listenersMu.RUnlock()
	for _, fn := range listeners {
		m.notify(fn, snap)
	}
	return nil
}

func (m *Monitor) notify(fn Listener, snap *models.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("snapshot listener panicked")
		}
	}()
	fn(snap)
}
