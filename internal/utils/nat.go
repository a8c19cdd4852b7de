package utils

import (
	"context"
	"fmt"
	"sync"
	"time"

	natlib "github.com/libp2p/go-nat"
)

// NAT is an alias to the libp2p NAT interface to avoid leaking the external package
// beyond this utility layer.
type NAT = natlib.NAT

const (
	natDiscoverTimeout = 5 * time.Second
	natMappingLifetime = 10 * time.Minute
	natRefreshInterval = 5 * time.Minute
)

// PortForwarder keeps a UPnP/NAT-PMP TCP mapping alive for a local port so a
// collector behind a home router stays reachable by the dashboard.
type PortForwarder struct {
	Port        int
	Description string
	Log         *Logger

	discover func(ctx context.Context) (NAT, error)

	mu           sync.Mutex
	nat          NAT
	externalPort int
	stop         chan struct{}
	wg           sync.WaitGroup
}

// NewPortForwarder prepares a forwarder; nothing touches the network until Start.
func NewPortForwarder(port int, description string, log *Logger) *PortForwarder {
	return &PortForwarder{
		Port:        port,
		Description: description,
		Log:         log,
		discover: func(ctx context.Context) (NAT, error) {
			c, cancel := context.WithTimeout(ctx, natDiscoverTimeout)
			defer cancel()
			return natlib.DiscoverGateway(c)
		},
	}
}

// Start discovers the gateway, adds the mapping and refreshes it in the background.
func (f *PortForwarder) Start(ctx context.Context) error {
	if f.Port <= 0 {
		return fmt.Errorf("port forward: invalid port %d", f.Port)
	}
	n, err := f.discover(ctx)
	if err != nil {
		return fmt.Errorf("port forward: discover gateway: %w", err)
	}
	if n == nil {
		return fmt.Errorf("port forward: no gateway found")
	}

	f.mu.Lock()
	if f.stop != nil {
		f.mu.Unlock()
		return nil
	}
	f.nat = n
	f.stop = make(chan struct{})
	stop := f.stop
	f.mu.Unlock()

	if err := f.refresh(ctx); err != nil {
		return err
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(natRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := f.refresh(context.Background()); err != nil {
					f.Log.Warn().Err(err).Int("port", f.Port).Msg("port forward refresh failed")
				}
			case <-stop:
				return
			}
		}
	}()
	return nil
}

func (f *PortForwarder) refresh(ctx context.Context) error {
	f.mu.Lock()
	n := f.nat
	f.mu.Unlock()
	if n == nil {
		return fmt.Errorf("port forward: not started")
	}
	c, cancel := context.WithTimeout(ctx, natDiscoverTimeout)
	defer cancel()
	external, err := n.AddPortMapping(c, "tcp", f.Port, f.Description, natMappingLifetime)
	if err != nil {
		return fmt.Errorf("port forward: add mapping: %w", err)
	}
	f.mu.Lock()
	f.externalPort = external
	f.mu.Unlock()
	f.Log.Info().Int("internal", f.Port).Int("external", external).Msg("port forward active")
	return nil
}

// ExternalPort returns the gateway-assigned port, 0 when inactive.
func (f *PortForwarder) ExternalPort() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.externalPort
}

// Stop ends the refresh loop and removes the mapping (best-effort).
func (f *PortForwarder) Stop() {
	f.mu.Lock()
	stop := f.stop
	n := f.nat
	f.stop = nil
	f.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	f.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), natDiscoverTimeout)
	defer cancel()
	if err := n.DeletePortMapping(ctx, "tcp", f.Port); err != nil {
		f.Log.Warn().Err(err).Int("port", f.Port).Msg("port forward removal failed")
		return
	}
	f.mu.Lock()
	f.externalPort = 0
	f.mu.Unlock()
}
