// Package manager owns the monitoring state: the target registry, the poll
// engine, the scheduler and the published snapshot.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"infracontrol/internal/integrations/discord"
	"infracontrol/internal/integrations/mqtt"
	"infracontrol/internal/models"
	"infracontrol/internal/probe"
	"infracontrol/internal/telemetry"
	"infracontrol/internal/utils"
)

const DefaultConfigFile = "config.json"

// Environment overrides applied on top of the registry settings.
const (
	EnvUseTLS    = "INFRA_USE_TLS"
	EnvTLSCert   = "INFRA_TLS_CERT"
	EnvTLSKey    = "INFRA_TLS_KEY"
	EnvJWTSecret = "INFRA_JWT_SECRET"
	EnvAuth      = "INFRA_AUTH_REQUIRED"
)

type Manager struct {
	ConfigFile string
	Paths      *utils.Paths
	Log        *utils.Logger

	Registry *Registry
	Store    *SnapshotStore
	Engine   *Engine
	Monitor  *Monitor

	settings Settings

	mu        sync.Mutex
	started   bool
	listeners []*asyncListener
	mqtt      *mqtt.Publisher
}

// NewManagerWithConfig loads the registry at configPath, creating it with
// defaults when missing. An empty path means ./config.json.
func NewManagerWithConfig(configPath string) (*Manager, error) {
	config := strings.TrimSpace(configPath)
	if config == "" {
		config = DefaultConfigFile
	}
	if abs, err := filepath.Abs(config); err == nil {
		config = abs
	}

	reg := NewRegistry(config)
	created := false
	if err := reg.Load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if err := reg.Save(); err != nil {
			return nil, fmt.Errorf("unable to create default configuration at %s: %w", config, err)
		}
		created = true
	}

	settings := ApplyEnv(reg.Settings(), os.Getenv)
	paths := utils.PathsForConfig(config)
	logFile := paths.LogFile()
	if settings.LogDir != "" {
		logFile = filepath.Join(paths.Resolve(settings.LogDir), filepath.Base(logFile))
	}
	log := utils.NewLogger(logFile)
	if created {
		log.Info().Str("path", config).Msg("created default configuration")
	}

	prober := probe.NewTCPProber(settings.ProbeTimeout())
	fetcher := telemetry.NewHTTPFetcher(prober, settings.CollectorPort, settings.FallbackPort, settings.TelemetryTimeout())

	m := newManager(reg, settings, fetcher, prober, log)
	m.ConfigFile = config
	m.Paths = paths
	m.Log.Info().
		Str("config", config).
		Int("targets", len(reg.Targets())).
		Int("domains", len(reg.Domains())).
		Msg("configuration loaded")
	return m, nil
}

func newManager(reg *Registry, settings Settings, fetcher telemetry.Fetcher, prober probe.Prober, log *utils.Logger) *Manager {
	view := reg.View()
	store := NewSnapshotStore(models.EmptySnapshot(view.ClusterInfo, view.Users))
	engine := NewEngine(reg, fetcher, prober, settings.Workers, log)
	m := &Manager{
		Log:      log,
		Registry: reg,
		Store:    store,
		Engine:   engine,
		Monitor:  NewMonitor(engine, store, settings.PollInterval(), log),
		settings: settings,
	}
	if settings.DiscordWebhook != "" {
		notifier := NewStatusNotifier(discord.NewClient(settings.DiscordWebhook), log)
		m.addListener(notifier.Observe)
	}
	return m
}

// ApplyEnv overlays the INFRA_* environment variables on s.
func ApplyEnv(s Settings, getenv func(string) string) Settings {
	if v := strings.TrimSpace(getenv(EnvUseTLS)); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			s.TLSEnabled = parsed
		}
	}
	if v := strings.TrimSpace(getenv(EnvTLSCert)); v != "" {
		s.TLSCertPath = v
	}
	if v := strings.TrimSpace(getenv(EnvTLSKey)); v != "" {
		s.TLSKeyPath = v
	}
	if v := strings.TrimSpace(getenv(EnvJWTSecret)); v != "" {
		s.JWTSecret = v
	}
	if v := strings.TrimSpace(getenv(EnvAuth)); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			s.AuthRequired = parsed
		}
	}
	return s
}

// Settings returns the effective settings (file plus environment).
func (m *Manager) Settings() Settings { return m.settings }

func (m *Manager) addListener(fn Listener) {
	a := newAsyncListener(fn, m.Log)
	m.mu.Lock()
	m.listeners = append(m.listeners, a)
	m.mu.Unlock()
	m.Monitor.OnPublish(a.Offer)
}

// OnSnapshot registers fn for every published snapshot. fn runs on its own
// goroutine and may be slow.
func (m *Manager) OnSnapshot(fn Listener) {
	m.addListener(fn)
}

// Start connects optional publishers and starts polling.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	if m.settings.MQTTBroker != "" {
		pub, err := mqtt.Connect(mqtt.Options{BrokerURL: m.settings.MQTTBroker, Topic: m.settings.MQTTTopic})
		if err != nil {
			m.Log.Warn().Err(err).Msg("mqtt publisher disabled")
		} else {
			m.mu.Lock()
			m.mqtt = pub
			m.mu.Unlock()
			m.addListener(func(snap *models.Snapshot) {
				if err := pub.Publish(snap); err != nil {
					m.Log.Warn().Err(err).Str("topic", pub.Topic()).Msg("mqtt publish failed")
				}
			})
			m.Log.Info().Str("broker", m.settings.MQTTBroker).Str("topic", pub.Topic()).Msg("publishing snapshots to mqtt")
		}
	}

	m.Monitor.Start()
	m.Log.Info().Dur("interval", m.settings.PollInterval()).Msg("monitor started")
}

// Shutdown stops polling and releases publishers and the log file.
func (m *Manager) Shutdown() {
	m.Monitor.Stop()

	m.mu.Lock()
	listeners := m.listeners
	m.listeners = nil
	pub := m.mqtt
	m.mqtt = nil
	m.mu.Unlock()

	for _, l := range listeners {
		l.Close()
	}
	pub.Close()
	m.Log.Info().Msg("InfraControl is shutting down")
	m.Log.Close()
}

// Snapshot returns the last published snapshot. It never blocks on a cycle.
func (m *Manager) Snapshot() *models.Snapshot {
	return m.Store.Load()
}

// Refresh runs a cycle synchronously.
func (m *Manager) Refresh(ctx context.Context) error {
	return m.Monitor.RunOnce(ctx)
}

// changed logs a successful mutation and schedules an immediate cycle.
func (m *Manager) changed(event string, err error) error {
	if err != nil {
		return err
	}
	m.Log.Info().Msg(event)
	m.Monitor.Trigger()
	return nil
}

func (m *Manager) AddDomain(domain string) error {
	msg := fmt.Sprintf("domain %q added", strings.TrimSpace(domain))
	return m.changed(msg, m.Registry.AddDomain(domain))
}

func (m *Manager) RenameDomain(oldName, newName string) error {
	msg := fmt.Sprintf("domain %q renamed to %q", strings.TrimSpace(oldName), strings.TrimSpace(newName))
	return m.changed(msg, m.Registry.RenameDomain(oldName, newName))
}

func (m *Manager) RemoveDomain(domain string) error {
	msg := fmt.Sprintf("domain %q removed", strings.TrimSpace(domain))
	return m.changed(msg, m.Registry.RemoveDomain(domain))
}

// AddUser stores a new account; passwordHash must already be bcrypt-hashed.
func (m *Manager) AddUser(username, passwordHash string, role models.Role) error {
	msg := fmt.Sprintf("user %q added with role %s", strings.TrimSpace(username), role)
	return m.changed(msg, m.Registry.AddUser(username, passwordHash, role))
}

func (m *Manager) RemoveUser(username string) error {
	msg := fmt.Sprintf("user %q removed", strings.TrimSpace(username))
	return m.changed(msg, m.Registry.RemoveUser(username))
}

func (m *Manager) AddTarget(t models.Target) error {
	msg := fmt.Sprintf("target %q added", strings.TrimSpace(t.ID))
	return m.changed(msg, m.Registry.AddTarget(t))
}

func (m *Manager) UpdateTarget(id string, t models.Target) error {
	msg := fmt.Sprintf("target %q updated", strings.TrimSpace(id))
	return m.changed(msg, m.Registry.UpdateTarget(id, t))
}

func (m *Manager) RemoveTarget(id string) error {
	msg := fmt.Sprintf("target %q removed", strings.TrimSpace(id))
	return m.changed(msg, m.Registry.RemoveTarget(id))
}

func (m *Manager) SetClusterMembers(ids []string) error {
	msg := fmt.Sprintf("cluster membership set to %v", ids)
	return m.changed(msg, m.Registry.SetClusterMembers(ids))
}

// Authenticate checks credentials against the registry.
func (m *Manager) Authenticate(username, password string) (models.Role, error) {
	role, err := m.Registry.Authenticate(username, password)
	if err != nil {
		m.Log.Warn().Str("username", username).Msg("failed login")
		return "", err
	}
	return role, nil
}
