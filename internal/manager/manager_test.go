package manager

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"infracontrol/internal/models"
	"infracontrol/internal/probe"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	m, err := NewManagerWithConfig(path)
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m
}

func drainTrigger(m *Manager) bool {
	select {
	case <-m.Monitor.trigger:
		return true
	default:
		return false
	}
}

func TestNewManagerBootstrapsConfig(t *testing.T) {
	m := newTestManager(t)

	data, err := os.ReadFile(m.ConfigFile)
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 5000, doc.Settings.Port)
	require.NotNil(t, doc.Cluster)
	assert.Equal(t, "192.168.1.20", doc.Cluster.ClusterIP)

	snap := m.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, "--", snap.LastUpdated)
	assert.Empty(t, snap.Servers)
	assert.True(t, snap.Cluster.Quorum)
	assert.FileExists(t, filepath.Join(filepath.Dir(m.ConfigFile), "logs", "infracontrol.log"))
}

func TestMutationsPersistAndTrigger(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.AddDomain("example.com"))
	assert.True(t, drainTrigger(m))

	require.NoError(t, m.AddTarget(models.Target{ID: "web1", IP: "10.0.0.1"}))
	require.NoError(t, m.SetClusterMembers([]string{"web1"}))
	require.NoError(t, m.UpdateTarget("web1", models.Target{ID: "web1", IP: "10.0.0.2"}))
	assert.True(t, drainTrigger(m))

	assert.ErrorIs(t, m.RemoveDomain("missing.com"), ErrNotFound)
	assert.False(t, drainTrigger(m), "failed mutations do not trigger a cycle")

	reloaded := NewRegistry(m.ConfigFile)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, []string{"example.com"}, reloaded.Domains())
	assert.Equal(t, []string{"web1"}, reloaded.ClusterMembers())
	assert.Equal(t, "10.0.0.2", reloaded.Targets()[0].IP)

	require.NoError(t, m.RenameDomain("example.com", "www.example.com"))
	require.NoError(t, m.RemoveTarget("web1"))
	require.NoError(t, m.RemoveDomain("www.example.com"))
	assert.True(t, drainTrigger(m))
}

func TestUsersThroughManager(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddUser("admin", hash(t, "hello"), models.RoleAdmin))
	require.NoError(t, m.AddUser("viewer", hash(t, "pw"), models.RoleViewer))

	role, err := m.Authenticate("admin", "hello")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, role)
	_, err = m.Authenticate("admin", "nope")
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, m.RemoveUser("viewer"))
	assert.Equal(t, []models.UserSummary{{Username: "admin", Role: models.RoleAdmin}}, m.Registry.Users())
}

func TestRefreshPublishesUsersAndDomains(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, reg.AddDomain("example.com"))
	require.NoError(t, reg.AddUser("ops", hash(t, "pw"), models.RoleOperator))

	p := &mockProber{}
	p.On("Probe", "example.com", 80).Return(probe.Result{Host: "example.com", Port: 80, LatencyMs: 20})
	m := newManager(reg, DefaultSettings(), &mockFetcher{}, p, nil)

	require.NoError(t, m.Refresh(context.Background()))
	snap := m.Snapshot()
	require.Len(t, snap.Websites, 1)
	assert.Equal(t, models.StatusOnline, snap.Websites[0].Status)
	assert.Equal(t, 8, snap.Websites[0].Connections)
	assert.Equal(t, 30, snap.Websites[0].RPM)
	assert.Equal(t, []models.UserSummary{{Username: "ops", Role: models.RoleOperator}}, snap.Users)
	p.AssertCalled(t, "Probe", "example.com", mock.Anything)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvUseTLS:    "true",
		EnvTLSCert:   "/etc/infra/cert.pem",
		EnvTLSKey:    "/etc/infra/key.pem",
		EnvJWTSecret: "s3cret",
		EnvAuth:      "true",
	}
	assert.False(t, DefaultSettings().AuthRequired)
	s := ApplyEnv(DefaultSettings(), func(k string) string { return env[k] })
	assert.True(t, s.TLSEnabled)
	assert.True(t, s.AuthRequired)
	assert.Equal(t, "/etc/infra/cert.pem", s.TLSCertPath)
	assert.Equal(t, "/etc/infra/key.pem", s.TLSKeyPath)
	assert.Equal(t, "s3cret", s.JWTSecret)

	env[EnvUseTLS] = "not-a-bool"
	base := DefaultSettings()
	base.TLSEnabled = true
	assert.True(t, ApplyEnv(base, func(k string) string { return env[k] }).TLSEnabled)
}

func TestSettingsNormalize(t *testing.T) {
	s := Settings{Port: -1, Workers: 0, JWTSecret: "  "}.normalize()
	def := DefaultSettings()
	assert.Equal(t, def.Port, s.Port)
	assert.Equal(t, def.Workers, s.Workers)
	assert.Equal(t, def.JWTSecret, s.JWTSecret)
	assert.Equal(t, def.PollInterval(), s.PollInterval())
	assert.Equal(t, def.MQTTTopic, s.MQTTTopic)
}
