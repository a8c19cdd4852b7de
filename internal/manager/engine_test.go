package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"infracontrol/internal/models"
	"infracontrol/internal/probe"
	"infracontrol/internal/telemetry"
)

type staticView View

func (v staticView) View() View { return View(v) }

type mockFetcher struct{ mock.Mock }

func (m *mockFetcher) Fetch(ctx context.Context, t models.Target) telemetry.Result {
	args := m.Called(t.ID)
	res := args.Get(0).(telemetry.Result)
	res.Status.ID, res.Status.Hostname, res.Status.IP = t.ID, t.Hostname, t.IP
	return res
}

type mockProber struct{ mock.Mock }

func (m *mockProber) Probe(ctx context.Context, host string, port int) probe.Result {
	args := m.Called(host, port)
	return args.Get(0).(probe.Result)
}

type fetchFunc func(ctx context.Context, t models.Target) telemetry.Result

func (f fetchFunc) Fetch(ctx context.Context, t models.Target) telemetry.Result { return f(ctx, t) }

func online() telemetry.Result {
	return telemetry.Result{
		Status: models.ServerStatus{Status: models.StatusOnline, Uptime: "1d 1h", CPU: 12.5},
		Source: telemetry.SourceCollector,
	}
}

func offline() telemetry.Result {
	return telemetry.Result{
		Status: models.ServerStatus{Status: models.StatusOffline, Uptime: models.UptimeUnknown},
		Source: telemetry.SourceNone,
	}
}

func threeNodeView() staticView {
	return staticView{
		Targets: []models.Target{
			{ID: "A", Hostname: "a.local", IP: "10.0.0.1"},
			{ID: "B", Hostname: "b.local", IP: "10.0.0.2"},
			{ID: "C", Hostname: "c.local", IP: "10.0.0.3"},
		},
		ClusterMembers: []string{"A", "B", "C"},
		ClusterInfo:    models.DefaultClusterInfo(),
		Domains:        []string{},
		Users:          []models.UserSummary{{Username: "admin", Role: models.RoleAdmin}},
	}
}

func fixedEngine(src ViewSource, f telemetry.Fetcher, p probe.Prober) *Engine {
	e := NewEngine(src, f, p, 4, nil)
	e.now = func() time.Time { return time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC) }
	return e
}

func TestQuorumThreshold(t *testing.T) {
	cases := map[int]int{0: 1, 1: 1, 2: 2, 3: 2, 4: 3, 5: 3, 6: 4}
	for n, want := range cases {
		assert.Equal(t, want, QuorumThreshold(n), "n=%d", n)
	}
}

func TestRunCycleQuorumHeld(t *testing.T) {
	f := &mockFetcher{}
	f.On("Fetch", "A").Return(online())
	f.On("Fetch", "B").Return(online())
	f.On("Fetch", "C").Return(offline())

	snap, err := fixedEngine(threeNodeView(), f, &mockProber{}).RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, snap.Cluster.Quorum)
	assert.Equal(t, models.HealthHealthy, snap.Cluster.Status)
	assert.Equal(t, models.HealthOK, snap.Cluster.HealthStatus)
	assert.Equal(t, 2, snap.Cluster.OnlineCount)
	assert.Equal(t, 2, snap.Cluster.QuorumRequired)
	assert.Equal(t, []models.ClusterNode{
		{ID: "A", Status: models.StatusOnline, Health: models.HealthHealthy},
		{ID: "B", Status: models.StatusOnline, Health: models.HealthHealthy},
		{ID: "C", Status: models.StatusOffline, Health: models.HealthDegraded},
	}, snap.Cluster.Nodes)
	assert.Equal(t, []models.Alert{
		{Type: models.AlertServer, Message: "Server C is offline!", Level: models.LevelCritical},
	}, snap.Alerts)
	assert.Equal(t, "13:04:05", snap.LastUpdated)
	assert.Equal(t, "server1", snap.Cluster.PrimaryNode)
	assert.Equal(t, "active/enabled", snap.Cluster.Services["pcsd"])
	f.AssertExpectations(t)
}

func TestRunCycleQuorumLost(t *testing.T) {
	f := &mockFetcher{}
	f.On("Fetch", "A").Return(online())
	f.On("Fetch", "B").Return(offline())
	f.On("Fetch", "C").Return(offline())

	snap, err := fixedEngine(threeNodeView(), f, &mockProber{}).RunCycle(context.Background())
	require.NoError(t, err)

	assert.False(t, snap.Cluster.Quorum)
	assert.Equal(t, models.HealthDegraded, snap.Cluster.Status)
	assert.Equal(t, models.HealthCritical, snap.Cluster.HealthStatus)
	assert.Contains(t, snap.Alerts, models.Alert{Type: models.AlertCluster, Message: "Cluster Quorum Lost!", Level: models.LevelCritical})
}

func TestRunCycleSingleNodeCluster(t *testing.T) {
	view := threeNodeView()
	view.ClusterMembers = []string{"A"}
	f := &mockFetcher{}
	f.On("Fetch", "A").Return(online())
	f.On("Fetch", "B").Return(offline())
	f.On("Fetch", "C").Return(offline())

	snap, err := fixedEngine(view, f, &mockProber{}).RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Cluster.Quorum)
	assert.Equal(t, 1, snap.Cluster.QuorumRequired)
}

func TestRunCycleDanglingMemberIsOffline(t *testing.T) {
	view := threeNodeView()
	view.ClusterMembers = []string{"A", "ghost"}
	f := &mockFetcher{}
	f.On("Fetch", mock.Anything).Return(online())

	snap, err := fixedEngine(view, f, &mockProber{}).RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Cluster.Nodes, 2)
	assert.Equal(t, models.ClusterNode{ID: "ghost", Status: models.StatusOffline, Health: models.HealthDegraded}, snap.Cluster.Nodes[1])
	assert.False(t, snap.Cluster.Quorum)
}

func TestBuildClusterCountsRepeatedMemberOnce(t *testing.T) {
	servers := []models.ServerStatus{
		{ID: "A", Status: models.StatusOnline},
		{ID: "B", Status: models.StatusOffline},
		{ID: "C", Status: models.StatusOffline},
	}

	cs := BuildCluster([]string{"A", "A", "B", "C"}, servers, models.DefaultClusterInfo())
	require.Len(t, cs.Nodes, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{cs.Nodes[0].ID, cs.Nodes[1].ID, cs.Nodes[2].ID})
	assert.Equal(t, 1, cs.OnlineCount)
	assert.Equal(t, 2, cs.QuorumRequired)
	assert.False(t, cs.Quorum)

	cs = BuildCluster([]string{"A", "A", "B"}, servers, models.DefaultClusterInfo())
	assert.Equal(t, 1, cs.OnlineCount)
	assert.Equal(t, 2, cs.QuorumRequired)
	assert.False(t, cs.Quorum)
}

func TestRunCycleEmptyRegistry(t *testing.T) {
	view := staticView{ClusterInfo: models.DefaultClusterInfo()}
	snap, err := fixedEngine(view, &mockFetcher{}, &mockProber{}).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Servers)
	assert.Empty(t, snap.Websites)
	assert.False(t, snap.Cluster.Quorum)
	assert.Equal(t, []models.Alert{{Type: models.AlertCluster, Message: "Cluster Quorum Lost!", Level: models.LevelCritical}}, snap.Alerts)
}

func TestRunCycleWebsitesAndAlertOrder(t *testing.T) {
	view := threeNodeView()
	view.Domains = []string{"https://shop.example.com", "down.example.com", "blog.example.com"}
	f := &mockFetcher{}
	f.On("Fetch", "A").Return(offline())
	f.On("Fetch", "B").Return(offline())
	f.On("Fetch", "C").Return(online())
	p := &mockProber{}
	p.On("Probe", "shop.example.com", 443).Return(probe.Result{Host: "shop.example.com", Port: 443, LatencyMs: 12.34})
	p.On("Probe", "down.example.com", 80).Return(probe.Result{Host: "down.example.com", Port: 80, Err: errors.New("refused")})
	p.On("Probe", "blog.example.com", 80).Return(probe.Result{Host: "blog.example.com", Port: 80, LatencyMs: 10})

	snap, err := fixedEngine(view, f, p).RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Websites, 3)
	shop := snap.Websites[0]
	assert.Equal(t, "https://shop.example.com", shop.Domain)
	assert.Equal(t, models.StatusOnline, shop.Status)
	require.NotNil(t, shop.Latency)
	assert.InDelta(t, 12.34, *shop.Latency, 0.001)
	assert.Equal(t, 4, shop.Connections)
	assert.Equal(t, 18, shop.RPM)

	down := snap.Websites[1]
	assert.Equal(t, models.StatusOffline, down.Status)
	assert.Nil(t, down.Latency)
	assert.Zero(t, down.Connections)
	assert.Zero(t, down.RPM)

	assert.Equal(t, []models.Alert{
		{Type: models.AlertServer, Message: "Server A is offline!", Level: models.LevelCritical},
		{Type: models.AlertServer, Message: "Server B is offline!", Level: models.LevelCritical},
		{Type: models.AlertCluster, Message: "Cluster Quorum Lost!", Level: models.LevelCritical},
		{Type: models.AlertDomain, Message: "Website down.example.com is down!", Level: models.LevelWarning},
	}, snap.Alerts)
	p.AssertExpectations(t)
}

func TestRunCyclePanickingFetchIsIsolated(t *testing.T) {
	f := fetchFunc(func(ctx context.Context, t models.Target) telemetry.Result {
		if t.ID == "B" {
			panic("collector decoder blew up")
		}
		res := online()
		res.Status.ID = t.ID
		return res
	})

	snap, err := fixedEngine(threeNodeView(), f, &mockProber{}).RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Servers, 3)
	assert.True(t, snap.Servers[0].Online())
	assert.Equal(t, "B", snap.Servers[1].ID)
	assert.Equal(t, models.StatusOffline, snap.Servers[1].Status)
	assert.Equal(t, models.UptimeUnknown, snap.Servers[1].Uptime)
	assert.True(t, snap.Servers[2].Online())
	assert.True(t, snap.Cluster.Quorum)
}

func TestRunCycleIsIdempotent(t *testing.T) {
	f := &mockFetcher{}
	f.On("Fetch", "A").Return(online())
	f.On("Fetch", "B").Return(offline())
	f.On("Fetch", "C").Return(online())
	e := fixedEngine(threeNodeView(), f, &mockProber{})

	first, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	second, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRunCycleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &mockFetcher{}
	f.On("Fetch", mock.Anything).Return(offline())

	snap, err := fixedEngine(threeNodeView(), f, &mockProber{}).RunCycle(ctx)
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadEstimate(t *testing.T) {
	conns, rpm := LoadEstimate(10)
	assert.Equal(t, 4, conns)
	assert.Equal(t, 15, rpm)

	conns, rpm = LoadEstimate(0.99)
	assert.Equal(t, 0, conns)
	assert.Equal(t, 1, rpm)
}

func TestDomainEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		host string
		port int
	}{
		{"example.com", "example.com", 80},
		{"https://example.com", "example.com", 443},
		{"HTTPS://Example.com/", "Example.com", 443},
		{"http://example.com/path?q=1", "example.com", 80},
		{"https://example.com:8443/x", "example.com", 8443},
		{"example.com:8080", "example.com", 8080},
		{"[::1]:9000", "::1", 9000},
		{"https-mirror.example.com", "https-mirror.example.com", 80},
		{"  padded.example.com  ", "padded.example.com", 80},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			host, port := DomainEndpoint(tt.in)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
		})
	}
}
