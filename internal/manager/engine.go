package manager

import (
	"context"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"infracontrol/internal/models"
	"infracontrol/internal/probe"
	"infracontrol/internal/telemetry"
	"infracontrol/internal/utils"
)

// ViewSource supplies the registry content for one cycle.
type ViewSource interface {
	View() View
}

// Engine runs one poll cycle: fetch every target, derive cluster quorum,
// probe every domain and assemble the snapshot.
type Engine struct {
	source  ViewSource
	fetcher telemetry.Fetcher
	prober  probe.Prober
	workers int
	log     *utils.Logger
	now     func() time.Time
}

func NewEngine(source ViewSource, fetcher telemetry.Fetcher, prober probe.Prober, workers int, log *utils.Logger) *Engine {
	if workers <= 0 {
		workers = DefaultSettings().Workers
	}
	return &Engine{
		source:  source,
		fetcher: fetcher,
		prober:  prober,
		workers: workers,
		log:     log,
		now:     time.Now,
	}
}

// RunCycle produces a new snapshot. It only returns an error when ctx is
// done before every probe finished; individual target failures are folded
// into their statuses.
func (e *Engine) RunCycle(ctx context.Context) (*models.Snapshot, error) {
	view := e.source.View()

	servers := make([]models.ServerStatus, len(view.Targets))
	websites := make([]models.WebsiteStatus, len(view.Domains))

	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	for i, t := range view.Targets {
		g.Go(func() error {
			servers[i] = e.fetchTarget(ctx, t)
			return nil
		})
	}
	for i, d := range view.Domains {
		g.Go(func() error {
			websites[i] = e.probeDomain(ctx, d)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("poll cycle aborted: %w", err)
	}

	alerts := make([]models.Alert, 0)
	for _, s := range servers {
		if !s.Online() {
			alerts = append(alerts, models.Alert{
				Type:    models.AlertServer,
				Message: fmt.Sprintf("Server %s is offline!", s.ID),
				Level:   models.LevelCritical,
			})
		}
	}

	cluster := BuildCluster(view.ClusterMembers, servers, view.ClusterInfo)
	if !cluster.Quorum {
		alerts = append(alerts, models.Alert{
			Type:    models.AlertCluster,
			Message: "Cluster Quorum Lost!",
			Level:   models.LevelCritical,
		})
	}

	for _, w := range websites {
		if w.Status != models.StatusOnline {
			alerts = append(alerts, models.Alert{
				Type:    models.AlertDomain,
				Message: fmt.Sprintf("Website %s is down!", w.Domain),
				Level:   models.LevelWarning,
			})
		}
	}

	users := view.Users
	if users == nil {
		users = []models.UserSummary{}
	}
	now := e.now()
	return &models.Snapshot{
		Servers:     servers,
		Cluster:     cluster,
		Websites:    websites,
		Alerts:      alerts,
		Users:       users,
		LastUpdated: now.Format(models.LastUpdatedLayout),
		UpdatedAt:   now.UTC(),
	}, nil
}

// fetchTarget isolates one target: a panic inside the fetcher yields an
// offline status for that target only.
func (e *Engine) fetchTarget(ctx context.Context, t models.Target) (status models.ServerStatus) {
	status = models.NewServerStatus(t)
	defer func() {
		if r := recover(); r != nil {
			status = models.NewServerStatus(t)
			e.log.Error().Str("target", t.ID).Interface("panic", r).Msg("telemetry fetch panicked")
		}
	}()

	res := e.fetcher.Fetch(ctx, t)
	if res.CollectorErr != nil {
		e.log.Debug().Str("target", t.ID).Err(res.CollectorErr).Str("source", string(res.Source)).Msg("collector unavailable")
	}
	return res.Status
}

func (e *Engine) probeDomain(ctx context.Context, domain string) (status models.WebsiteStatus) {
	status = models.WebsiteStatus{Domain: domain, Status: models.StatusOffline}
	defer func() {
		if r := recover(); r != nil {
			status = models.WebsiteStatus{Domain: domain, Status: models.StatusOffline}
			e.log.Error().Str("domain", domain).Interface("panic", r).Msg("domain probe panicked")
		}
	}()

	host, port := DomainEndpoint(domain)
	res := e.prober.Probe(ctx, host, port)
	if !res.Reachable() {
		e.log.Debug().Str("domain", domain).Err(res.Err).Msg("domain unreachable")
		return status
	}
	status.Status = models.StatusOnline
	status.Latency = res.Latency()
	status.Connections, status.RPM = LoadEstimate(res.LatencyMs)
	return status
}

// BuildCluster derives the cluster view from this cycle's server statuses.
// Members are listed in configured order and counted once; ids without a
// matching target count as offline members.
func BuildCluster(members []string, servers []models.ServerStatus, info models.ClusterInfo) models.ClusterSnapshot {
	online := make(map[string]bool, len(servers))
	for _, s := range servers {
		online[s.ID] = s.Online()
	}

	nodes := make([]models.ClusterNode, 0, len(members))
	listed := make(map[string]bool, len(members))
	onlineCount := 0
	for _, id := range members {
		if listed[id] {
			continue
		}
		listed[id] = true
		node := models.ClusterNode{ID: id, Status: models.StatusOffline, Health: models.HealthDegraded}
		if online[id] {
			node.Status = models.StatusOnline
			node.Health = models.HealthHealthy
			onlineCount++
		}
		nodes = append(nodes, node)
	}

	required := QuorumThreshold(len(nodes))
	quorum := len(nodes) > 0 && onlineCount >= required

	info = info.Copy()
	cs := models.ClusterSnapshot{
		Status:         models.HealthDegraded,
		HealthStatus:   models.HealthCritical,
		Quorum:         quorum,
		OnlineCount:    onlineCount,
		QuorumRequired: required,
		PrimaryNode:    info.PrimaryNode,
		ClusterIP:      info.ClusterIP,
		Latency:        info.Latency,
		SharedLoad:     info.SharedLoad,
		Services:       info.Services,
		Nodes:          nodes,
	}
	if quorum {
		cs.Status = models.HealthHealthy
		cs.HealthStatus = models.HealthOK
	}
	return cs
}

// QuorumThreshold is floor(n/2)+1 for multi-node clusters and 1 otherwise.
func QuorumThreshold(n int) int {
	if n > 1 {
		return n/2 + 1
	}
	return 1
}

// LoadEstimate derives the displayed connection count and requests per
// minute from a latency in milliseconds.
func LoadEstimate(latencyMs float64) (connections, rpm int) {
	return int(math.Floor(latencyMs * 0.4)), int(math.Floor(latencyMs * 1.5))
}

// DomainEndpoint returns the host and port to dial for a monitored domain.
// An https:// prefix selects 443, anything else 80; an explicit port wins.
func DomainEndpoint(domain string) (string, int) {
	d := strings.TrimSpace(domain)
	port := 80
	if strings.HasPrefix(strings.ToLower(d), "https://") {
		port = 443
	}
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}

	if host, p, err := net.SplitHostPort(d); err == nil {
		if n, err := strconv.Atoi(p); err == nil && n > 0 && n <= 65535 {
			return host, n
		}
		return host, port
	}
	return strings.Trim(d, "[]"), port
}
