package models

import "time"

// Status values shared by servers, cluster members and websites.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Cluster health labels.
const (
	HealthHealthy  = "Healthy"
	HealthDegraded = "Degraded"
	HealthOK       = "Health OK"
	HealthCritical = "Critical"
)

// UptimeUnknown is reported when no collector answered for a server.
const UptimeUnknown = "N/A"

// ServerStatus is the per-cycle state of one Target.
type ServerStatus struct {
	ID       string   `json:"id"`
	Hostname string   `json:"hostname"`
	IP       string   `json:"ip"`
	URL      string   `json:"url"`
	Status   string   `json:"status"`
	Ping     *float64 `json:"ping"`
	Uptime   string   `json:"uptime"`
	CPU      float64  `json:"cpu"`
	RAM      float64  `json:"ram"`
	Disk     float64  `json:"disk"`
}

// Online reports whether the server was reachable this cycle.
func (s ServerStatus) Online() bool { return s.Status == StatusOnline }

// NewServerStatus returns the offline default for a target.
func NewServerStatus(t Target) ServerStatus {
	return ServerStatus{
		ID:       t.ID,
		Hostname: t.Hostname,
		IP:       t.IP,
		URL:      t.URL,
		Status:   StatusOffline,
		Uptime:   UptimeUnknown,
	}
}

// ClusterNode is one cluster member entry.
type ClusterNode struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Health string `json:"health"`
}

// ClusterSnapshot is the aggregate cluster view of one cycle.
type ClusterSnapshot struct {
	Status         string            `json:"status"`
	HealthStatus   string            `json:"health_status"`
	Quorum         bool              `json:"quorum"`
	OnlineCount    int               `json:"online_count"`
	QuorumRequired int               `json:"quorum_required"`
	PrimaryNode    string            `json:"primary_node"`
	ClusterIP      string            `json:"cluster_ip"`
	Latency        string            `json:"latency"`
	SharedLoad     string            `json:"shared_load"`
	Services       map[string]string `json:"services"`
	Nodes          []ClusterNode     `json:"nodes"`
}

// WebsiteStatus is the per-cycle state of one monitored domain.
// Connections and RPM are display heuristics derived from latency,
// not measured traffic.
type WebsiteStatus struct {
	Domain      string   `json:"domain"`
	Status      string   `json:"status"`
	Latency     *float64 `json:"latency"`
	Connections int      `json:"connections"`
	RPM         int      `json:"rpm"`
}

// AlertType categorizes an alert by the kind of target it refers to.
type AlertType string

const (
	AlertServer  AlertType = "server"
	AlertCluster AlertType = "cluster"
	AlertDomain  AlertType = "domain"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	LevelCritical AlertLevel = "critical"
	LevelWarning  AlertLevel = "warning"
)

// Alert is a transient finding of the current cycle.
type Alert struct {
	Type    AlertType  `json:"type"`
	Message string     `json:"msg"`
	Level   AlertLevel `json:"level"`
}

// Snapshot is the complete published result of one poll cycle.
// It is never mutated after publication.
type Snapshot struct {
	Servers     []ServerStatus  `json:"servers"`
	Cluster     ClusterSnapshot `json:"cluster"`
	Websites    []WebsiteStatus `json:"websites"`
	Alerts      []Alert         `json:"alerts"`
	Users       []UserSummary   `json:"users"`
	LastUpdated string          `json:"last_updated"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// LastUpdatedLayout is the wall-clock format of Snapshot.LastUpdated.
const LastUpdatedLayout = "15:04:05"

// EmptySnapshot is served before the first cycle completes.
func EmptySnapshot(info ClusterInfo, users []UserSummary) *Snapshot {
	info = info.Copy()
	if users == nil {
		users = []UserSummary{}
	}
	return &Snapshot{
		Servers: []ServerStatus{},
		Cluster: ClusterSnapshot{
			Status:       HealthHealthy,
			HealthStatus: HealthOK,
			Quorum:       true,
			PrimaryNode:  info.PrimaryNode,
			ClusterIP:    info.ClusterIP,
			Latency:      info.Latency,
			SharedLoad:   info.SharedLoad,
			Services:     info.Services,
			Nodes:        []ClusterNode{},
		},
		Websites:    []WebsiteStatus{},
		Alerts:      []Alert{},
		Users:       users,
		LastUpdated: "--",
	}
}
