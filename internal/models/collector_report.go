package models

// CollectorReport is the JSON document served by infracollector on /metrics.
// Percentages are pointers so the fetcher can tell an absent field from 0.
type CollectorReport struct {
	Hostname      string   `json:"hostname"`
	Status        string   `json:"status"`
	UptimeSeconds float64  `json:"uptime_seconds"`
	CPUPercent    *float64 `json:"cpu_percent,omitempty"`
	RAMPercent    *float64 `json:"ram_percent,omitempty"`
	DiskPercent   *float64 `json:"disk_percent,omitempty"`
	Timestamp     float64  `json:"timestamp"`
}
