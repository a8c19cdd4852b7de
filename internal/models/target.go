// Package models defines the registry entries, per-cycle statuses and the
// published snapshot shared by the InfraControl poller and API.
package models

import "strings"

// Target is a monitored server as declared in the registry.
type Target struct {
	ID       string `json:"id" yaml:"id" validate:"required,max=64"`
	Hostname string `json:"hostname" yaml:"hostname" validate:"max=253"`
	IP       string `json:"ip" yaml:"ip" validate:"required,max=253"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty" validate:"omitempty,max=2048"`
}

// Normalize trims surrounding whitespace from every field.
func (t Target) Normalize() Target {
	return Target{
		ID:       strings.TrimSpace(t.ID),
		Hostname: strings.TrimSpace(t.Hostname),
		IP:       strings.TrimSpace(t.IP),
		URL:      strings.TrimSpace(t.URL),
	}
}

// ClusterInfo holds the descriptive cluster fields that come from
// configuration and are carried into every snapshot unchanged.
type ClusterInfo struct {
	PrimaryNode string            `json:"primary_node" yaml:"primary_node"`
	ClusterIP   string            `json:"cluster_ip" yaml:"cluster_ip"`
	Latency     string            `json:"latency" yaml:"latency"`
	SharedLoad  string            `json:"shared_load" yaml:"shared_load"`
	Services    map[string]string `json:"services" yaml:"services"`
}

// DefaultClusterInfo returns the descriptive fields used when the
// configuration file does not define any.
func DefaultClusterInfo() ClusterInfo {
	return ClusterInfo{
		PrimaryNode: "server1",
		ClusterIP:   "192.168.1.20",
		Latency:     "0.45",
		SharedLoad:  "14.2",
		Services: map[string]string{
			"corosync":  "active/enabled",
			"pacemaker": "active/enabled",
			"pcsd":      "active/enabled",
		},
	}
}

// Copy returns a deep copy so the services map is never shared between snapshots.
func (c ClusterInfo) Copy() ClusterInfo {
	dup := c
	if c.Services != nil {
		dup.Services = make(map[string]string, len(c.Services))
		for k, v := range c.Services {
			dup.Services[k] = v
		}
	}
	return dup
}
