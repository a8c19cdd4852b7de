package manager

import (
	"strings"
	"time"
)

// Settings are the process-level options stored alongside the registry.
type Settings struct {
	Port               int    `json:"port" yaml:"port"`
	PollIntervalMs     int    `json:"poll_interval_ms" yaml:"poll_interval_ms"`
	ProbeTimeoutMs     int    `json:"probe_timeout_ms" yaml:"probe_timeout_ms"`
	TelemetryTimeoutMs int    `json:"telemetry_timeout_ms" yaml:"telemetry_timeout_ms"`
	CollectorPort      int    `json:"collector_port" yaml:"collector_port"`
	FallbackPort       int    `json:"fallback_port" yaml:"fallback_port"`
	Workers            int    `json:"workers" yaml:"workers"`
	JWTSecret          string `json:"jwt_secret" yaml:"jwt_secret"`
	// AuthRequired puts every /api mutation behind a bearer token and role
	// check. Off by default: the dashboard frontend mutates without a token.
	AuthRequired bool `json:"auth_required" yaml:"auth_required"`
	LogDir             string `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`
	StaticDir          string `json:"static_dir,omitempty" yaml:"static_dir,omitempty"`
	// Discord webhook that receives state-change notifications.
	DiscordWebhook string `json:"discord_webhook,omitempty" yaml:"discord_webhook,omitempty"`
	// MQTT broker (tcp://host:1883) and topic that receive every published snapshot.
	MQTTBroker string `json:"mqtt_broker,omitempty" yaml:"mqtt_broker,omitempty"`
	MQTTTopic  string `json:"mqtt_topic,omitempty" yaml:"mqtt_topic,omitempty"`
	// TLS settings for serving HTTPS. Effective at process start.
	TLSEnabled  bool   `json:"tls_enabled" yaml:"tls_enabled"`
	TLSCertPath string `json:"tls_cert,omitempty" yaml:"tls_cert,omitempty"`
	TLSKeyPath  string `json:"tls_key,omitempty" yaml:"tls_key,omitempty"`
}

const defaultJWTSecret = "change-me-infracontrol-secret"

// DefaultSettings mirrors the values used when the config file omits a field.
func DefaultSettings() Settings {
	return Settings{
		Port:               5000,
		PollIntervalMs:     3000,
		ProbeTimeoutMs:     1000,
		TelemetryTimeoutMs: 1500,
		CollectorPort:      9101,
		FallbackPort:       22,
		Workers:            16,
		JWTSecret:          defaultJWTSecret,
		MQTTTopic:          "infracontrol/snapshot",
	}
}

// normalize replaces invalid values with defaults.
func (s Settings) normalize() Settings {
	def := DefaultSettings()
	if s.Port <= 0 || s.Port > 65535 {
		s.Port = def.Port
	}
	if s.PollIntervalMs <= 0 {
		s.PollIntervalMs = def.PollIntervalMs
	}
	if s.ProbeTimeoutMs <= 0 {
		s.ProbeTimeoutMs = def.ProbeTimeoutMs
	}
	if s.TelemetryTimeoutMs <= 0 {
		s.TelemetryTimeoutMs = def.TelemetryTimeoutMs
	}
	if s.CollectorPort <= 0 || s.CollectorPort > 65535 {
		s.CollectorPort = def.CollectorPort
	}
	if s.FallbackPort <= 0 || s.FallbackPort > 65535 {
		s.FallbackPort = def.FallbackPort
	}
	if s.Workers <= 0 {
		s.Workers = def.Workers
	}
	s.JWTSecret = strings.TrimSpace(s.JWTSecret)
	if s.JWTSecret == "" {
		s.JWTSecret = def.JWTSecret
	}
	s.DiscordWebhook = strings.TrimSpace(s.DiscordWebhook)
	s.MQTTBroker = strings.TrimSpace(s.MQTTBroker)
	s.MQTTTopic = strings.TrimSpace(s.MQTTTopic)
	if s.MQTTTopic == "" {
		s.MQTTTopic = def.MQTTTopic
	}
	s.TLSCertPath = strings.TrimSpace(s.TLSCertPath)
	s.TLSKeyPath = strings.TrimSpace(s.TLSKeyPath)
	return s
}

func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

func (s Settings) ProbeTimeout() time.Duration {
	return time.Duration(s.ProbeTimeoutMs) * time.Millisecond
}

func (s Settings) TelemetryTimeout() time.Duration {
	return time.Duration(s.TelemetryTimeoutMs) * time.Millisecond
}
