// Package telemetry retrieves structured metrics from a host's collector and
// falls back to a raw reachability probe when the collector is unavailable.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"infracontrol/internal/models"
	"infracontrol/internal/probe"
)

const (
	DefaultCollectorPort = 9101
	DefaultFallbackPort  = 22
	DefaultTimeout       = 1500 * time.Millisecond

	// maxReportBytes caps how much of a collector response is read.
	maxReportBytes = 64 << 10
)

// ErrMalformedReport is returned when the collector answers 200 with a body
// that is not a JSON object.
var ErrMalformedReport = errors.New("malformed collector report")

// Source records which path produced a ServerStatus.
type Source string

const (
	SourceCollector Source = "collector"
	SourceProbe     Source = "probe"
	SourceNone      Source = "none"
)

// Result is the typed outcome of Fetch. CollectorErr explains why the
// collector path was not used; Probe is set whenever the fallback ran.
type Result struct {
	Status       models.ServerStatus
	Source       Source
	CollectorErr error
	Probe        *probe.Result
}

// Fetcher pulls telemetry for servers.
type Fetcher interface {
	Fetch(ctx context.Context, t models.Target) Result
}

// HTTPFetcher queries http://{ip}:{CollectorPort}/metrics and falls back to
// Prober on FallbackPort.
type HTTPFetcher struct {
	Client        *http.Client
	Prober        probe.Prober
	CollectorPort int
	FallbackPort  int
	Timeout       time.Duration
}

// NewHTTPFetcher builds a fetcher with defaults for every zero argument.
func NewHTTPFetcher(prober probe.Prober, collectorPort, fallbackPort int, timeout time.Duration) *HTTPFetcher {
	if prober == nil {
		prober = probe.NewTCPProber(probe.DefaultTimeout)
	}
	if collectorPort <= 0 {
		collectorPort = DefaultCollectorPort
	}
	if fallbackPort <= 0 {
		fallbackPort = DefaultFallbackPort
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPFetcher{
		Client:        &http.Client{Timeout: timeout},
		Prober:        prober,
		CollectorPort: collectorPort,
		FallbackPort:  fallbackPort,
		Timeout:       timeout,
	}
}

// Fetch never fails: every error folds into the returned status.
func (f *HTTPFetcher) Fetch(ctx context.Context, t models.Target) Result {
	status := models.NewServerStatus(t)

	report, err := f.fetchReport(ctx, t.IP)
	if err == nil {
		status.Status = models.StatusOnline
		status.Uptime = FormatUptime(report.UptimeSeconds)
		status.CPU = percentOrZero(report.CPUPercent)
		status.RAM = percentOrZero(report.RAMPercent)
		status.Disk = percentOrZero(report.DiskPercent)
		return Result{Status: status, Source: SourceCollector}
	}

	res := Result{Source: SourceNone, CollectorErr: err}
	pr := f.Prober.Probe(ctx, t.IP, f.FallbackPort)
	res.Probe = &pr
	if pr.Reachable() {
		status.Status = models.StatusOnline
		status.Ping = pr.Latency()
		res.Source = SourceProbe
	}
	res.Status = status
	return res
}

func (f *HTTPFetcher) fetchReport(ctx context.Context, ip string) (*models.CollectorReport, error) {
	if ip == "" {
		return nil, fmt.Errorf("target has no ip")
	}
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	url := "http://" + net.JoinHostPort(ip, strconv.Itoa(f.CollectorPort)) + "/metrics"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: f.Timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxReportBytes))
		return nil, fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return DecodeReport(io.LimitReader(resp.Body, maxReportBytes))
}

// DecodeReport parses a collector body. Absent percentages stay nil.
func DecodeReport(r io.Reader) (*models.CollectorReport, error) {
	var report *models.CollectorReport
	if err := json.NewDecoder(r).Decode(&report); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}
	if report == nil {
		return nil, fmt.Errorf("%w: null body", ErrMalformedReport)
	}
	if !validUptime(report.UptimeSeconds) {
		return nil, fmt.Errorf("%w: uptime %v out of range", ErrMalformedReport, report.UptimeSeconds)
	}
	for _, pct := range []*float64{report.CPUPercent, report.RAMPercent, report.DiskPercent} {
		if pct != nil && (math.IsNaN(*pct) || math.IsInf(*pct, 0)) {
			return nil, fmt.Errorf("%w: non-finite percentage", ErrMalformedReport)
		}
	}
	return report, nil
}

func percentOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
