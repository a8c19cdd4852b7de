// Package probe implements the low-level TCP reachability check used as the
// fallback signal for servers and as the only signal for websites.
package probe

import (
	"context"
	"fmt"
	"math"
	"net"
	"strconv"
	"time"
)

// DefaultTimeout bounds a single connection attempt.
const DefaultTimeout = time.Second

// Result is the outcome of one probe. Err is nil iff the target answered.
type Result struct {
	Host      string
	Port      int
	LatencyMs float64
	Err       error
}

// Reachable reports whether the connection succeeded.
func (r Result) Reachable() bool { return r.Err == nil }

// Latency returns a pointer to the latency for JSON encoding, or nil when unreachable.
func (r Result) Latency() *float64 {
	if !r.Reachable() {
		return nil
	}
	v := r.LatencyMs
	return &v
}

// Prober checks whether host:port accepts connections.
type Prober interface {
	Probe(ctx context.Context, host string, port int) Result
}

// TCPProber dials host:port with a bounded timeout. It holds no mutable
// state and may be shared by any number of goroutines.
type TCPProber struct {
	Timeout time.Duration
}

// NewTCPProber returns a prober with the given timeout (DefaultTimeout when <= 0).
func NewTCPProber(timeout time.Duration) *TCPProber {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TCPProber{Timeout: timeout}
}

// Probe opens and immediately closes a TCP connection.
func (p *TCPProber) Probe(ctx context.Context, host string, port int) Result {
	res := Result{Host: host, Port: port}
	if host == "" {
		res.Err = fmt.Errorf("probe: empty host")
		return res
	}
	if port <= 0 || port > 65535 {
		res.Err = fmt.Errorf("probe: invalid port %d", port)
		return res
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := net.Dialer{}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		res.Err = err
		return res
	}
	elapsed := time.Since(start)
	_ = conn.Close()
	res.LatencyMs = RoundMillis(elapsed)
	return res
}

// RoundMillis converts d to milliseconds rounded to two decimal places.
func RoundMillis(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}
