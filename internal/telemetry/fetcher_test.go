package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"infracontrol/internal/models"
	"infracontrol/internal/probe"
)

type mockProber struct {
	mock.Mock
}

func (m *mockProber) Probe(ctx context.Context, host string, port int) probe.Result {
	args := m.Called(host, port)
	return args.Get(0).(probe.Result)
}

func collectorServer(t *testing.T, handler http.HandlerFunc) (string, int) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestFetchCollectorSuccess(t *testing.T) {
	host, port := collectorServer(t, jsonHandler(http.StatusOK,
		`{"hostname":"web1","status":"online","uptime_seconds":90000,"cpu_percent":12.5,"ram_percent":40,"disk_percent":73.25,"timestamp":1}`))
	prober := &mockProber{}
	f := NewHTTPFetcher(prober, port, 22, time.Second)

	res := f.Fetch(context.Background(), models.Target{ID: "web1", Hostname: "web1", IP: host})

	assert.Equal(t, SourceCollector, res.Source)
	assert.NoError(t, res.CollectorErr)
	assert.Equal(t, models.StatusOnline, res.Status.Status)
	assert.Equal(t, "1d 1h", res.Status.Uptime)
	assert.Equal(t, 12.5, res.Status.CPU)
	assert.Equal(t, 40.0, res.Status.RAM)
	assert.Equal(t, 73.25, res.Status.Disk)
	assert.Nil(t, res.Status.Ping)
	prober.AssertNotCalled(t, "Probe", mock.Anything, mock.Anything)
}

func TestFetchCollectorMissingFieldsDefaultToZero(t *testing.T) {
	host, port := collectorServer(t, jsonHandler(http.StatusOK, `{"uptime_seconds":5000}`))
	f := NewHTTPFetcher(&mockProber{}, port, 22, time.Second)

	res := f.Fetch(context.Background(), models.Target{ID: "a", IP: host})

	require.Equal(t, models.StatusOnline, res.Status.Status)
	assert.Equal(t, "1h 23m", res.Status.Uptime)
	assert.Zero(t, res.Status.CPU)
	assert.Zero(t, res.Status.RAM)
	assert.Zero(t, res.Status.Disk)
}

func TestFetchFallsBackToProbe(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "non-200", handler: jsonHandler(http.StatusInternalServerError, `{}`)},
		{name: "malformed body", handler: jsonHandler(http.StatusOK, `not json`)},
		{name: "wrong field type", handler: jsonHandler(http.StatusOK, `{"cpu_percent":"high"}`)},
		{name: "json array", handler: jsonHandler(http.StatusOK, `[1,2]`)},
		{name: "null body", handler: jsonHandler(http.StatusOK, `null`)},
		{name: "timeout", handler: func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port := collectorServer(t, tt.handler)
			prober := &mockProber{}
			prober.On("Probe", host, 22).Return(probe.Result{Host: host, Port: 22, LatencyMs: 3.21})
			f := NewHTTPFetcher(prober, port, 22, 200*time.Millisecond)

			res := f.Fetch(context.Background(), models.Target{ID: "db", IP: host})

			assert.Equal(t, SourceProbe, res.Source)
			assert.Error(t, res.CollectorErr)
			assert.Equal(t, models.StatusOnline, res.Status.Status)
			assert.Equal(t, models.UptimeUnknown, res.Status.Uptime)
			require.NotNil(t, res.Status.Ping)
			assert.Equal(t, 3.21, *res.Status.Ping)
			assert.Zero(t, res.Status.CPU)
			prober.AssertExpectations(t)
		})
	}
}

func TestFetchMalformedReportIsTyped(t *testing.T) {
	host, port := collectorServer(t, jsonHandler(http.StatusOK, `{"uptime_seconds":`))
	prober := &mockProber{}
	prober.On("Probe", host, 22).Return(probe.Result{Err: errors.New("refused")})
	f := NewHTTPFetcher(prober, port, 22, time.Second)

	res := f.Fetch(context.Background(), models.Target{ID: "x", IP: host})

	assert.ErrorIs(t, res.CollectorErr, ErrMalformedReport)
}

func TestDecodeReportRejectsOutOfRangeUptime(t *testing.T) {
	for _, body := range []string{
		`{"uptime_seconds": -1}`,
		`{"uptime_seconds": 1e300}`,
		`{"uptime_seconds": 9.3e18}`,
	} {
		_, err := DecodeReport(strings.NewReader(body))
		assert.ErrorIs(t, err, ErrMalformedReport, body)
	}

	report, err := DecodeReport(strings.NewReader(`{"uptime_seconds": 90000}`))
	require.NoError(t, err)
	assert.Equal(t, 90000.0, report.UptimeSeconds)
}

func TestFetchHugeUptimeFallsBackToProbe(t *testing.T) {
	host, port := collectorServer(t, jsonHandler(http.StatusOK, `{"status":"online","uptime_seconds":1e300,"cpu_percent":5}`))
	prober := &mockProber{}
	prober.On("Probe", host, 22).Return(probe.Result{Host: host, Port: 22, LatencyMs: 3.5})
	f := NewHTTPFetcher(prober, port, 22, time.Second)

	res := f.Fetch(context.Background(), models.Target{ID: "x", IP: host})

	assert.ErrorIs(t, res.CollectorErr, ErrMalformedReport)
	assert.Equal(t, SourceProbe, res.Source)
	assert.Equal(t, models.StatusOnline, res.Status.Status)
	assert.Equal(t, models.UptimeUnknown, res.Status.Uptime)
	assert.Equal(t, 0.0, res.Status.CPU)
	prober.AssertExpectations(t)
}

func TestFetchOfflineWhenBothPathsFail(t *testing.T) {
	prober := &mockProber{}
	prober.On("Probe", "127.0.0.1", 2222).Return(probe.Result{Host: "127.0.0.1", Port: 2222, Err: errors.New("connection refused")})
	// Port 1 is never a collector in tests.
	f := NewHTTPFetcher(prober, 1, 2222, 200*time.Millisecond)

	res := f.Fetch(context.Background(), models.Target{ID: "gone", Hostname: "gone", IP: "127.0.0.1"})

	assert.Equal(t, SourceNone, res.Source)
	assert.Equal(t, models.StatusOffline, res.Status.Status)
	assert.Nil(t, res.Status.Ping)
	assert.Equal(t, "gone", res.Status.ID)
	require.NotNil(t, res.Probe)
	assert.False(t, res.Probe.Reachable())
}

func TestFetchEmptyIP(t *testing.T) {
	prober := &mockProber{}
	prober.On("Probe", "", 22).Return(probe.Result{Err: errors.New("probe: empty host")})
	f := NewHTTPFetcher(prober, 0, 0, 0)

	res := f.Fetch(context.Background(), models.Target{ID: "noip"})

	assert.Equal(t, models.StatusOffline, res.Status.Status)
	assert.Equal(t, DefaultCollectorPort, f.CollectorPort)
	assert.Equal(t, DefaultFallbackPort, f.FallbackPort)
	assert.Equal(t, DefaultTimeout, f.Timeout)
}
