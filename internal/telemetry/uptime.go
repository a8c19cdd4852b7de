package telemetry

import (
	"fmt"
	"math"
)

// MaxUptimeSeconds bounds accepted collector uptimes (about 31,700 years).
const MaxUptimeSeconds = 1e12

func validUptime(seconds float64) bool {
	return !math.IsNaN(seconds) && seconds >= 0 && seconds <= MaxUptimeSeconds
}

// FormatUptime renders seconds as the two largest applicable units:
// "1d 1h", "1h 23m", or minutes only ("2m", "0m"). Values outside
// [0, MaxUptimeSeconds] are clamped.
func FormatUptime(seconds float64) string {
	switch {
	case math.IsNaN(seconds) || seconds < 0:
		seconds = 0
	case seconds > MaxUptimeSeconds:
		seconds = MaxUptimeSeconds
	}
	total := int64(seconds)
	days := total / 86400
	hours := (total % 86400) / 3600
	mins := (total % 3600) / 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}
