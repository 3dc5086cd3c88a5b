package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertBulkLogout        AlertType = "bulk_logout"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// slidingCounter counts events inside a trailing window and fires once
// the threshold is reached.
type slidingCounter struct {
	events    []time.Time
	window    time.Duration
	threshold int
}

// add records an event at now and reports the window size when the
// threshold is crossed. The window resets after firing so a single spike
// alerts once.
func (c *slidingCounter) add(now time.Time) (int, bool) {
	c.events = append(c.events, now)
	c.events = trimWindow(c.events, now, c.window)
	if len(c.events) < c.threshold {
		return 0, false
	}
	n := len(c.events)
	c.events = c.events[:0]
	return n, true
}

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu sync.Mutex

	loginFailures slidingCounter
	logouts       slidingCounter

	alertFn AlertFunc
	now     func() time.Time
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultLogoutAllWindow       = 5 * time.Minute
	defaultLogoutAllThreshold    = 20
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		loginFailures: slidingCounter{window: defaultLoginFailureWindow, threshold: defaultLoginFailureThreshold},
		logouts:       slidingCounter{window: defaultLogoutAllWindow, threshold: defaultLogoutAllThreshold},
		alertFn:       alertFn,
		now:           time.Now,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}

	m.mu.Lock()
	now := m.now()
	var (
		alert AlertEvent
		fire  bool
	)
	switch event {
	case AuditLoginFailure:
		if n, ok := m.loginFailures.add(now); ok {
			alert = AlertEvent{
				Type:      AlertLoginFailureSpike,
				Message:   "login failure rate exceeds threshold",
				Count:     n,
				Threshold: m.loginFailures.threshold,
				Timestamp: now,
			}
			fire = true
		}
	case AuditLogoutAll, AuditAdminRevoke:
		if n, ok := m.logouts.add(now); ok {
			alert = AlertEvent{
				Type:      AlertBulkLogout,
				Message:   "revoke-all rate exceeds threshold",
				Count:     n,
				Threshold: m.logouts.threshold,
				Timestamp: now,
			}
			fire = true
		}
	}
	m.mu.Unlock()

	if fire {
		m.alertFn(alert)
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
