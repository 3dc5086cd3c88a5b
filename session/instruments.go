package session

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/escritoresnogueira/backend/session"

type instruments struct {
	created        metric.Int64Counter
	evicted        metric.Int64Counter
	revoked        metric.Int64Counter
	sweepExpired   metric.Int64Counter
	sweepPurged    metric.Int64Counter
	touchFailures  metric.Int64Counter
	extendFailures metric.Int64Counter
}

func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	meter := mp.Meter(instrumentationName)
	var (
		ins instruments
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&ins.created, "session.created", "Sessions issued"},
		{&ins.evicted, "session.evicted", "Sessions deactivated because the owner hit the session cap"},
		{&ins.revoked, "session.revoked", "Sessions deactivated by logout or mass revocation"},
		{&ins.sweepExpired, "session.sweep.expired", "Expired sessions deactivated by the sweep"},
		{&ins.sweepPurged, "session.sweep.purged", "Inactive sessions deleted by the sweep"},
		{&ins.touchFailures, "session.touch.failures", "Failed last-access updates"},
		{&ins.extendFailures, "session.extend.failures", "Failed expiry extensions"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("creating counter %s: %w", c.name, err)
		}
	}
	return &ins, nil
}
