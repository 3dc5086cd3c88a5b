package session

import (
	"crypto/rand"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTTL           = 24 * time.Hour
	DefaultMaxSessions   = 5
	DefaultRetention     = 7 * 24 * time.Hour
	DefaultMaxLifetime   = 30 * 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

type config struct {
	ttl            time.Duration
	maxSessions    int
	retention      time.Duration
	maxLifetime    time.Duration
	now            func() time.Time
	entropy        io.Reader
	logger         *slog.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

func defaultConfig() config {
	return config{
		ttl:            DefaultTTL,
		maxSessions:    DefaultMaxSessions,
		retention:      DefaultRetention,
		maxLifetime:    DefaultMaxLifetime,
		now:            time.Now,
		entropy:        rand.Reader,
		logger:         slog.Default(),
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
}

// Option configures a Manager.
type Option func(*config)

// WithTTL sets the lifetime of a new session. Non-positive values are ignored.
func WithTTL(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithMaxSessions sets how many active sessions a user may hold before a new
// login evicts all of them.
func WithMaxSessions(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxSessions = n
		}
	}
}

// WithRetention sets how long inactive sessions are kept before the sweep
// deletes them.
func WithRetention(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithMaxLifetime caps how far past creation a session can be extended.
func WithMaxLifetime(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.maxLifetime = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithEntropy replaces crypto/rand as the token source. Tests only.
func WithEntropy(r io.Reader) Option {
	return func(c *config) {
		if r != nil {
			c.entropy = r
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *config) {
		if mp != nil {
			c.meterProvider = mp
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		if tp != nil {
			c.tracerProvider = tp
		}
	}
}
