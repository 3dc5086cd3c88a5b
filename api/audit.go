package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess     AuditEvent = "login_success"
	AuditLoginFailure     AuditEvent = "login_failure"
	AuditLoginRateLimited AuditEvent = "login_rate_limited"
	AuditLogout           AuditEvent = "logout"
	AuditLogoutAll        AuditEvent = "logout_all"
	AuditSessionExtended  AuditEvent = "session_extended"
	AuditAccountDeleted   AuditEvent = "account_deleted"
	AuditProfileUpdated   AuditEvent = "profile_updated"
	AuditAdminSweep       AuditEvent = "admin_sweep"
	AuditAdminRevoke      AuditEvent = "admin_revoke"
	AuditAdminPromote     AuditEvent = "admin_promote"
	AuditAdminAuthFailure AuditEvent = "admin_auth_failure"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	webhook *auditWebhook
	now     func() time.Time
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
		now:    time.Now,
	}
}

// log writes a structured audit log entry and forwards it to the metrics
// collector and webhook when configured. Session tokens must never be
// passed as attributes; use session.TokenPrefix.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	ts := al.now().UTC().Format(time.RFC3339)
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", ts),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)

	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
	if al.webhook != nil {
		evt := webhookEvent{
			Event:      string(event),
			RemoteAddr: r.RemoteAddr,
			Timestamp:  ts,
		}
		for _, a := range attrs {
			if a.Key == "subject" {
				evt.Subject = a.Value.String()
				continue
			}
			if evt.Attrs == nil {
				evt.Attrs = make(map[string]string, len(attrs))
			}
			evt.Attrs[a.Key] = a.Value.String()
		}
		al.webhook.enqueue(evt)
	}
}

// logEvent is a convenience for events tied to an identity subject.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, subject string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("subject", subject),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a rejected request.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
