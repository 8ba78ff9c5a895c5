package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEvent represents an audit log event type
type AuditEvent string

const (
	// Authentication events
	AuditLoginSuccess   AuditEvent = "auth.login.success"
	AuditLoginFailure   AuditEvent = "auth.login.failure"
	AuditRefreshSuccess AuditEvent = "auth.refresh.success"
	AuditRefreshFailure AuditEvent = "auth.refresh.failure"
	AuditLogout         AuditEvent = "auth.logout"
	AuditSessionRevoked AuditEvent = "auth.session.revoked"
)

// AuditActorType represents the type of actor performing the action
type AuditActorType string

const (
	ActorTypeAdministrator AuditActorType = "administrator"
	ActorTypeOrganization  AuditActorType = "organization"
	ActorTypeAnonymous     AuditActorType = "anonymous"
)

// ActorTypeFor maps a role to its audit actor type
func ActorTypeFor(role Role) AuditActorType {
	switch role {
	case RoleAdministrator:
		return ActorTypeAdministrator
	case RoleOrganization:
		return ActorTypeOrganization
	}
	return ActorTypeAnonymous
}

// AuditLog represents an audit log entry
type AuditLog struct {
	ID         uuid.UUID
	EventType  AuditEvent
	ActorType  AuditActorType
	ActorID    *uuid.UUID
	SessionID  string
	TargetType string
	TargetID   *uuid.UUID
	Details    map[string]interface{}
	ClientIP   string
	UserAgent  string
	CreatedAt  time.Time
}

// AuditLogger is an interface for logging audit events
type AuditLogger interface {
	Log(entry *AuditLog) error
}

// InMemoryAuditLogger is a simple in-memory audit logger for development
type InMemoryAuditLogger struct {
	mu   sync.Mutex
	logs []AuditLog
}

// NewInMemoryAuditLogger creates a new in-memory audit logger
func NewInMemoryAuditLogger() *InMemoryAuditLogger {
	return &InMemoryAuditLogger{
		logs: make([]AuditLog, 0),
	}
}

// Log adds an audit log entry
func (l *InMemoryAuditLogger) Log(entry *AuditLog) error {
	stamp(entry)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, *entry)
	return nil
}

// GetLogs returns all audit logs (for testing/development)
func (l *InMemoryAuditLogger) GetLogs() []AuditLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditLog, len(l.logs))
	copy(out, l.logs)
	return out
}

// SlogAuditLogger writes audit entries as structured log records
type SlogAuditLogger struct {
	log *slog.Logger
}

// NewSlogAuditLogger creates an audit logger backed by log
func NewSlogAuditLogger(log *slog.Logger) *SlogAuditLogger {
	if log == nil {
		log = slog.Default()
	}
	return &SlogAuditLogger{log: log.With("component", "audit")}
}

// Log emits entry at info level
func (l *SlogAuditLogger) Log(entry *AuditLog) error {
	stamp(entry)
	attrs := []slog.Attr{
		slog.String("audit_id", entry.ID.String()),
		slog.String("actor_type", string(entry.ActorType)),
		slog.String("client_ip", entry.ClientIP),
		slog.String("user_agent", entry.UserAgent),
	}
	if entry.ActorID != nil {
		attrs = append(attrs, slog.String("actor_id", entry.ActorID.String()))
	}
	if entry.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", entry.SessionID))
	}
	if entry.TargetType != "" {
		attrs = append(attrs, slog.String("target_type", entry.TargetType))
	}
	if entry.TargetID != nil {
		attrs = append(attrs, slog.String("target_id", entry.TargetID.String()))
	}
	for k, v := range entry.Details {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.log.LogAttrs(context.Background(), slog.LevelInfo, string(entry.EventType), attrs...)
	return nil
}

func stamp(entry *AuditLog) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
}

// CreateLoginAuditLog creates an audit log for login attempts
func CreateLoginAuditLog(success bool, p *Principal, role Role, email, reason, clientIP, userAgent string) *AuditLog {
	eventType := AuditLoginFailure
	if success {
		eventType = AuditLoginSuccess
	}

	details := map[string]interface{}{
		"email": email,
		"role":  string(role),
	}
	if !success {
		details["reason"] = reason
	}

	entry := &AuditLog{
		EventType:  eventType,
		ActorType:  ActorTypeFor(role),
		TargetType: string(role),
		Details:    details,
		ClientIP:   clientIP,
		UserAgent:  userAgent,
	}
	if p != nil {
		id := p.ID
		entry.ActorID = &id
		entry.TargetID = &id
	}
	return entry
}

// CreateRefreshAuditLog creates an audit log for a refresh attempt.
// reason is recorded even though the wire response hides it.
func CreateRefreshAuditLog(issued *Issued, reason, clientIP, userAgent string) *AuditLog {
	entry := &AuditLog{
		EventType:  AuditRefreshFailure,
		ActorType:  ActorTypeAnonymous,
		TargetType: "refresh_credential",
		Details:    map[string]interface{}{},
		ClientIP:   clientIP,
		UserAgent:  userAgent,
	}
	if issued != nil {
		id := issued.Principal.ID
		entry.EventType = AuditRefreshSuccess
		entry.ActorType = ActorTypeFor(issued.Principal.Role)
		entry.ActorID = &id
		entry.SessionID = issued.SessionID
		return entry
	}
	entry.Details["reason"] = reason
	return entry
}

// CreateLogoutAuditLog creates an audit log for a logout revocation
func CreateLogoutAuditLog(cred *RefreshCredential, clientIP, userAgent string) *AuditLog {
	entry := &AuditLog{
		EventType:  AuditLogout,
		ActorType:  ActorTypeAnonymous,
		TargetType: "refresh_credential",
		ClientIP:   clientIP,
		UserAgent:  userAgent,
	}
	if cred != nil {
		owner, id := cred.OwnerID, cred.ID
		entry.ActorType = ActorTypeFor(cred.Role)
		entry.ActorID = &owner
		entry.TargetID = &id
		entry.SessionID = cred.SessionID
	}
	return entry
}

// CreateSessionRevokedAuditLog creates an audit log for an administrator revoking a session
func CreateSessionRevokedAuditLog(adminID uuid.UUID, sess *SessionRecord) *AuditLog {
	owner := sess.OwnerID
	return &AuditLog{
		EventType:  AuditSessionRevoked,
		ActorType:  ActorTypeAdministrator,
		ActorID:    &adminID,
		SessionID:  sess.ID,
		TargetType: string(sess.Role),
		TargetID:   &owner,
	}
}
