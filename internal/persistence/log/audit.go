package log

import (
	"path/filepath"
	"time"
)

// Audit event names.
const (
	EventAuthOK            = "auth_ok"
	EventAuthFailed        = "auth_failed"
	EventRegistered        = "registered"
	EventProtocolViolation = "protocol_violation"
	EventActionRejected    = "action_rejected"
	EventBugCheck          = "bug_check"
	EventUnknownKind       = "unknown_kind"
	EventResync            = "resync"
	EventClosed            = "closed"
)

// AuditEntry is one line of the session audit log.
type AuditEntry struct {
	Time      time.Time `json:"time"`
	SessionID string    `json:"session_id"`
	Username  string    `json:"username,omitempty"`
	Event     string    `json:"event"`
	Sequence  uint64    `json:"seq,omitempty"`
	Kind      uint64    `json:"kind,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// AuditLogger writes session audit entries to <dataDir>/audit.
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(dataDir string) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "session")}
}

func (l *AuditLogger) WriteAudit(e AuditEntry) error {
	if l == nil {
		return nil
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	return l.w.Write(e)
}

func (l *AuditLogger) Close() error {
	if l == nil {
		return nil
	}
	return l.w.Close()
}
