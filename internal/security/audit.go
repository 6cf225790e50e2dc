package security

import (
	"encoding/json"
	"io"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// EventType categorizes audit events.
type EventType string

// Channel control and gateway access events.
const (
	EventMessage      EventType = "message"
	EventSend         EventType = "send"
	EventConnect      EventType = "connect"
	EventDisconnect   EventType = "disconnect"
	EventLoginStart   EventType = "login_start"
	EventLogout       EventType = "logout"
	EventAuthSuccess  EventType = "auth_success"
	EventAuthFailure  EventType = "auth_failure"
	EventConfigChange EventType = "config_change"
)

// AuditEvent is one line of the audit log.
type AuditEvent struct {
	Seq       uint64            `json:"seq"`
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	Channel   string            `json:"channel,omitempty"`
	ChatID    string            `json:"chat_id,omitempty"`
	SenderID  string            `json:"sender_id,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	Actor     string            `json:"actor,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditLoggerConfig configures an AuditLogger. A nil Writer only feeds
// OnEvent.
type AuditLoggerConfig struct {
	Writer   io.Writer
	Redactor *Redactor
	OnEvent  func(AuditEvent)
	Now      func() time.Time
}

// AuditLogger appends events as JSON lines. Events are numbered in the
// order they are written, so a reader can spot gaps after a crash.
type AuditLogger struct {
	mu       sync.Mutex
	enc      *json.Encoder
	redactor *Redactor
	onEvent  func(AuditEvent)
	now      func() time.Time
	seq      uint64
	failures atomic.Int64
}

// NewAuditLogger creates an audit logger.
func NewAuditLogger(cfg AuditLoggerConfig) *AuditLogger {
	l := &AuditLogger{
		redactor: cfg.Redactor,
		onEvent:  cfg.OnEvent,
		now:      cfg.Now,
	}
	if cfg.Writer != nil {
		l.enc = json.NewEncoder(cfg.Writer)
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Log stamps and records event. Detail and metadata values are redacted;
// the caller's metadata map is left untouched.
func (l *AuditLogger) Log(event AuditEvent) {
	event.Timestamp = l.now().UTC()
	event.Metadata = maps.Clone(event.Metadata)
	if l.redactor != nil {
		event.Detail = l.redactor.Redact(event.Detail)
		for k, v := range event.Metadata {
			event.Metadata[k] = l.redactor.Redact(v)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	event.Seq = l.seq

	if l.onEvent != nil {
		l.onEvent(event)
	}
	if l.enc != nil {
		if err := l.enc.Encode(event); err != nil {
			l.failures.Add(1)
		}
	}
}

// WriteErrors returns how many events failed to reach the writer.
func (l *AuditLogger) WriteErrors() int64 {
	return l.failures.Load()
}
