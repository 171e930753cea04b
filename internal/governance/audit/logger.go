// Package audit records administrative and destructive operations on
// batches and plates.
//
// Audit records are append-only. A Sink may forward them to the structured
// log or to a JSON-lines file; no record is ever rewritten or removed.
//
// Import Path: samasy.io/samasy/internal/governance/audit
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"samasy.io/samasy/internal/domain"
	"samasy.io/samasy/internal/pkg/logger"
)

// Record is one audit entry.
type Record struct {
	ID           string                 `json:"id"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Actor        string                 `json:"actor"`
	Details      map[string]interface{} `json:"details,omitempty"`
	At           time.Time              `json:"at"`
}

// Sink stores audit records.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// Logger writes audit records to its sink.
type Logger struct {
	sink  Sink
	actor string
	now   func() time.Time
}

// NewLogger creates a new audit Logger. A nil sink writes to the
// structured log.
func NewLogger(sink Sink, actor string) *Logger {
	if sink == nil {
		sink = NewZapSink(nil)
	}
	if actor == "" {
		actor = CurrentActor()
	}
	return &Logger{sink: sink, actor: actor, now: time.Now}
}

// LogAction records an auditable action.
func (l *Logger) LogAction(ctx context.Context, action, resourceType, resourceID string, details map[string]interface{}) error {
	rec := Record{
		ID:           generateAuditID(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Actor:        l.actor,
		Details:      details,
		At:           l.now().UTC(),
	}
	if err := l.sink.Append(ctx, rec); err != nil {
		logger.Error("Failed to write audit log",
			zap.String("action", action),
			zap.String("resource_type", resourceType),
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// Subscribe records batch completions and removals and plate changes
// dispatched on d.
func (l *Logger) Subscribe(d *domain.EventDispatcher) {
	for _, et := range []domain.EventType{
		domain.EventBatchCompleted,
		domain.EventBatchRemoved,
		domain.EventPlatesControlled,
		domain.EventPlateDeleted,
	} {
		d.Register(et, l.onEvent)
	}
}

func (l *Logger) onEvent(ctx context.Context, e *domain.DomainEvent) error {
	var details map[string]interface{}
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &details); err != nil {
			return fmt.Errorf("decode %s payload: %w", e.EventType, err)
		}
	}
	return l.LogAction(ctx, actionFor(e.EventType), e.AggregateType, e.AggregateID, details)
}

func actionFor(et domain.EventType) string {
	switch et {
	case domain.EventBatchCompleted:
		return "batch.complete"
	case domain.EventBatchRemoved:
		return "batch.delete"
	case domain.EventPlatesControlled:
		return "plate.set_control"
	case domain.EventPlateDeleted:
		return "plate.delete"
	default:
		return string(et)
	}
}

// CurrentActor names the operating system user running the process.
func CurrentActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

func generateAuditID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return fmt.Sprintf("audit-%s", id.String())
}

// ZapSink writes records as Info entries of the "audit" logger.
type ZapSink struct {
	log *zap.Logger
}

// NewZapSink creates a sink on l, or on the global logger when l is nil.
func NewZapSink(l *zap.Logger) *ZapSink {
	if l == nil {
		l = logger.L()
	}
	return &ZapSink{log: l.Named("audit")}
}

// Append implements Sink.
func (s *ZapSink) Append(_ context.Context, rec Record) error {
	s.log.Info(rec.Action,
		zap.String("audit_id", rec.ID),
		zap.String("resource_type", rec.ResourceType),
		zap.String("resource_id", rec.ResourceID),
		zap.String("actor", rec.Actor),
		zap.Any("details", rec.Details),
		zap.Time("at", rec.At),
	)
	return nil
}

// FileSink appends records to a file, one JSON object per line.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// OpenFileSink opens path for appending, creating it if needed.
func OpenFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &FileSink{file: f}, nil
}

// Append implements Sink.
func (s *FileSink) Append(_ context.Context, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(line, '\n'))
	return err
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	return s.file.Close()
}
