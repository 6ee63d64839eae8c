package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"classroll/internal/metrics"
	"classroll/internal/queue"
)

// AuditEntry is one check-in attempt, accepted or rejected.
type AuditEntry struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	StudentID  string    `json:"student_id"`
	Outcome    string    `json:"outcome"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewAuditEntry stamps a fresh id on a check-in outcome.
func NewAuditEntry(sessionID, studentID string, err error, at time.Time) AuditEntry {
	return AuditEntry{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		StudentID:  studentID,
		Outcome:    Outcome(err),
		OccurredAt: at.UTC(),
	}
}

// AuditLog persists check-in audit entries. Writes are idempotent on ID so
// a redelivered queue message is harmless.
type AuditLog interface {
	RecordAudit(ctx context.Context, e AuditEntry) error
}

// RecordAudit implements AuditLog.
func (r *Repository) RecordAudit(ctx context.Context, e AuditEntry) error {
	if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("audit entry id %q: %w", e.ID, err)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkin_audit (id, session_id, student_id, outcome, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.SessionID, e.StudentID, e.Outcome, e.OccurredAt)
	return err
}

// RecordAudit implements AuditLog.
func (m *MemoryStore) RecordAudit(_ context.Context, e AuditEntry) error {
	if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("audit entry id %q: %w", e.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.audit == nil {
		m.audit = make(map[string]AuditEntry)
	}
	m.audit[e.ID] = e
	return nil
}

// AuditEntries returns recorded entries for inspection.
func (m *MemoryStore) AuditEntries() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEntry, 0, len(m.audit))
	for _, e := range m.audit {
		out = append(out, e)
	}
	return out
}

// ConsumeAudit drains check-in events from q into sink until ctx is done.
// Bad messages and failed writes are logged and skipped.
func ConsumeAudit(ctx context.Context, q queue.Queue, sink AuditLog, logger *slog.Logger, m *metrics.Metrics) error {
	if logger == nil {
		logger = slog.Default()
	}
	msgs, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume audit queue: %w", err)
	}
	for msg := range msgs {
		if msg.Type != queue.TypeCheckIn {
			m.AuditEvent("skipped")
			continue
		}
		var e AuditEntry
		if err := msg.Decode(&e); err != nil {
			logger.Warn("dropping undecodable audit event", "error", err)
			m.AuditEvent("malformed")
			continue
		}
		if err := sink.RecordAudit(ctx, e); err != nil {
			logger.Error("record audit event", "id", e.ID, "session_id", e.SessionID, "error", err)
			m.AuditEvent("failed")
			continue
		}
		m.AuditEvent("recorded")
	}
	return nil
}
