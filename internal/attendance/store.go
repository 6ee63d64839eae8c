package attendance

import (
	"context"
	"time"
)

// Store is the persistence boundary of the attendance core.
//
// Every write that must be atomic with other writes goes through InTx.
// MarkPresent is the only roster mutation and must behave as a
// compare-and-swap on a single (session, student) record.
type Store interface {
	// InTx runs fn inside one serializable transaction. A nil return from fn
	// commits; anything else rolls back. Serialization failures are reported
	// as ErrTransientConflict.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetSession(ctx context.Context, sessionID string) (Session, error)

	// SetCredential replaces the session credential unconditionally.
	SetCredential(ctx context.Context, sessionID, token string, expiresAt time.Time, minutes int) error

	// MarkPresent flips studentID to present with scanned_at = at, but only
	// while the record is still absent and token is the session's
	// unexpired credential at at. It reports whether a row changed.
	MarkPresent(ctx context.Context, sessionID, studentID, token string, at time.Time) (bool, error)

	// SessionsForStudent lists sessions in [from, to) whose roster holds
	// studentID, ordered by date.
	SessionsForStudent(ctx context.Context, studentID string, from, to time.Time, limit int) ([]TodaySession, error)

	DeleteSession(ctx context.Context, sessionID string) error
	UpsertClass(ctx context.Context, c Class) error
}

// Tx is the transactional view used by the generator and manual creation.
type Tx interface {
	ClassesMeetingOn(ctx context.Context, weekday time.Weekday) ([]Class, error)
	GetClass(ctx context.Context, classID string) (Class, error)
	SessionExists(ctx context.Context, classID string, date time.Time) (bool, error)
	NextSequence(ctx context.Context, counter string) (int64, error)
	InsertSession(ctx context.Context, s Session) error
	// DecrementWeeks lowers remaining_weeks by one, never below zero.
	DecrementWeeks(ctx context.Context, classID string) error
}
