package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"classroll/internal/sequence"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"

	// Unique index over (class_id, session_date) backing the dedup guard.
	sessionSlotConstraint = "uq_sessions_class_date"
)

// Repository persists classes, sessions and rosters in Postgres.
type Repository struct {
	db *sql.DB
}

var _ Store = (*Repository)(nil)

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InTx implements Store with a SERIALIZABLE transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// classify tags retryable Postgres failures with ErrTransientConflict.
// A unique violation on the session slot index means a concurrent run
// inserted the same slot first; a retry will see it and skip.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == sqlStateSerializationFailure,
		pgErr.Code == sqlStateDeadlockDetected,
		pgErr.Code == sqlStateUniqueViolation && pgErr.ConstraintName == sessionSlotConstraint:
		return fmt.Errorf("%w: %w", ErrTransientConflict, err)
	}
	return err
}

// GetSession implements Store.
func (r *Repository) GetSession(ctx context.Context, sessionID string) (Session, error) {
	return getSession(ctx, r.db, sessionID)
}

func getSession(ctx context.Context, q dbtx, sessionID string) (Session, error) {
	var (
		s       Session
		cred    sql.NullString
		expires sql.NullTime
	)
	err := q.QueryRowContext(ctx, `
		SELECT session_id, class_id, session_date, credential, credential_expires_at, duration_minutes
		FROM sessions WHERE session_id = $1
	`, sessionID).Scan(&s.ID, &s.ClassID, &s.Date, &cred, &expires, &s.DurationMinutes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return Session{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	s.Credential = cred.String
	if expires.Valid {
		t := expires.Time
		s.CredentialExpiresAt = &t
	}

	rows, err := q.QueryContext(ctx, `
		SELECT student_id, status, scanned_at
		FROM session_attendance
		WHERE session_id = $1
		ORDER BY position
	`, sessionID)
	if err != nil {
		return Session{}, fmt.Errorf("get roster %s: %w", sessionID, err)
	}
	defer rows.Close()
	s.Attendance = []Record{}
	for rows.Next() {
		var (
			rec     Record
			scanned sql.NullTime
		)
		if err := rows.Scan(&rec.StudentID, &rec.Status, &scanned); err != nil {
			return Session{}, err
		}
		if scanned.Valid {
			t := scanned.Time
			rec.ScannedAt = &t
		}
		s.Attendance = append(s.Attendance, rec)
	}
	return s, rows.Err()
}

// SetCredential implements Store.
func (r *Repository) SetCredential(ctx context.Context, sessionID, token string, expiresAt time.Time, minutes int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET credential = $2, credential_expires_at = $3, duration_minutes = $4
		WHERE session_id = $1
	`, sessionID, token, expiresAt, minutes)
	if err != nil {
		return fmt.Errorf("set credential %s: %w", sessionID, err)
	}
	return expectRow(res, "session "+sessionID)
}

// MarkPresent implements Store. The row lock taken by UPDATE serializes
// concurrent scans of one student; the loser re-evaluates status and
// matches nothing.
func (r *Repository) MarkPresent(ctx context.Context, sessionID, studentID, token string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE session_attendance a
		SET status = 'present', scanned_at = $4
		FROM sessions s
		WHERE a.session_id = $1
		  AND a.student_id = $2
		  AND a.status = 'absent'
		  AND s.session_id = a.session_id
		  AND s.credential = $3
		  AND s.credential_expires_at >= $4
	`, sessionID, studentID, token, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SessionsForStudent implements Store.
func (r *Repository) SessionsForStudent(ctx context.Context, studentID string, from, to time.Time, limit int) ([]TodaySession, error) {
	if limit <= 0 {
		limit = 4
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.session_id, s.class_id, c.class_name, s.session_date, a.status
		FROM sessions s
		JOIN session_attendance a ON a.session_id = s.session_id AND a.student_id = $1
		JOIN classes c ON c.class_id = s.class_id
		WHERE s.session_date >= $2 AND s.session_date < $3
		ORDER BY s.session_date, s.session_id
		LIMIT $4
	`, studentID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("sessions for %s: %w", studentID, err)
	}
	defer rows.Close()
	var res []TodaySession
	for rows.Next() {
		var ts TodaySession
		if err := rows.Scan(&ts.SessionID, &ts.ClassID, &ts.ClassName, &ts.Date, &ts.Status); err != nil {
			return nil, err
		}
		res = append(res, ts)
	}
	return res, rows.Err()
}

// DeleteSession implements Store. The roster goes with it via ON DELETE CASCADE.
func (r *Repository) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return expectRow(res, "session "+sessionID)
}

// UpsertClass implements Store. Schedule and roster are replaced wholesale.
func (r *Repository) UpsertClass(ctx context.Context, c Class) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO classes (class_id, class_name, remaining_weeks)
		VALUES ($1, $2, $3)
		ON CONFLICT (class_id) DO UPDATE SET
			class_name = EXCLUDED.class_name,
			remaining_weeks = EXCLUDED.remaining_weeks,
			updated_at = NOW()
	`, c.ID, c.Name, c.RemainingWeeks); err != nil {
		return fmt.Errorf("upsert class %s: %w", c.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM class_slots WHERE class_id = $1`, c.ID); err != nil {
		return err
	}
	days := make([]int32, len(c.Schedule))
	times := make([]string, len(c.Schedule))
	for i, s := range c.Schedule {
		days[i] = int32(s.DayOfWeek)
		times[i] = s.Time
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO class_slots (class_id, day_of_week, slot_time)
		SELECT $1, x.d, x.t FROM unnest($2::int4[], $3::text[]) AS x(d, t)
		ON CONFLICT DO NOTHING
	`, c.ID, days, times); err != nil {
		return fmt.Errorf("insert slots for %s: %w", c.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM class_students WHERE class_id = $1`, c.ID); err != nil {
		return err
	}
	students := c.Students
	if students == nil {
		students = []string{}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO class_students (class_id, student_id, position)
		SELECT $1, x.s, x.o FROM unnest($2::text[]) WITH ORDINALITY AS x(s, o)
		ON CONFLICT DO NOTHING
	`, c.ID, students); err != nil {
		return fmt.Errorf("insert students for %s: %w", c.ID, err)
	}
	return tx.Commit()
}

// pgTx is the transactional view handed to InTx callbacks.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) ClassesMeetingOn(ctx context.Context, weekday time.Weekday) ([]Class, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT c.class_id, c.class_name, c.remaining_weeks
		FROM classes c
		WHERE c.remaining_weeks > 0
		  AND EXISTS (
			SELECT 1 FROM class_slots s
			WHERE s.class_id = c.class_id AND s.day_of_week = $1
		  )
		ORDER BY c.class_id
	`, int(weekday))
	if err != nil {
		return nil, err
	}
	var classes []Class
	for rows.Next() {
		var c Class
		if err := rows.Scan(&c.ID, &c.Name, &c.RemainingWeeks); err != nil {
			rows.Close()
			return nil, err
		}
		classes = append(classes, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := loadClassDetails(ctx, t.tx, classes); err != nil {
		return nil, err
	}
	return classes, nil
}

func (t *pgTx) GetClass(ctx context.Context, classID string) (Class, error) {
	var c Class
	err := t.tx.QueryRowContext(ctx, `
		SELECT class_id, class_name, remaining_weeks FROM classes WHERE class_id = $1
	`, classID).Scan(&c.ID, &c.Name, &c.RemainingWeeks)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Class{}, fmt.Errorf("class %s: %w", classID, ErrNotFound)
		}
		return Class{}, err
	}
	classes := []Class{c}
	if err := loadClassDetails(ctx, t.tx, classes); err != nil {
		return Class{}, err
	}
	return classes[0], nil
}

func (t *pgTx) SessionExists(ctx context.Context, classID string, date time.Time) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM sessions WHERE class_id = $1 AND session_date = $2)
	`, classID, date).Scan(&exists)
	return exists, err
}

func (t *pgTx) NextSequence(ctx context.Context, counter string) (int64, error) {
	return sequence.NewPostgres(t.tx).Next(ctx, counter)
}

func (t *pgTx) InsertSession(ctx context.Context, s Session) error {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, class_id, session_date, duration_minutes)
		VALUES ($1, $2, $3, $4)
	`, s.ID, s.ClassID, s.Date, s.DurationMinutes); err != nil {
		return err
	}
	students := make([]string, len(s.Attendance))
	for i, r := range s.Attendance {
		students[i] = r.StudentID
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO session_attendance (session_id, student_id, position, status)
		SELECT $1, x.s, x.o, 'absent' FROM unnest($2::text[]) WITH ORDINALITY AS x(s, o)
	`, s.ID, students)
	return err
}

func (t *pgTx) DecrementWeeks(ctx context.Context, classID string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE classes
		SET remaining_weeks = GREATEST(remaining_weeks - 1, 0), updated_at = NOW()
		WHERE class_id = $1
	`, classID)
	if err != nil {
		return err
	}
	return expectRow(res, "class "+classID)
}

// loadClassDetails fills schedule and roster for classes in place.
func loadClassDetails(ctx context.Context, q dbtx, classes []Class) error {
	if len(classes) == 0 {
		return nil
	}
	ids := make([]string, len(classes))
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		ids[i] = c.ID
		index[c.ID] = i
	}

	rows, err := q.QueryContext(ctx, `
		SELECT class_id, day_of_week, slot_time
		FROM class_slots WHERE class_id = ANY($1)
		ORDER BY class_id, day_of_week, slot_time
	`, ids)
	if err != nil {
		return fmt.Errorf("load slots: %w", err)
	}
	for rows.Next() {
		var (
			id   string
			slot Slot
		)
		if err := rows.Scan(&id, &slot.DayOfWeek, &slot.Time); err != nil {
			rows.Close()
			return err
		}
		classes[index[id]].Schedule = append(classes[index[id]].Schedule, slot)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.QueryContext(ctx, `
		SELECT class_id, student_id
		FROM class_students WHERE class_id = ANY($1)
		ORDER BY class_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("load students: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, student string
		if err := rows.Scan(&id, &student); err != nil {
			return err
		}
		classes[index[id]].Students = append(classes[index[id]].Students, student)
	}
	return rows.Err()
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
