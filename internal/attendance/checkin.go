package attendance

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CheckIn marks studentID present in sessionID using a scanned QR token.
//
// Guards run in a fixed order and each failure has its own error:
// ErrNotFound (no session or student not on its roster),
// ErrInvalidCredential, ErrCredentialExpired, ErrAlreadyMarked.
// The write itself is conditional on the record still being absent and the
// credential still matching, so concurrent scans for the same student
// produce exactly one success.
func (s *Service) CheckIn(ctx context.Context, sessionID, studentID, token string) (Record, error) {
	var flds []FieldError
	if strings.TrimSpace(sessionID) == "" {
		flds = append(flds, FieldError{Field: "session_id", Error: "required"})
	}
	if strings.TrimSpace(studentID) == "" {
		flds = append(flds, FieldError{Field: "student_id", Error: "required"})
	}
	if token == "" {
		flds = append(flds, FieldError{Field: "token", Error: "required"})
	}
	if len(flds) > 0 {
		return Record{}, NewValidationError(flds...)
	}

	rec, err := s.checkIn(ctx, sessionID, studentID, token)
	s.metrics.CheckIn(Outcome(err))
	if err != nil {
		s.log.Info("check-in rejected", "session_id", sessionID, "student_id", studentID, "reason", Outcome(err))
		return Record{}, err
	}
	s.log.Info("check-in accepted", "session_id", sessionID, "student_id", studentID)
	return rec, nil
}

func (s *Service) checkIn(ctx context.Context, sessionID, studentID, token string) (Record, error) {
	now := s.now()
	for attempt := 1; attempt <= markAttempts; attempt++ {
		sess, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return Record{}, err
		}
		if err := admit(sess, studentID, token, now); err != nil {
			return Record{}, err
		}

		ok, err := s.store.MarkPresent(ctx, sessionID, studentID, token, now)
		if err != nil {
			return Record{}, fmt.Errorf("mark %s present in %s: %w", studentID, sessionID, err)
		}
		if ok {
			return Record{StudentID: studentID, Status: StatusPresent, ScannedAt: &now}, nil
		}
		// Lost a race between the read and the write. The next pass
		// classifies against the fresh state.
	}
	return Record{}, fmt.Errorf("mark %s present in %s: %w", studentID, sessionID, ErrTransientConflict)
}

// admit evaluates the check-in guards against a snapshot of the session.
func admit(sess Session, studentID, token string, now time.Time) error {
	rec, ok := sess.Record(studentID)
	if !ok {
		return fmt.Errorf("student %s in session %s: %w", studentID, sess.ID, ErrNotFound)
	}
	if sess.Credential == "" || subtle.ConstantTimeCompare([]byte(sess.Credential), []byte(token)) != 1 {
		return ErrInvalidCredential
	}
	if sess.CredentialExpiresAt == nil || now.After(*sess.CredentialExpiresAt) {
		return ErrCredentialExpired
	}
	if rec.Status != StatusAbsent {
		return ErrAlreadyMarked
	}
	return nil
}

// markAttempts bounds read-then-write passes when the conditional write keeps
// losing to concurrent updates.
const markAttempts = 3

// Outcome classifies a CheckIn result for logs, metrics and audit events.
func Outcome(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "present"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, ErrCredentialExpired):
		return "credential_expired"
	case errors.Is(err, ErrAlreadyMarked):
		return "already_marked"
	case errors.As(err, &verr):
		return "invalid_input"
	case errors.Is(err, ErrTransientConflict):
		return "conflict"
	default:
		return "error"
	}
}
