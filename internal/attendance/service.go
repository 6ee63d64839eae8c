package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"classroll/internal/metrics"
)

var hhmm = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)

// Options tunes a Service. Zero values fall back to production defaults.
type Options struct {
	// Location is the zone class schedules are authored in.
	Location *time.Location
	Now      func() time.Time

	MaxAttempts    int
	Backoff        time.Duration
	DefaultMinutes int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Service coordinates session generation, credential issuance and check-ins.
type Service struct {
	store          Store
	loc            *time.Location
	now            func() time.Time
	maxAttempts    int
	backoff        time.Duration
	defaultMinutes int
	log            *slog.Logger
	metrics        *metrics.Metrics
	validate       *validator.Validate
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewService creates a service backed by store.
func NewService(store Store, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 100 * time.Millisecond
	}
	if opts.DefaultMinutes <= 0 || opts.DefaultMinutes > MaxCredentialMinutes {
		opts.DefaultMinutes = DefaultCredentialMinutes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		store:          store,
		loc:            opts.Location,
		now:            opts.Now,
		maxAttempts:    opts.MaxAttempts,
		backoff:        opts.Backoff,
		defaultMinutes: opts.DefaultMinutes,
		log:            opts.Logger,
		metrics:        opts.Metrics,
		validate:       newValidator(),
		sleep:          sleepCtx,
	}
}

// CreateSession creates a session for classID dated now, without schedule matching.
func (s *Service) CreateSession(ctx context.Context, classID string) (Session, error) {
	classID = strings.TrimSpace(classID)
	if classID == "" {
		return Session{}, NewValidationError(FieldError{Field: "class_id", Error: "required"})
	}
	var created Session
	err := s.retry(ctx, opCreateSession, func(attempt int) error {
		return s.store.InTx(ctx, func(tx Tx) error {
			class, err := tx.GetClass(ctx, classID)
			if err != nil {
				return err
			}
			created, err = s.newSession(ctx, tx, class, s.now().In(s.loc))
			return err
		})
	})
	if err != nil {
		return Session{}, err
	}
	s.metrics.SessionsAdded("manual", 1)
	s.log.Info("session created", "session_id", created.ID, "class_id", created.ClassID, "students", len(created.Attendance))
	return created, nil
}

// GetSession returns a session by id.
func (s *Service) GetSession(ctx context.Context, sessionID string) (Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Session{}, NewValidationError(FieldError{Field: "session_id", Error: "required"})
	}
	return s.store.GetSession(ctx, sessionID)
}

// TodayForStudent lists up to four of today's sessions that include studentID.
func (s *Service) TodayForStudent(ctx context.Context, studentID string) ([]TodaySession, error) {
	if studentID == "" {
		return nil, NewValidationError(FieldError{Field: "student_id", Error: "required"})
	}
	start := startOfDay(s.now().In(s.loc))
	return s.store.SessionsForStudent(ctx, studentID, start, start.AddDate(0, 0, 1), 4)
}

// DeleteSession removes a session and its roster.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return NewValidationError(FieldError{Field: "session_id", Error: "required"})
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.log.Info("session deleted", "session_id", sessionID)
	return nil
}

// UpsertClass validates and stores a class schedule and roster.
func (s *Service) UpsertClass(ctx context.Context, c Class) (Class, error) {
	c.ID = strings.TrimSpace(c.ID)
	c.Name = strings.TrimSpace(c.Name)
	if err := s.validate.Struct(c); err != nil {
		return Class{}, toValidationError(err)
	}
	if err := s.store.UpsertClass(ctx, c); err != nil {
		return Class{}, err
	}
	return c, nil
}

func (s *Service) newSession(ctx context.Context, tx Tx, class Class, date time.Time) (Session, error) {
	seq, err := tx.NextSequence(ctx, sessionCounter)
	if err != nil {
		return Session{}, fmt.Errorf("allocate session id: %w", err)
	}
	sess := Session{
		ID:              formatSessionID(seq),
		ClassID:         class.ID,
		Date:            date,
		DurationMinutes: s.defaultMinutes,
		Attendance:      newRoster(class.Students),
	}
	if err := tx.InsertSession(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	return sess, nil
}

// Operation names label retry logs and metrics.
const (
	opGenerate      = "generate_sessions"
	opCreateSession = "create_session"
)

// retry runs fn until it succeeds, fails with a non-transient error, or
// maxAttempts is reached. Backoff grows linearly with the attempt number.
func (s *Service) retry(ctx context.Context, op string, fn func(attempt int) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == s.maxAttempts {
			break
		}
		s.metrics.StoreRetried(op)
		s.log.Warn("transient store conflict, retrying", "op", op, "attempt", attempt, "next_attempt", attempt+1, "error", err)
		if serr := s.sleep(ctx, time.Duration(attempt)*s.backoff); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("%s: gave up after %d attempts: %w", op, s.maxAttempts, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return hhmm.MatchString(fl.Field().String())
	})
	return v
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewValidationError(FieldError{Field: "body", Error: err.Error()})
	}
	flds := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		flds = append(flds, FieldError{Field: fe.Namespace(), Error: "failed on " + fe.Tag()})
	}
	return NewValidationError(flds...)
}
