package attendance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"classroll/internal/sequence"
)

// MemoryStore is a process-local Store for development and tests.
// Transactions are serialized, which trivially gives serializable isolation.
type MemoryStore struct {
	txMu sync.Mutex

	mu       sync.Mutex
	classes  map[string]Class
	sessions map[string]Session
	audit    map[string]AuditEntry
	seq      *sequence.Memory
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		classes:  make(map[string]Class),
		sessions: make(map[string]Session),
		seq:      sequence.NewMemory(),
	}
}

// InTx implements Store.
func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &memTx{store: m, decrements: make(map[string]int), seqStart: make(map[string]int64)}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return err
	}
	return tx.commit()
}

// GetSession implements Store.
func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return copySession(s), nil
}

// SetCredential implements Store.
func (m *MemoryStore) SetCredential(_ context.Context, sessionID, token string, expiresAt time.Time, minutes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	s.Credential = token
	s.CredentialExpiresAt = &expiresAt
	s.DurationMinutes = minutes
	m.sessions[sessionID] = s
	return nil
}

// MarkPresent implements Store.
func (m *MemoryStore) MarkPresent(_ context.Context, sessionID, studentID, token string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Credential != token || s.CredentialExpiresAt == nil || at.After(*s.CredentialExpiresAt) {
		return false, nil
	}
	for i := range s.Attendance {
		r := &s.Attendance[i]
		if r.StudentID != studentID {
			continue
		}
		if r.Status != StatusAbsent {
			return false, nil
		}
		scanned := at
		r.Status = StatusPresent
		r.ScannedAt = &scanned
		m.sessions[sessionID] = s
		return true, nil
	}
	return false, nil
}

// SessionsForStudent implements Store.
func (m *MemoryStore) SessionsForStudent(_ context.Context, studentID string, from, to time.Time, limit int) ([]TodaySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TodaySession
	for _, s := range m.sessions {
		if s.Date.Before(from) || !s.Date.Before(to) {
			continue
		}
		rec, ok := s.Record(studentID)
		if !ok {
			continue
		}
		out = append(out, TodaySession{
			SessionID: s.ID,
			ClassID:   s.ClassID,
			ClassName: m.classes[s.ClassID].Name,
			Date:      s.Date,
			Status:    rec.Status,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].Date.Before(out[j].Date)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteSession implements Store.
func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	delete(m.sessions, sessionID)
	return nil
}

// UpsertClass implements Store.
func (m *MemoryStore) UpsertClass(_ context.Context, c Class) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[c.ID] = copyClass(c)
	return nil
}

// Class returns a stored class. It exists for inspection in tests and tooling.
func (m *MemoryStore) Class(classID string) (Class, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[classID]
	return copyClass(c), ok
}

// Sessions returns all sessions of classID ordered by date.
func (m *MemoryStore) Sessions(classID string) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.ClassID == classID {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

type memTx struct {
	store      *MemoryStore
	inserted   []Session
	decrements map[string]int
	seqStart   map[string]int64
}

func (t *memTx) ClassesMeetingOn(_ context.Context, weekday time.Weekday) ([]Class, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var out []Class
	for _, c := range t.store.classes {
		if c.RemainingWeeks-t.decrements[c.ID] <= 0 || len(c.SlotsOn(weekday)) == 0 {
			continue
		}
		cc := copyClass(c)
		cc.RemainingWeeks -= t.decrements[c.ID]
		out = append(out, cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) GetClass(_ context.Context, classID string) (Class, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	c, ok := t.store.classes[classID]
	if !ok {
		return Class{}, fmt.Errorf("class %s: %w", classID, ErrNotFound)
	}
	cc := copyClass(c)
	cc.RemainingWeeks -= t.decrements[classID]
	return cc, nil
}

func (t *memTx) SessionExists(_ context.Context, classID string, date time.Time) (bool, error) {
	for _, s := range t.inserted {
		if s.ClassID == classID && s.Date.Equal(date) {
			return true, nil
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, s := range t.store.sessions {
		if s.ClassID == classID && s.Date.Equal(date) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) NextSequence(ctx context.Context, counter string) (int64, error) {
	if _, ok := t.seqStart[counter]; !ok {
		t.seqStart[counter] = t.store.seq.Peek(counter)
	}
	return t.store.seq.Next(ctx, counter)
}

func (t *memTx) InsertSession(ctx context.Context, s Session) error {
	exists, err := t.SessionExists(ctx, s.ClassID, s.Date)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("session for class %s at %s already exists", s.ClassID, s.Date.Format(time.RFC3339))
	}
	t.inserted = append(t.inserted, copySession(s))
	return nil
}

func (t *memTx) DecrementWeeks(_ context.Context, classID string) error {
	t.store.mu.Lock()
	_, ok := t.store.classes[classID]
	t.store.mu.Unlock()
	if !ok {
		return fmt.Errorf("class %s: %w", classID, ErrNotFound)
	}
	t.decrements[classID]++
	return nil
}

func (t *memTx) commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, s := range t.inserted {
		if _, dup := t.store.sessions[s.ID]; dup {
			return fmt.Errorf("session id %s already in use", s.ID)
		}
	}
	for _, s := range t.inserted {
		t.store.sessions[s.ID] = s
	}
	for id, n := range t.decrements {
		c := t.store.classes[id]
		c.RemainingWeeks -= n
		if c.RemainingWeeks < 0 {
			c.RemainingWeeks = 0
		}
		t.store.classes[id] = c
	}
	return nil
}

func (t *memTx) rollback() {
	for counter, v := range t.seqStart {
		t.store.seq.Restore(counter, v)
	}
}

func copySession(s Session) Session {
	out := s
	if s.CredentialExpiresAt != nil {
		exp := *s.CredentialExpiresAt
		out.CredentialExpiresAt = &exp
	}
	out.Attendance = make([]Record, len(s.Attendance))
	for i, r := range s.Attendance {
		out.Attendance[i] = r
		if r.ScannedAt != nil {
			at := *r.ScannedAt
			out.Attendance[i].ScannedAt = &at
		}
	}
	return out
}

func copyClass(c Class) Class {
	out := c
	out.Schedule = append([]Slot(nil), c.Schedule...)
	out.Students = append([]string(nil), c.Students...)
	return out
}
