package attendance

import (
	"fmt"
	"time"
)

// Status is the attendance state of one student in one session.
type Status string

const (
	StatusAbsent  Status = "absent"
	StatusPresent Status = "present"
)

// CredentialState is derived from the credential fields and the clock.
type CredentialState string

const (
	CredentialNone    CredentialState = "none"
	CredentialActive  CredentialState = "active"
	CredentialExpired CredentialState = "expired"
)

const (
	sessionCounter  = "session"
	sessionIDPrefix = "SS"
	sessionIDWidth  = 5

	// DefaultCredentialMinutes applies when a caller asks for a non-positive window.
	DefaultCredentialMinutes = 5
	// MaxCredentialMinutes caps one credential window at a day.
	MaxCredentialMinutes = 24 * 60
)

// Record is one roster entry of a session.
type Record struct {
	StudentID string     `json:"student_id"`
	Status    Status     `json:"status"`
	ScannedAt *time.Time `json:"scanned_at,omitempty"`
}

// Session is one concrete occurrence of a class meeting.
type Session struct {
	ID                  string     `json:"session_id"`
	ClassID             string     `json:"class_id"`
	Date                time.Time  `json:"date"`
	Credential          string     `json:"-"`
	CredentialExpiresAt *time.Time `json:"credential_expires_at,omitempty"`
	DurationMinutes     int        `json:"duration_minutes"`
	Attendance          []Record   `json:"attendance"`
}

// CredentialState reports whether the session currently accepts check-ins.
func (s Session) CredentialState(now time.Time) CredentialState {
	if s.Credential == "" || s.CredentialExpiresAt == nil {
		return CredentialNone
	}
	if now.After(*s.CredentialExpiresAt) {
		return CredentialExpired
	}
	return CredentialActive
}

// Record returns the roster entry for studentID.
func (s Session) Record(studentID string) (Record, bool) {
	for _, r := range s.Attendance {
		if r.StudentID == studentID {
			return r, true
		}
	}
	return Record{}, false
}

// Slot is a weekly (day-of-week, time-of-day) entry of a class schedule.
type Slot struct {
	DayOfWeek int    `json:"day_of_week" validate:"min=0,max=6"`
	Time      string `json:"time" validate:"required,hhmm"`
}

// Clock returns hour and minute of the slot. Time must already be validated.
func (s Slot) Clock() (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s.Time, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("slot time %q: %w", s.Time, err)
	}
	return hour, minute, nil
}

// At returns the slot's concrete instant on the calendar day of day, in day's zone.
func (s Slot) At(day time.Time) (time.Time, error) {
	hour, minute, err := s.Clock()
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, day.Location()), nil
}

// Class is the schedule owner read by the generator.
type Class struct {
	ID             string   `json:"class_id" validate:"required"`
	Name           string   `json:"class_name" validate:"required"`
	RemainingWeeks int      `json:"remaining_weeks" validate:"min=0"`
	Schedule       []Slot   `json:"schedule" validate:"required,min=1,dive"`
	Students       []string `json:"students" validate:"dive,required"`
}

// SlotsOn returns the class slots that fall on weekday.
func (c Class) SlotsOn(weekday time.Weekday) []Slot {
	var out []Slot
	for _, s := range c.Schedule {
		if s.DayOfWeek == int(weekday) {
			out = append(out, s)
		}
	}
	return out
}

// Credential is an issued QR token and its validity window.
type Credential struct {
	SessionID       string    `json:"session_id"`
	Token           string    `json:"token"`
	ExpiresAt       time.Time `json:"expires_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

// TodaySession is a student's view of a session happening today.
type TodaySession struct {
	SessionID string    `json:"session_id"`
	ClassID   string    `json:"class_id"`
	ClassName string    `json:"class_name"`
	Date      time.Time `json:"date"`
	Status    Status    `json:"status"`
}

func formatSessionID(seq int64) string {
	return fmt.Sprintf("%s%0*d", sessionIDPrefix, sessionIDWidth, seq)
}

func newRoster(students []string) []Record {
	roster := make([]Record, 0, len(students))
	seen := make(map[string]struct{}, len(students))
	for _, id := range students {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		roster = append(roster, Record{StudentID: id, Status: StatusAbsent})
	}
	return roster
}
