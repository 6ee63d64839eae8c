package attendance

import (
	"context"
	"fmt"
	"time"
)

// GenerateReport summarises one generator run.
type GenerateReport struct {
	Day                time.Time    `json:"day"`
	Weekday            time.Weekday `json:"weekday"`
	ClassesMatched     int          `json:"classes_matched"`
	SessionsCreated    []string     `json:"sessions_created"`
	ClassesDecremented []string     `json:"classes_decremented"`
	Attempts           int          `json:"attempts"`
}

// Generate creates today's sessions for every class scheduled today.
func (s *Service) Generate(ctx context.Context) (GenerateReport, error) {
	return s.GenerateFor(ctx, s.now())
}

// GenerateFor runs the generator as if the current instant were at.
//
// For every class with remaining weeks whose schedule has a slot on the
// local weekday of at, one session per slot is created unless a session for
// that (class, slot instant) already exists. Each class that received at
// least one new session loses exactly one remaining week. The whole run is a
// single transaction, retried on transient conflicts.
func (s *Service) GenerateFor(ctx context.Context, at time.Time) (GenerateReport, error) {
	started := time.Now()
	local := at.In(s.loc)
	day := startOfDay(local)
	weekday := day.Weekday()

	var report GenerateReport
	err := s.retry(ctx, opGenerate, func(attempt int) error {
		report = GenerateReport{Day: day, Weekday: weekday, Attempts: attempt}
		return s.store.InTx(ctx, func(tx Tx) error {
			return s.generateTx(ctx, tx, day, &report)
		})
	})
	if err != nil {
		s.metrics.ObserveGeneratorRun("failure", time.Since(started))
		s.log.Error("session generation failed", "day", day.Format(time.DateOnly), "weekday", weekday.String(), "error", err)
		return report, err
	}

	s.metrics.ObserveGeneratorRun("success", time.Since(started))
	s.metrics.SessionsAdded("generator", len(report.SessionsCreated))
	if len(report.SessionsCreated) > 0 {
		s.log.Info("sessions generated",
			"day", day.Format(time.DateOnly),
			"weekday", weekday.String(),
			"classes", report.ClassesMatched,
			"created", len(report.SessionsCreated),
			"attempts", report.Attempts)
	} else {
		s.log.Debug("no sessions to generate", "day", day.Format(time.DateOnly), "classes", report.ClassesMatched)
	}
	return report, nil
}

func (s *Service) generateTx(ctx context.Context, tx Tx, day time.Time, report *GenerateReport) error {
	classes, err := tx.ClassesMeetingOn(ctx, day.Weekday())
	if err != nil {
		return fmt.Errorf("load classes for %s: %w", day.Weekday(), err)
	}
	report.ClassesMatched = len(classes)

	for _, class := range classes {
		if class.RemainingWeeks <= 0 {
			continue
		}
		created := false
		for _, slot := range class.SlotsOn(day.Weekday()) {
			at, err := slot.At(day)
			if err != nil {
				return fmt.Errorf("class %s: %w", class.ID, err)
			}
			exists, err := tx.SessionExists(ctx, class.ID, at)
			if err != nil {
				return fmt.Errorf("class %s: check session at %s: %w", class.ID, at.Format(time.RFC3339), err)
			}
			if exists {
				continue
			}
			sess, err := s.newSession(ctx, tx, class, at)
			if err != nil {
				return fmt.Errorf("class %s: %w", class.ID, err)
			}
			report.SessionsCreated = append(report.SessionsCreated, sess.ID)
			created = true
		}
		if created {
			if err := tx.DecrementWeeks(ctx, class.ID); err != nil {
				return fmt.Errorf("class %s: decrement weeks: %w", class.ID, err)
			}
			report.ClassesDecremented = append(report.ClassesDecremented, class.ID)
		}
	}
	return nil
}
