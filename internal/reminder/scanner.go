package reminder

import (
	"context"
	"fmt"

	"github.com/franzego/salon-reminders/internal/models"
	"go.uber.org/zap"
)

// AppointmentStore is the appointment collection as seen by the job.
type AppointmentStore interface {
	// FindDue returns appointments on date whose flag field is not true.
	FindDue(ctx context.Context, date, flag string) ([]models.Appointment, error)
	// MarkNotified sets the flag on one appointment and reports whether this
	// call changed it.
	MarkNotified(ctx context.Context, appointmentID, flag string) (bool, error)
}

// Scanner narrows the store's date and flag match down to the appointments
// whose time of day falls inside the current tick's window.
type Scanner struct {
	store  AppointmentStore
	band   int
	logger *zap.Logger
}

func NewScanner(store AppointmentStore, band int, logger *zap.Logger) *Scanner {
	if band <= 0 {
		band = DefaultWindowMinutes
	}
	return &Scanner{store: store, band: band, logger: logger}
}

func (s *Scanner) Scan(ctx context.Context, target Target, h Horizon) ([]models.Appointment, error) {
	candidates, err := s.store.FindDue(ctx, target.Date, h.Flag)
	if err != nil {
		return nil, fmt.Errorf("query %s appointments on %s: %w", h.Name, target.Date, err)
	}

	window := target.Window(s.band)
	var due []models.Appointment
	for _, a := range candidates {
		if h.Notified(a) {
			continue
		}
		minutes, err := ParseClock(a.Time)
		if err != nil {
			s.logger.Warn("skipping appointment with unreadable time",
				zap.String("appointment_id", a.ID),
				zap.String("time", a.Time),
			)
			continue
		}
		if window.Contains(minutes) {
			due = append(due, a)
		}
	}
	return due, nil
}
