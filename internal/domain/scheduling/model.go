package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StatusScheduled = "scheduled"
	StatusConfirmed = "confirmed"
	StatusCheckedIn = "checked_in"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no_show"
)

var Statuses = []string{StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusCompleted, StatusCancelled, StatusNoShow}

const (
	KindInPerson     = "in_person"
	KindTelemedicine = "telemedicine"
)

var transitions = map[string][]string{
	StatusScheduled: {StatusConfirmed, StatusCancelled, StatusNoShow, StatusCheckedIn},
	StatusConfirmed: {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn: {StatusCompleted},
}

// CanTransition reports whether an appointment may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal is true for completed, cancelled and no_show.
func IsTerminal(status string) bool {
	_, open := transitions[status]
	return !open
}

// WorkingHours is one weekly availability window of a professional, in the
// clinic's local time.
type WorkingHours struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ProfessionalID uuid.UUID `db:"professional_id" json:"professional_id"`
	Weekday        int       `db:"weekday" json:"weekday"`
	Start          string    `db:"start_time" json:"start"`
	End            string    `db:"end_time" json:"end"`
	SlotMinutes    int       `db:"slot_minutes" json:"slot_minutes"`
}

// minutes parses "HH:MM" into minutes after midnight.
func minutes(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", hhmm)
	}
	return t.Hour()*60 + t.Minute(), nil
}

type Appointment struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	ProfessionalID uuid.UUID  `db:"professional_id" json:"professional_id"`
	StartAt        time.Time  `db:"start_at" json:"start_at"`
	EndAt          time.Time  `db:"end_at" json:"end_at"`
	Kind           string     `db:"kind" json:"kind"`
	Status         string     `db:"status" json:"status"`
	PriceCents     int64      `db:"price_cents" json:"price_cents"`
	Notes          *string    `db:"notes" json:"notes,omitempty"`
	SeriesID       *uuid.UUID `db:"series_id" json:"series_id,omitempty"`
	ReminderSentAt *time.Time `db:"reminder_sent_at" json:"reminder_sent_at,omitempty"`
	CancelReason   *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Blocking is true when the appointment occupies its professional's time.
func (a *Appointment) Blocking() bool {
	return a.Status != StatusCancelled && a.Status != StatusNoShow
}

// Overlaps uses half-open intervals, so back-to-back sessions do not clash.
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.StartAt.Before(end) && start.Before(a.EndAt)
}

type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type ListFilter struct {
	From           *time.Time
	To             *time.Time
	ProfessionalID *uuid.UUID
	PatientID      *uuid.UUID
	Status         string
}
