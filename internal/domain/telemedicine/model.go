package telemedicine

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusCreated   = "created"
	StatusLive      = "live"
	StatusEnded     = "ended"
	StatusCancelled = "cancelled"
)

const (
	RoleHost  = "host"
	RoleGuest = "guest"
)

// Session is the video room attached to a telemedicine appointment.
type Session struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	AppointmentID   uuid.UUID  `db:"appointment_id" json:"appointment_id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	ProfessionalID  uuid.UUID  `db:"professional_id" json:"professional_id"`
	Room            string     `db:"room" json:"room"`
	Status          string     `db:"status" json:"status"`
	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	EndedAt         *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	DurationSeconds *int       `db:"duration_seconds" json:"duration_seconds,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Closed reports whether no one can join the room anymore.
func (s *Session) Closed() bool {
	return s.Status == StatusEnded || s.Status == StatusCancelled
}

// Join is what a participant needs to enter a room.
type Join struct {
	SessionID uuid.UUID `json:"session_id"`
	Room      string    `json:"room"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ListFilter struct {
	Status         string
	ProfessionalID *uuid.UUID
	PatientID      *uuid.UUID
}
