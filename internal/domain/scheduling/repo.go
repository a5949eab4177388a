package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type WorkingHoursRepository interface {
	ListByProfessional(ctx context.Context, professionalID uuid.UUID) ([]*WorkingHours, error)
	// Replace swaps every window of the professional for hours.
	Replace(ctx context.Context, professionalID uuid.UUID, hours []*WorkingHours) error
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
	// Blocking returns the professional's non-cancelled, non-no-show
	// appointments intersecting [from, to), except exclude.
	Blocking(ctx context.Context, professionalID uuid.UUID, from, to time.Time, exclude uuid.UUID) ([]*Appointment, error)
	// LockProfessional serializes bookings for one professional until the
	// surrounding transaction ends.
	LockProfessional(ctx context.Context, professionalID uuid.UUID) error
	DueForReminder(ctx context.Context, from, to time.Time) ([]*Appointment, error)
	MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error
}
