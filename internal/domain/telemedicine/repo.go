package telemedicine

import (
	"context"

	"github.com/google/uuid"
)

type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Session, error)
	GetByRoom(ctx context.Context, room string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Session, int, error)
}
