package nps

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SurveyRepository interface {
	Create(ctx context.Context, s *Survey) error
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Survey, error)
	GetByToken(ctx context.Context, token string) (*Survey, error)
	// Answer stores the score only if the survey is still unanswered.
	Answer(ctx context.Context, s *Survey) error
	Counts(ctx context.Context, from, to time.Time) (*Counts, error)
	ListAnswered(ctx context.Context, from, to time.Time, limit, offset int) ([]*Survey, int, error)
}
