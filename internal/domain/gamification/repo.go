package gamification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PointRepository interface {
	// Create inserts e unless its (patient, kind, reference) already exists.
	// It reports whether a row was written.
	Create(ctx context.Context, e *PointEvent) (bool, error)
	GetByKey(ctx context.Context, patientID uuid.UUID, kind, referenceID string) (*PointEvent, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*PointEvent, int, error)
	Summary(ctx context.Context, patientID uuid.UUID) (*Summary, error)
	AttendanceTimes(ctx context.Context, patientID uuid.UUID) ([]time.Time, error)
	Leaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error)
}
