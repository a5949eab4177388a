package reports

import (
	"context"
	"time"

	"github.com/fisioclinic/clinic/internal/domain/nps"
)

// Repository runs the aggregate queries. Periods are [from, to).
type Repository interface {
	Revenue(ctx context.Context, from, to time.Time) (int64, error)
	OpenReceivables(ctx context.Context) (count int, cents int64, err error)
	PayablesDue(ctx context.Context, before time.Time) (int64, error)
	AppointmentsByStatus(ctx context.Context, from, to time.Time) (map[string]int, error)
	NewPatients(ctx context.Context, from, to time.Time) (int, error)
	LeadsByStatus(ctx context.Context, from, to time.Time) (map[string]int, error)
	NPSCounts(ctx context.Context, from, to time.Time) (*nps.Counts, error)
	MonthlyCashFlow(ctx context.Context, year int, tz string) ([]MonthRevenue, error)
	ProfessionalProductivity(ctx context.Context, from, to time.Time) ([]*ProfessionalStats, error)
	ReceivablesAging(ctx context.Context, asOf time.Time) (map[string]Bucket, error)
}
