package reports

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fisioclinic/clinic/internal/domain/nps"
	"github.com/fisioclinic/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

func (r *repoPG) Revenue(ctx context.Context, from, to time.Time) (int64, error) {
	var cents int64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM payment WHERE paid_at >= $1 AND paid_at < $2`, from, to).Scan(&cents)
	return cents, err
}

func (r *repoPG) OpenReceivables(ctx context.Context) (int, int64, error) {
	var (
		count int
		cents int64
	)
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount_cents - paid_cents), 0) FROM receivable
		WHERE status IN ('pending', 'partially_paid', 'overdue')`).Scan(&count, &cents)
	return count, cents, err
}

func (r *repoPG) PayablesDue(ctx context.Context, before time.Time) (int64, error) {
	var cents int64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM payable
		WHERE status IN ('pending', 'overdue') AND due_date < $1`, before).Scan(&cents)
	return cents, err
}

func (r *repoPG) countBy(ctx context.Context, query string, args ...interface{}) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}

func (r *repoPG) AppointmentsByStatus(ctx context.Context, from, to time.Time) (map[string]int, error) {
	return r.countBy(ctx, `
		SELECT status, COUNT(*) FROM appointment
		WHERE start_at >= $1 AND start_at < $2 GROUP BY status`, from, to)
}

func (r *repoPG) NewPatients(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM patient WHERE created_at >= $1 AND created_at < $2`, from, to).Scan(&n)
	return n, err
}

func (r *repoPG) LeadsByStatus(ctx context.Context, from, to time.Time) (map[string]int, error) {
	return r.countBy(ctx, `
		SELECT status, COUNT(*) FROM lead
		WHERE created_at >= $1 AND created_at < $2 GROUP BY status`, from, to)
}

func (r *repoPG) NPSCounts(ctx context.Context, from, to time.Time) (*nps.Counts, error) {
	return nps.NewSurveyRepoPG(r.pool).Counts(ctx, from, to)
}

// MonthlyCashFlow buckets paid_at by the calendar month it falls in for tz.
func (r *repoPG) MonthlyCashFlow(ctx context.Context, year int, tz string) ([]MonthRevenue, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		WITH months AS (SELECT generate_series(1, 12) AS month),
		received AS (
			SELECT EXTRACT(MONTH FROM paid_at AT TIME ZONE $2)::int AS month, SUM(amount_cents) AS cents
			FROM payment WHERE EXTRACT(YEAR FROM paid_at AT TIME ZONE $2)::int = $1 GROUP BY 1
		),
		paid_out AS (
			SELECT EXTRACT(MONTH FROM paid_at AT TIME ZONE $2)::int AS month, SUM(amount_cents) AS cents
			FROM payable WHERE status = 'paid' AND EXTRACT(YEAR FROM paid_at AT TIME ZONE $2)::int = $1 GROUP BY 1
		)
		SELECT m.month, COALESCE(r.cents, 0)::bigint, COALESCE(p.cents, 0)::bigint
		FROM months m
		LEFT JOIN received r ON r.month = m.month
		LEFT JOIN paid_out p ON p.month = m.month
		ORDER BY m.month`, year, tz)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MonthRevenue
	for rows.Next() {
		var m MonthRevenue
		if err := rows.Scan(&m.Month, &m.ReceivedCents, &m.PaidOutCents); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *repoPG) ProfessionalProductivity(ctx context.Context, from, to time.Time) ([]*ProfessionalStats, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT p.id, p.name,
		       COUNT(a.id),
		       COUNT(a.id) FILTER (WHERE a.status = 'completed'),
		       COUNT(a.id) FILTER (WHERE a.status = 'no_show'),
		       COUNT(a.id) FILTER (WHERE a.status = 'cancelled'),
		       COALESCE(SUM(a.price_cents) FILTER (WHERE a.status = 'completed'), 0)::bigint
		FROM professional p
		JOIN appointment a ON a.professional_id = p.id AND a.start_at >= $1 AND a.start_at < $2
		GROUP BY p.id, p.name
		ORDER BY 5 DESC, p.name`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ProfessionalStats
	for rows.Next() {
		var s ProfessionalStats
		if err := rows.Scan(&s.ProfessionalID, &s.Name, &s.Appointments, &s.Completed, &s.NoShows,
			&s.Cancelled, &s.RevenueCents); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *repoPG) ReceivablesAging(ctx context.Context, asOf time.Time) (map[string]Bucket, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT CASE
		         WHEN due_date >= $1::date THEN 'current'
		         WHEN $1::date - due_date <= 30 THEN '1_30'
		         WHEN $1::date - due_date <= 60 THEN '31_60'
		         WHEN $1::date - due_date <= 90 THEN '61_90'
		         ELSE 'over_90'
		       END AS bucket,
		       COUNT(*),
		       COALESCE(SUM(amount_cents - paid_cents), 0)::bigint
		FROM receivable
		WHERE status IN ('pending', 'partially_paid', 'overdue')
		GROUP BY bucket`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]Bucket)
	for rows.Next() {
		var (
			key string
			b   Bucket
		)
		if err := rows.Scan(&key, &b.Count, &b.Cents); err != nil {
			return nil, err
		}
		out[key] = b
	}
	return out, rows.Err()
}
