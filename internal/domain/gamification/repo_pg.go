package gamification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/db"
)

type pointRepoPG struct{ pool *pgxpool.Pool }

func NewPointRepoPG(pool *pgxpool.Pool) PointRepository {
	return &pointRepoPG{pool: pool}
}

func (r *pointRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const pointCols = `id, patient_id, kind, points, reference_id, description, occurred_at, created_at`

func scanPoint(row pgx.Row) (*PointEvent, error) {
	var e PointEvent
	err := row.Scan(&e.ID, &e.PatientID, &e.Kind, &e.Points, &e.ReferenceID, &e.Description, &e.OccurredAt, &e.CreatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "point event")
	}
	return &e, nil
}

func (r *pointRepoPG) Create(ctx context.Context, e *PointEvent) (bool, error) {
	e.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO point_event (id, patient_id, kind, points, reference_id, description, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (patient_id, kind, reference_id) DO NOTHING
		RETURNING created_at`,
		e.ID, e.PatientID, e.Kind, e.Points, e.ReferenceID, e.Description, e.OccurredAt,
	).Scan(&e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.FromDB(err, "point event")
	}
	return true, nil
}

func (r *pointRepoPG) GetByKey(ctx context.Context, patientID uuid.UUID, kind, referenceID string) (*PointEvent, error) {
	return scanPoint(r.conn(ctx).QueryRow(ctx, `SELECT `+pointCols+` FROM point_event
		WHERE patient_id = $1 AND kind = $2 AND reference_id = $3`, patientID, kind, referenceID))
}

func (r *pointRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*PointEvent, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM point_event WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+pointCols+` FROM point_event
		WHERE patient_id = $1 ORDER BY occurred_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*PointEvent
	for rows.Next() {
		e, err := scanPoint(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *pointRepoPG) Summary(ctx context.Context, patientID uuid.UUID) (*Summary, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT kind, COUNT(*), COALESCE(SUM(points), 0) FROM point_event WHERE patient_id = $1 GROUP BY kind`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	s := &Summary{CountByKind: make(map[string]int)}
	for rows.Next() {
		var (
			kind          string
			count, points int
		)
		if err := rows.Scan(&kind, &count, &points); err != nil {
			return nil, err
		}
		s.CountByKind[kind] = count
		s.Total += points
	}
	return s, rows.Err()
}

func (r *pointRepoPG) AttendanceTimes(ctx context.Context, patientID uuid.UUID) ([]time.Time, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT occurred_at FROM point_event WHERE patient_id = $1 AND kind = 'attendance' ORDER BY occurred_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *pointRepoPG) Leaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT pe.patient_id, p.full_name, SUM(pe.points) AS total
		FROM point_event pe JOIN patient p ON p.id = pe.patient_id
		WHERE p.status = 'active'
		GROUP BY pe.patient_id, p.full_name
		ORDER BY total DESC, p.full_name
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.PatientID, &e.PatientName, &e.TotalPoints); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
