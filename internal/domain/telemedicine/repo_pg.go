package telemedicine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/db"
)

type sessionRepoPG struct{ pool *pgxpool.Pool }

func NewSessionRepoPG(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepoPG{pool: pool}
}

func (r *sessionRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const sessionCols = `id, appointment_id, patient_id, professional_id, room, status,
	started_at, ended_at, duration_seconds, created_at, updated_at`

func (r *sessionRepoPG) scan(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.AppointmentID, &s.PatientID, &s.ProfessionalID, &s.Room, &s.Status,
		&s.StartedAt, &s.EndedAt, &s.DurationSeconds, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "telemedicine session")
	}
	return &s, nil
}

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	s.ID = uuid.New()
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO telemed_session (id, appointment_id, patient_id, professional_id, room, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		s.ID, s.AppointmentID, s.PatientID, s.ProfessionalID, s.Room, s.Status, s.CreatedAt, s.UpdatedAt)
	return apperr.FromDB(err, "telemedicine session")
}

func (r *sessionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM telemed_session WHERE id = $1`, id))
}

func (r *sessionRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Session, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sessionCols+` FROM telemed_session WHERE appointment_id = $1`, appointmentID))
}

func (r *sessionRepoPG) GetByRoom(ctx context.Context, room string) (*Session, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM telemed_session WHERE room = $1`, room))
}

func (r *sessionRepoPG) Update(ctx context.Context, s *Session) error {
	s.UpdatedAt = time.Now()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE telemed_session SET status=$2, started_at=$3, ended_at=$4, duration_seconds=$5, updated_at=$6
		WHERE id = $1`,
		s.ID, s.Status, s.StartedAt, s.EndedAt, s.DurationSeconds, s.UpdatedAt)
	if err != nil {
		return apperr.FromDB(err, "telemedicine session")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("telemedicine session %s not found", s.ID)
	}
	return nil
}

func (r *sessionRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Session, int, error) {
	where := "WHERE 1=1"
	var args []interface{}
	idx := 1
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.ProfessionalID != nil {
		where += fmt.Sprintf(" AND professional_id = $%d", idx)
		args = append(args, *f.ProfessionalID)
		idx++
	}
	if f.PatientID != nil {
		where += fmt.Sprintf(" AND patient_id = $%d", idx)
		args = append(args, *f.PatientID)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM telemed_session "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM telemed_session %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		sessionCols, where, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Session
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}
