package scheduling

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

// =========== Working Hours Repository ===========

type workingHoursRepoPG struct{ pool *pgxpool.Pool }

func NewWorkingHoursRepoPG(pool *pgxpool.Pool) WorkingHoursRepository {
	return &workingHoursRepoPG{pool: pool}
}

func (r *workingHoursRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

func (r *workingHoursRepoPG) ListByProfessional(ctx context.Context, professionalID uuid.UUID) ([]*WorkingHours, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, professional_id, weekday, start_time, end_time, slot_minutes
		FROM working_hours WHERE professional_id = $1 ORDER BY weekday, start_time`, professionalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*WorkingHours
	for rows.Next() {
		var w WorkingHours
		if err := rows.Scan(&w.ID, &w.ProfessionalID, &w.Weekday, &w.Start, &w.End, &w.SlotMinutes); err != nil {
			return nil, err
		}
		items = append(items, &w)
	}
	return items, rows.Err()
}

// Replace must run inside a transaction so readers never see a half-written week.
func (r *workingHoursRepoPG) Replace(ctx context.Context, professionalID uuid.UUID, hours []*WorkingHours) error {
	q := r.conn(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM working_hours WHERE professional_id = $1`, professionalID); err != nil {
		return err
	}
	for _, w := range hours {
		w.ID = uuid.New()
		w.ProfessionalID = professionalID
		if _, err := q.Exec(ctx, `
			INSERT INTO working_hours (id, professional_id, weekday, start_time, end_time, slot_minutes)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			w.ID, w.ProfessionalID, w.Weekday, w.Start, w.End, w.SlotMinutes); err != nil {
			return apperr.FromDB(err, "working hours")
		}
	}
	return nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const apptCols = `id, patient_id, professional_id, start_at, end_at, kind, status, price_cents,
	notes, series_id, reminder_sent_at, cancel_reason, created_at, updated_at`

func (r *appointmentRepoPG) scan(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.ProfessionalID, &a.StartAt, &a.EndAt, &a.Kind, &a.Status,
		&a.PriceCents, &a.Notes, &a.SeriesID, &a.ReminderSentAt, &a.CancelReason, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "appointment")
	}
	return &a, nil
}

func (r *appointmentRepoPG) collect(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, professional_id, start_at, end_at, kind, status,
			price_cents, notes, series_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.ProfessionalID, a.StartAt, a.EndAt, a.Kind, a.Status,
		a.PriceCents, a.Notes, a.SeriesID,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return apperr.FromDB(err, "appointment")
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET start_at=$2, end_at=$3, kind=$4, status=$5, price_cents=$6, notes=$7,
			reminder_sent_at=$8, cancel_reason=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.StartAt, a.EndAt, a.Kind, a.Status, a.PriceCents, a.Notes, a.ReminderSentAt, a.CancelReason,
	).Scan(&a.UpdatedAt)
	return apperr.FromDB(err, "appointment")
}

func (r *appointmentRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	add := func(clause string, v interface{}) {
		where += fmt.Sprintf(clause, idx)
		args = append(args, v)
		idx++
	}
	if f.From != nil {
		add(` AND end_at > $%d`, *f.From)
	}
	if f.To != nil {
		add(` AND start_at < $%d`, *f.To)
	}
	if f.ProfessionalID != nil {
		add(` AND professional_id = $%d`, *f.ProfessionalID)
	}
	if f.PatientID != nil {
		add(` AND patient_id = $%d`, *f.PatientID)
	}
	if f.Status != "" {
		add(` AND status = $%d`, f.Status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + apptCols + ` FROM appointment` + where +
		fmt.Sprintf(` ORDER BY start_at LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *appointmentRepoPG) Blocking(ctx context.Context, professionalID uuid.UUID, from, to time.Time, exclude uuid.UUID) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE professional_id = $1 AND start_at < $3 AND end_at > $2 AND id <> $4
		  AND status NOT IN ('cancelled', 'no_show')
		ORDER BY start_at`, professionalID, from, to, exclude)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *appointmentRepoPG) LockProfessional(ctx context.Context, professionalID uuid.UUID) error {
	if db.TxFromContext(ctx) == nil {
		return fmt.Errorf("LockProfessional requires a transaction")
	}
	_, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "appointment:"+professionalID.String())
	return err
}

func (r *appointmentRepoPG) DueForReminder(ctx context.Context, from, to time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE start_at >= $1 AND start_at < $2 AND reminder_sent_at IS NULL
		  AND status IN ('scheduled', 'confirmed')
		ORDER BY start_at`, from, to)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *appointmentRepoPG) MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE appointment SET reminder_sent_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment not found")
	}
	return nil
}
