package nps

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/db"
)

type surveyRepoPG struct{ pool *pgxpool.Pool }

func NewSurveyRepoPG(pool *pgxpool.Pool) SurveyRepository {
	return &surveyRepoPG{pool: pool}
}

func (r *surveyRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const surveyCols = `id, patient_id, appointment_id, token, sent_at, answered_at, score, comment`

func (r *surveyRepoPG) scan(row pgx.Row) (*Survey, error) {
	var s Survey
	if err := row.Scan(&s.ID, &s.PatientID, &s.AppointmentID, &s.Token, &s.SentAt, &s.AnsweredAt, &s.Score, &s.Comment); err != nil {
		return nil, apperr.FromDB(err, "survey")
	}
	return &s, nil
}

func (r *surveyRepoPG) Create(ctx context.Context, s *Survey) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO nps_survey (id, patient_id, appointment_id, token, sent_at)
		VALUES ($1,$2,$3,$4,$5)`,
		s.ID, s.PatientID, s.AppointmentID, s.Token, s.SentAt)
	return apperr.FromDB(err, "survey")
}

func (r *surveyRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Survey, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+surveyCols+` FROM nps_survey WHERE appointment_id = $1`, appointmentID))
}

func (r *surveyRepoPG) GetByToken(ctx context.Context, token string) (*Survey, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+surveyCols+` FROM nps_survey WHERE token = $1`, token))
}

func (r *surveyRepoPG) Answer(ctx context.Context, s *Survey) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE nps_survey SET answered_at = $2, score = $3, comment = $4
		WHERE id = $1 AND answered_at IS NULL`,
		s.ID, s.AnsweredAt, s.Score, s.Comment)
	if err != nil {
		return apperr.FromDB(err, "survey")
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("survey already answered")
	}
	return nil
}

func (r *surveyRepoPG) Counts(ctx context.Context, from, to time.Time) (*Counts, error) {
	var c Counts
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(answered_at),
		       COUNT(*) FILTER (WHERE score >= 9),
		       COUNT(*) FILTER (WHERE score BETWEEN 7 AND 8),
		       COUNT(*) FILTER (WHERE score <= 6)
		FROM nps_survey WHERE sent_at >= $1 AND sent_at < $2`, from, to).
		Scan(&c.Sent, &c.Answered, &c.Promoters, &c.Passives, &c.Detractors)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *surveyRepoPG) ListAnswered(ctx context.Context, from, to time.Time, limit, offset int) ([]*Survey, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM nps_survey
		WHERE answered_at IS NOT NULL AND answered_at >= $1 AND answered_at < $2`, from, to).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+surveyCols+` FROM nps_survey
		WHERE answered_at IS NOT NULL AND answered_at >= $1 AND answered_at < $2
		ORDER BY answered_at DESC LIMIT $3 OFFSET $4`, from, to, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Survey
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}
