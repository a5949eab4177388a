package crm

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

type leadRepoPG struct{ pool *pgxpool.Pool }

func NewLeadRepoPG(pool *pgxpool.Pool) LeadRepository {
	return &leadRepoPG{pool: pool}
}

func (r *leadRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const leadCols = `id, name, phone, phone_key, email, email_key, source, budget_cents, interest, status, score,
	last_contact_at, lost_reason, converted_patient_id, notes, created_at, updated_at`

func (r *leadRepoPG) scan(row pgx.Row) (*Lead, error) {
	var l Lead
	err := row.Scan(&l.ID, &l.Name, &l.Phone, &l.PhoneKey, &l.Email, &l.EmailKey, &l.Source, &l.BudgetCents,
		&l.Interest, &l.Status, &l.Score, &l.LastContactAt, &l.LostReason, &l.ConvertedPatientID, &l.Notes,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "lead")
	}
	return &l, nil
}

func (r *leadRepoPG) collect(rows pgx.Rows) ([]*Lead, error) {
	defer rows.Close()
	var items []*Lead
	for rows.Next() {
		l, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

func (r *leadRepoPG) Create(ctx context.Context, l *Lead) error {
	l.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lead (id, name, phone, phone_key, email, email_key, source, budget_cents, interest,
			status, score, last_contact_at, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING updated_at`,
		l.ID, l.Name, l.Phone, l.PhoneKey, l.Email, l.EmailKey, l.Source, l.BudgetCents, l.Interest,
		l.Status, l.Score, l.LastContactAt, l.Notes, l.CreatedAt,
	).Scan(&l.UpdatedAt)
	return apperr.FromDB(err, "lead")
}

func (r *leadRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Lead, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+leadCols+` FROM lead WHERE id = $1`, id))
}

func (r *leadRepoPG) Update(ctx context.Context, l *Lead) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE lead SET name=$2, phone=$3, phone_key=$4, email=$5, email_key=$6, source=$7, budget_cents=$8,
			interest=$9, status=$10, score=$11, last_contact_at=$12, lost_reason=$13, converted_patient_id=$14,
			notes=$15, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		l.ID, l.Name, l.Phone, l.PhoneKey, l.Email, l.EmailKey, l.Source, l.BudgetCents,
		l.Interest, l.Status, l.Score, l.LastContactAt, l.LostReason, l.ConvertedPatientID, l.Notes,
	).Scan(&l.UpdatedAt)
	return apperr.FromDB(err, "lead")
}

func (r *leadRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Lead, int, error) {
	where := ` WHERE score >= $1`
	args := []interface{}{f.MinScore}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.Source != "" {
		args = append(args, f.Source)
		where += fmt.Sprintf(` AND source = $%d`, len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lead`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	query := `SELECT ` + leadCols + ` FROM lead` + where +
		fmt.Sprintf(` ORDER BY score DESC, created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *leadRepoPG) FindOpenDuplicate(ctx context.Context, phoneKey, emailKey *string, exclude uuid.UUID) (*Lead, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+leadCols+` FROM lead
		WHERE status NOT IN ('converted', 'lost') AND id <> $3
		  AND ((phone_key IS NOT NULL AND phone_key = $1) OR (email_key IS NOT NULL AND email_key = $2))
		LIMIT 1`, phoneKey, emailKey, exclude))
}

func (r *leadRepoPG) ListOpen(ctx context.Context) ([]*Lead, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+leadCols+` FROM lead
		WHERE status NOT IN ('converted', 'lost') ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *leadRepoPG) UpdateScore(ctx context.Context, id uuid.UUID, score int) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE lead SET score = $2 WHERE id = $1`, id, score)
	return err
}

func (r *leadRepoPG) CountByStatus(ctx context.Context, from, to time.Time) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT status, COUNT(*) FROM lead WHERE created_at >= $1 AND created_at < $2 GROUP BY status`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
