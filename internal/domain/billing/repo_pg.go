package billing

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

// whereBuilder accumulates positional filters.
type whereBuilder struct {
	sql  string
	args []interface{}
}

func (w *whereBuilder) add(clause string, v interface{}) {
	w.args = append(w.args, v)
	w.sql += fmt.Sprintf(clause, len(w.args))
}

func (w *whereBuilder) page(limit, offset int) string {
	w.args = append(w.args, limit, offset)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(w.args)-1, len(w.args))
}

// =========== Receivable Repository ===========

type receivableRepoPG struct{ pool *pgxpool.Pool }

func NewReceivableRepoPG(pool *pgxpool.Pool) ReceivableRepository {
	return &receivableRepoPG{pool: pool}
}

func (r *receivableRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const recvCols = `id, patient_id, appointment_id, description, amount_cents, paid_cents, due_date, status,
	installment_number, installment_total, group_id, created_at, updated_at`

func (r *receivableRepoPG) scan(row pgx.Row) (*Receivable, error) {
	var x Receivable
	err := row.Scan(&x.ID, &x.PatientID, &x.AppointmentID, &x.Description, &x.AmountCents, &x.PaidCents,
		&x.DueDate, &x.Status, &x.InstallmentNumber, &x.InstallmentTotal, &x.GroupID, &x.CreatedAt, &x.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "receivable")
	}
	return &x, nil
}

func (r *receivableRepoPG) collect(rows pgx.Rows) ([]*Receivable, error) {
	defer rows.Close()
	var items []*Receivable
	for rows.Next() {
		x, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, x)
	}
	return items, rows.Err()
}

func (r *receivableRepoPG) Create(ctx context.Context, x *Receivable) error {
	x.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO receivable (id, patient_id, appointment_id, description, amount_cents, paid_cents, due_date,
			status, installment_number, installment_total, group_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		x.ID, x.PatientID, x.AppointmentID, x.Description, x.AmountCents, x.PaidCents, x.DueDate,
		x.Status, x.InstallmentNumber, x.InstallmentTotal, x.GroupID,
	).Scan(&x.CreatedAt, &x.UpdatedAt)
	return apperr.FromDB(err, "receivable")
}

func (r *receivableRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Receivable, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+recvCols+` FROM receivable WHERE id = $1`, id))
}

func (r *receivableRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Receivable, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+recvCols+` FROM receivable WHERE id = $1 FOR UPDATE`, id))
}

func (r *receivableRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Receivable, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+recvCols+` FROM receivable WHERE appointment_id = $1`, appointmentID))
}

func (r *receivableRepoPG) Update(ctx context.Context, x *Receivable) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE receivable SET description=$2, paid_cents=$3, due_date=$4, status=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		x.ID, x.Description, x.PaidCents, x.DueDate, x.Status,
	).Scan(&x.UpdatedAt)
	return apperr.FromDB(err, "receivable")
}

func (r *receivableRepoPG) List(ctx context.Context, f ReceivableFilter, limit, offset int) ([]*Receivable, int, error) {
	w := &whereBuilder{sql: ` WHERE 1=1`}
	if f.Status != "" {
		w.add(` AND status = $%d`, f.Status)
	}
	if f.PatientID != nil {
		w.add(` AND patient_id = $%d`, *f.PatientID)
	}
	if f.DueFrom != nil {
		w.add(` AND due_date >= $%d`, *f.DueFrom)
	}
	if f.DueTo != nil {
		w.add(` AND due_date <= $%d`, *f.DueTo)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM receivable`+w.sql, w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + recvCols + ` FROM receivable` + w.sql + ` ORDER BY due_date, installment_number` + w.page(limit, offset)
	rows, err := r.conn(ctx).Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *receivableRepoPG) MarkOverdue(ctx context.Context, today time.Time) ([]*Receivable, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE receivable SET status = 'overdue', updated_at = NOW()
		WHERE status IN ('pending', 'partially_paid') AND due_date < $1
		RETURNING `+recvCols, today)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *receivableRepoPG) OpenTotal(ctx context.Context) (int64, error) {
	var total int64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents - paid_cents), 0) FROM receivable
		WHERE status IN ('pending', 'partially_paid', 'overdue')`).Scan(&total)
	return total, err
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepoPG{pool: pool}
}

func (r *paymentRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payment (id, receivable_id, amount_cents, method, paid_at, notes)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.ReceivableID, p.AmountCents, p.Method, p.PaidAt, p.Notes)
	return apperr.FromDB(err, "payment")
}

func (r *paymentRepoPG) ListByReceivable(ctx context.Context, receivableID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, receivable_id, amount_cents, method, paid_at, notes
		FROM payment WHERE receivable_id = $1 ORDER BY paid_at`, receivableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.ReceivableID, &p.AmountCents, &p.Method, &p.PaidAt, &p.Notes); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *paymentRepoPG) SumBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var total int64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM payment WHERE paid_at >= $1 AND paid_at < $2`,
		from, to).Scan(&total)
	return total, err
}

// =========== Payable Repository ===========

type payableRepoPG struct{ pool *pgxpool.Pool }

func NewPayableRepoPG(pool *pgxpool.Pool) PayableRepository {
	return &payableRepoPG{pool: pool}
}

func (r *payableRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const payableCols = `id, supplier, category, description, amount_cents, due_date, status, paid_at, method,
	created_at, updated_at`

func (r *payableRepoPG) scan(row pgx.Row) (*Payable, error) {
	var p Payable
	err := row.Scan(&p.ID, &p.Supplier, &p.Category, &p.Description, &p.AmountCents, &p.DueDate, &p.Status,
		&p.PaidAt, &p.Method, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "payable")
	}
	return &p, nil
}

func (r *payableRepoPG) Create(ctx context.Context, p *Payable) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payable (id, supplier, category, description, amount_cents, due_date, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		p.ID, p.Supplier, p.Category, p.Description, p.AmountCents, p.DueDate, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return apperr.FromDB(err, "payable")
}

func (r *payableRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payable, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+payableCols+` FROM payable WHERE id = $1`, id))
}

func (r *payableRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Payable, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+payableCols+` FROM payable WHERE id = $1 FOR UPDATE`, id))
}

func (r *payableRepoPG) Update(ctx context.Context, p *Payable) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE payable SET supplier=$2, category=$3, description=$4, amount_cents=$5, due_date=$6,
			status=$7, paid_at=$8, method=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Supplier, p.Category, p.Description, p.AmountCents, p.DueDate, p.Status, p.PaidAt, p.Method,
	).Scan(&p.UpdatedAt)
	return apperr.FromDB(err, "payable")
}

func (r *payableRepoPG) List(ctx context.Context, f PayableFilter, limit, offset int) ([]*Payable, int, error) {
	w := &whereBuilder{sql: ` WHERE 1=1`}
	if f.Status != "" {
		w.add(` AND status = $%d`, f.Status)
	}
	if f.Category != "" {
		w.add(` AND category = $%d`, f.Category)
	}
	if f.DueFrom != nil {
		w.add(` AND due_date >= $%d`, *f.DueFrom)
	}
	if f.DueTo != nil {
		w.add(` AND due_date <= $%d`, *f.DueTo)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM payable`+w.sql, w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + payableCols + ` FROM payable` + w.sql + ` ORDER BY due_date` + w.page(limit, offset)
	rows, err := r.conn(ctx).Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Payable
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *payableRepoPG) MarkOverdue(ctx context.Context, today time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payable SET status = 'overdue', updated_at = NOW()
		WHERE status = 'pending' AND due_date < $1`, today)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *payableRepoPG) OpenTotal(ctx context.Context) (int64, error) {
	var total int64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM payable WHERE status IN ('pending', 'overdue')`).Scan(&total)
	return total, err
}

func (r *payableRepoPG) PaidBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var total int64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM payable
		WHERE status = 'paid' AND paid_at >= $1 AND paid_at < $2`, from, to).Scan(&total)
	return total, err
}
