package tiss

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

// =========== Plan Repository ===========

type planRepoPG struct{ pool *pgxpool.Pool }

func NewPlanRepoPG(pool *pgxpool.Pool) PlanRepository {
	return &planRepoPG{pool: pool}
}

func (r *planRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const planCols = `id, name, ans_code, tiss_version, provider_code, price_table, active,
	next_guide_number, next_batch_number, created_at, updated_at`

func (r *planRepoPG) scan(row pgx.Row) (*Plan, error) {
	var p Plan
	err := row.Scan(&p.ID, &p.Name, &p.ANSCode, &p.TISSVersion, &p.ProviderCode, &p.PriceTable, &p.Active,
		&p.NextGuideNumber, &p.NextBatchNumber, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "insurance plan")
	}
	return &p, nil
}

func (r *planRepoPG) Create(ctx context.Context, p *Plan) error {
	p.ID = uuid.New()
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	p.NextGuideNumber, p.NextBatchNumber = 1, 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO insurance_plan (id, name, ans_code, tiss_version, provider_code, price_table, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.Name, p.ANSCode, p.TISSVersion, p.ProviderCode, p.PriceTable, p.Active, p.CreatedAt, p.UpdatedAt)
	return apperr.FromDB(err, "insurance plan")
}

func (r *planRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Plan, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+planCols+` FROM insurance_plan WHERE id = $1`, id))
}

func (r *planRepoPG) Update(ctx context.Context, p *Plan) error {
	p.UpdatedAt = time.Now()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE insurance_plan SET name=$2, ans_code=$3, tiss_version=$4, provider_code=$5, price_table=$6,
			active=$7, updated_at=$8
		WHERE id = $1`,
		p.ID, p.Name, p.ANSCode, p.TISSVersion, p.ProviderCode, p.PriceTable, p.Active, p.UpdatedAt)
	if err != nil {
		return apperr.FromDB(err, "insurance plan")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("insurance plan %s not found", p.ID)
	}
	return nil
}

func (r *planRepoPG) List(ctx context.Context, activeOnly bool) ([]*Plan, error) {
	query := `SELECT ` + planCols + ` FROM insurance_plan`
	if activeOnly {
		query += ` WHERE active`
	}
	rows, err := r.conn(ctx).Query(ctx, query+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Plan
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *planRepoPG) next(ctx context.Context, column string, planID uuid.UUID) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx, fmt.Sprintf(
		`UPDATE insurance_plan SET %[1]s = %[1]s + 1 WHERE id = $1 RETURNING %[1]s - 1`, column), planID).Scan(&n)
	if err != nil {
		return 0, apperr.FromDB(err, "insurance plan")
	}
	return n, nil
}

func (r *planRepoPG) NextGuideNumber(ctx context.Context, planID uuid.UUID) (int64, error) {
	return r.next(ctx, "next_guide_number", planID)
}

func (r *planRepoPG) NextBatchNumber(ctx context.Context, planID uuid.UUID) (int64, error) {
	return r.next(ctx, "next_batch_number", planID)
}

// =========== Guide Repository ===========

type guideRepoPG struct{ pool *pgxpool.Pool }

func NewGuideRepoPG(pool *pgxpool.Pool) GuideRepository {
	return &guideRepoPG{pool: pool}
}

func (r *guideRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const guideCols = `id, plan_id, patient_id, kind, guide_number, card_number, authorization_number,
	requesting_professional_id, status, total_cents, glosa_cents, paid_cents, denial_reason, batch_id,
	created_at, updated_at`

func (r *guideRepoPG) scan(row pgx.Row) (*Guide, error) {
	var g Guide
	err := row.Scan(&g.ID, &g.PlanID, &g.PatientID, &g.Kind, &g.GuideNumber, &g.CardNumber, &g.AuthorizationNumber,
		&g.RequestingProfessionalID, &g.Status, &g.TotalCents, &g.GlosaCents, &g.PaidCents, &g.DenialReason, &g.BatchID,
		&g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "guide")
	}
	return &g, nil
}

func (r *guideRepoPG) collect(rows pgx.Rows) ([]*Guide, error) {
	defer rows.Close()
	var items []*Guide
	for rows.Next() {
		g, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

func (r *guideRepoPG) Create(ctx context.Context, g *Guide) error {
	g.ID = uuid.New()
	now := time.Now()
	g.CreatedAt, g.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO tiss_guide (id, plan_id, patient_id, kind, guide_number, card_number, authorization_number,
			requesting_professional_id, status, total_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		g.ID, g.PlanID, g.PatientID, g.Kind, g.GuideNumber, g.CardNumber, g.AuthorizationNumber,
		g.RequestingProfessionalID, g.Status, g.TotalCents, g.CreatedAt, g.UpdatedAt)
	return apperr.FromDB(err, "guide")
}

func (r *guideRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Guide, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+guideCols+` FROM tiss_guide WHERE id = $1`, id))
}

func (r *guideRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Guide, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+guideCols+` FROM tiss_guide WHERE id = $1 FOR UPDATE`, id))
}

func (r *guideRepoPG) Update(ctx context.Context, g *Guide) error {
	g.UpdatedAt = time.Now()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE tiss_guide SET card_number=$2, authorization_number=$3, requesting_professional_id=$4, status=$5,
			total_cents=$6, glosa_cents=$7, paid_cents=$8, denial_reason=$9, batch_id=$10, updated_at=$11
		WHERE id = $1`,
		g.ID, g.CardNumber, g.AuthorizationNumber, g.RequestingProfessionalID, g.Status,
		g.TotalCents, g.GlosaCents, g.PaidCents, g.DenialReason, g.BatchID, g.UpdatedAt)
	if err != nil {
		return apperr.FromDB(err, "guide")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("guide %s not found", g.ID)
	}
	return nil
}

func (r *guideRepoPG) List(ctx context.Context, f GuideFilter, limit, offset int) ([]*Guide, int, error) {
	where := "WHERE 1=1"
	var args []interface{}
	idx := 1
	if f.PlanID != nil {
		where += fmt.Sprintf(" AND plan_id = $%d", idx)
		args = append(args, *f.PlanID)
		idx++
	}
	if f.PatientID != nil {
		where += fmt.Sprintf(" AND patient_id = $%d", idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM tiss_guide "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf("SELECT %s FROM tiss_guide %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		guideCols, where, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *guideRepoPG) AddItem(ctx context.Context, item *GuideItem) error {
	item.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO tiss_guide_item (id, guide_id, tuss_code, description, quantity, unit_cents, performed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		item.ID, item.GuideID, item.TUSSCode, item.Description, item.Quantity, item.UnitCents, item.PerformedAt)
	return apperr.FromDB(err, "guide item")
}

func (r *guideRepoPG) ListItems(ctx context.Context, guideID uuid.UUID) ([]*GuideItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, guide_id, tuss_code, description, quantity, unit_cents, performed_at
		FROM tiss_guide_item WHERE guide_id = $1 ORDER BY performed_at, tuss_code`, guideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*GuideItem
	for rows.Next() {
		var i GuideItem
		if err := rows.Scan(&i.ID, &i.GuideID, &i.TUSSCode, &i.Description, &i.Quantity, &i.UnitCents, &i.PerformedAt); err != nil {
			return nil, err
		}
		items = append(items, &i)
	}
	return items, rows.Err()
}

func (r *guideRepoPG) ListReady(ctx context.Context, planID uuid.UUID, limit int) ([]*Guide, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+guideCols+` FROM tiss_guide
		WHERE plan_id = $1 AND status = 'ready'
		ORDER BY guide_number LIMIT $2 FOR UPDATE`, planID, limit)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *guideRepoPG) AssignBatch(ctx context.Context, guideIDs []uuid.UUID, batchID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE tiss_guide SET batch_id = $1, status = 'submitted', updated_at = NOW()
		WHERE id = ANY($2) AND status = 'ready'`, batchID, guideIDs)
	if err != nil {
		return apperr.FromDB(err, "guide")
	}
	if int(tag.RowsAffected()) != len(guideIDs) {
		return apperr.Conflict("some guides are no longer ready")
	}
	return nil
}

// =========== Batch Repository ===========

type batchRepoPG struct{ pool *pgxpool.Pool }

func NewBatchRepoPG(pool *pgxpool.Pool) BatchRepository {
	return &batchRepoPG{pool: pool}
}

func (r *batchRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const batchCols = `id, plan_id, sequence, guide_count, total_cents, xml, hash, created_at`

func (r *batchRepoPG) scan(row pgx.Row) (*Batch, error) {
	var b Batch
	if err := row.Scan(&b.ID, &b.PlanID, &b.Sequence, &b.GuideCount, &b.TotalCents, &b.XML, &b.Hash, &b.CreatedAt); err != nil {
		return nil, apperr.FromDB(err, "batch")
	}
	return &b, nil
}

func (r *batchRepoPG) Create(ctx context.Context, b *Batch) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO tiss_batch (id, plan_id, sequence, guide_count, total_cents, xml, hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		b.ID, b.PlanID, b.Sequence, b.GuideCount, b.TotalCents, b.XML, b.Hash, b.CreatedAt)
	return apperr.FromDB(err, "batch")
}

func (r *batchRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Batch, error) {
	b, err := r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+batchCols+` FROM tiss_batch WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT id FROM tiss_guide WHERE batch_id = $1 ORDER BY guide_number`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var gid uuid.UUID
		if err := rows.Scan(&gid); err != nil {
			return nil, err
		}
		b.GuideIDs = append(b.GuideIDs, gid)
	}
	return b, rows.Err()
}

func (r *batchRepoPG) List(ctx context.Context, planID uuid.UUID, limit, offset int) ([]*Batch, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM tiss_batch WHERE plan_id = $1`, planID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+batchCols+` FROM tiss_batch WHERE plan_id = $1
		ORDER BY sequence DESC LIMIT $2 OFFSET $3`, planID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Batch
	for rows.Next() {
		b, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}
