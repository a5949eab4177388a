package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/db"
	"github.com/fisioclinic/clinic/pkg/textnorm"
)

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const patientCols = `id, full_name, search_name, cpf, birth_date, gender, phone, email, address,
	insurance_plan_id, insurance_card, status, referral_source, notes, created_at, updated_at`

func (r *patientRepoPG) scan(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FullName, &p.SearchName, &p.CPF, &p.BirthDate, &p.Gender, &p.Phone,
		&p.Email, &p.Address, &p.InsurancePlanID, &p.InsuranceCard, &p.Status, &p.ReferralSource,
		&p.Notes, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "patient")
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, full_name, search_name, cpf, birth_date, gender, phone, email, address,
			insurance_plan_id, insurance_card, status, referral_source, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		p.ID, p.FullName, p.SearchName, p.CPF, p.BirthDate, p.Gender, p.Phone, p.Email, p.Address,
		p.InsurancePlanID, p.InsuranceCard, p.Status, p.ReferralSource, p.Notes,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return apperr.FromDB(err, "patient")
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET full_name=$2, search_name=$3, cpf=$4, birth_date=$5, gender=$6, phone=$7,
			email=$8, address=$9, insurance_plan_id=$10, insurance_card=$11, status=$12,
			referral_source=$13, notes=$14, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FullName, p.SearchName, p.CPF, p.BirthDate, p.Gender, p.Phone, p.Email, p.Address,
		p.InsurancePlanID, p.InsuranceCard, p.Status, p.ReferralSource, p.Notes,
	).Scan(&p.UpdatedAt)
	return apperr.FromDB(err, "patient")
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return apperr.Conflict("patient has appointments or financial records; discharge instead")
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient not found")
	}
	return nil
}

// searchWhere builds the filter of Search. Queries that look like a CPF or
// phone number match on digits; anything else matches the folded name.
func searchWhere(f SearchFilter) (string, []interface{}) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Q != "" {
		if digits, ok := textnorm.NumericQuery(f.Q); ok {
			where += fmt.Sprintf(` AND (cpf LIKE $%d OR phone LIKE $%d)`, idx, idx)
			args = append(args, textnorm.LikeContains(digits))
		} else {
			where += fmt.Sprintf(` AND search_name LIKE $%d`, idx)
			args = append(args, textnorm.LikeContains(textnorm.Fold(f.Q)))
		}
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
	}
	return where, args
}

func (r *patientRepoPG) Search(ctx context.Context, f SearchFilter, limit, offset int) ([]*Patient, int, error) {
	where, args := searchWhere(f)
	idx := len(args) + 1

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + patientCols + ` FROM patient` + where +
		fmt.Sprintf(` ORDER BY search_name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Anamnesis Repository ===========

type anamnesisRepoPG struct{ pool *pgxpool.Pool }

func NewAnamnesisRepoPG(pool *pgxpool.Pool) AnamnesisRepository { return &anamnesisRepoPG{pool: pool} }

func (r *anamnesisRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

func (r *anamnesisRepoPG) Get(ctx context.Context, patientID uuid.UUID) (*Anamnesis, error) {
	var a Anamnesis
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT patient_id, chief_complaint, history, medications, pain_scale, goals, created_at, updated_at
		FROM anamnesis WHERE patient_id = $1`, patientID,
	).Scan(&a.PatientID, &a.ChiefComplaint, &a.History, &a.Medications, &a.PainScale, &a.Goals,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "anamnesis")
	}
	return &a, nil
}

func (r *anamnesisRepoPG) Upsert(ctx context.Context, a *Anamnesis) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO anamnesis (patient_id, chief_complaint, history, medications, pain_scale, goals)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (patient_id) DO UPDATE SET
			chief_complaint = EXCLUDED.chief_complaint, history = EXCLUDED.history,
			medications = EXCLUDED.medications, pain_scale = EXCLUDED.pain_scale,
			goals = EXCLUDED.goals, updated_at = NOW()
		RETURNING created_at, updated_at`,
		a.PatientID, a.ChiefComplaint, a.History, a.Medications, a.PainScale, a.Goals,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return apperr.FromDB(err, "anamnesis")
}

// =========== Evolution Repository ===========

type evolutionRepoPG struct{ pool *pgxpool.Pool }

func NewEvolutionRepoPG(pool *pgxpool.Pool) EvolutionRepository { return &evolutionRepoPG{pool: pool} }

func (r *evolutionRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const evoCols = `id, patient_id, appointment_id, professional_id, pain_scale, content, procedures,
	signed_at, created_at, updated_at`

func (r *evolutionRepoPG) scan(row pgx.Row) (*Evolution, error) {
	var e Evolution
	err := row.Scan(&e.ID, &e.PatientID, &e.AppointmentID, &e.ProfessionalID, &e.PainScale,
		&e.Content, &e.Procedures, &e.SignedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "evolution")
	}
	return &e, nil
}

func (r *evolutionRepoPG) Create(ctx context.Context, e *Evolution) error {
	e.ID = uuid.New()
	if e.Procedures == nil {
		e.Procedures = []string{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO evolution (id, patient_id, appointment_id, professional_id, pain_scale, content, procedures)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		e.ID, e.PatientID, e.AppointmentID, e.ProfessionalID, e.PainScale, e.Content, e.Procedures,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	return apperr.FromDB(err, "evolution")
}

func (r *evolutionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Evolution, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+evoCols+` FROM evolution WHERE id = $1`, id))
}

// Update refuses to touch a row that is already signed, even if the caller
// raced a concurrent SignEvolution.
func (r *evolutionRepoPG) Update(ctx context.Context, e *Evolution) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE evolution SET pain_scale=$2, content=$3, procedures=$4, signed_at=$5, updated_at=NOW()
		WHERE id = $1 AND signed_at IS NULL`,
		e.ID, e.PainScale, e.Content, e.Procedures, e.SignedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("evolution %s is signed or missing", e.ID)
	}
	return nil
}

func (r *evolutionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Evolution, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM evolution WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+evoCols+` FROM evolution WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Evolution
	for rows.Next() {
		e, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}
