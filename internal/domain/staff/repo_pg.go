package staff

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const cols = `id, name, email, role, crefito, specialty, phone, active, password_hash, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Professional, error) {
	var p Professional
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Role, &p.Crefito, &p.Specialty, &p.Phone,
		&p.Active, &p.PasswordHash, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "professional")
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Professional) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO professional (id, name, email, role, crefito, specialty, phone, active, password_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Email, p.Role, p.Crefito, p.Specialty, p.Phone, p.Active, p.PasswordHash,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return apperr.FromDB(err, "professional")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Professional, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM professional WHERE id = $1`, id))
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*Professional, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM professional WHERE email = $1`, email))
}

func (r *repoPG) Update(ctx context.Context, p *Professional) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE professional SET name=$2, email=$3, role=$4, crefito=$5, specialty=$6, phone=$7,
			active=$8, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.Email, p.Role, p.Crefito, p.Specialty, p.Phone, p.Active)
	if err != nil {
		return apperr.FromDB(err, "professional")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("professional not found")
	}
	return nil
}

func (r *repoPG) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE professional SET password_hash=$2, updated_at=NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("professional not found")
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Professional, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.Role != "" {
		where += fmt.Sprintf(` AND role = $%d`, idx)
		args = append(args, f.Role)
		idx++
	}
	if f.Active != nil {
		where += fmt.Sprintf(` AND active = $%d`, idx)
		args = append(args, *f.Active)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM professional`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + cols + ` FROM professional` + where +
		fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Professional
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
