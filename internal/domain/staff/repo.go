package staff

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Professional) error
	GetByID(ctx context.Context, id uuid.UUID) (*Professional, error)
	GetByEmail(ctx context.Context, email string) (*Professional, error)
	Update(ctx context.Context, p *Professional) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Professional, int, error)
}
