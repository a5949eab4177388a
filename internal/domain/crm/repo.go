package crm

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type LeadRepository interface {
	Create(ctx context.Context, l *Lead) error
	GetByID(ctx context.Context, id uuid.UUID) (*Lead, error)
	Update(ctx context.Context, l *Lead) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Lead, int, error)
	// FindOpenDuplicate returns an open lead sharing the phone or email key,
	// ignoring exclude. It returns NotFound when there is none.
	FindOpenDuplicate(ctx context.Context, phoneKey, emailKey *string, exclude uuid.UUID) (*Lead, error)
	ListOpen(ctx context.Context) ([]*Lead, error)
	UpdateScore(ctx context.Context, id uuid.UUID, score int) error
	CountByStatus(ctx context.Context, from, to time.Time) (map[string]int, error)
}
