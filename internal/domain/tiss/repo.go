package tiss

import (
	"context"

	"github.com/google/uuid"
)

type PlanRepository interface {
	Create(ctx context.Context, p *Plan) error
	GetByID(ctx context.Context, id uuid.UUID) (*Plan, error)
	Update(ctx context.Context, p *Plan) error
	List(ctx context.Context, activeOnly bool) ([]*Plan, error)
	// NextGuideNumber and NextBatchNumber hand out per-plan sequences.
	NextGuideNumber(ctx context.Context, planID uuid.UUID) (int64, error)
	NextBatchNumber(ctx context.Context, planID uuid.UUID) (int64, error)
}

type GuideRepository interface {
	Create(ctx context.Context, g *Guide) error
	GetByID(ctx context.Context, id uuid.UUID) (*Guide, error)
	// GetForUpdate row-locks the guide inside the current transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Guide, error)
	Update(ctx context.Context, g *Guide) error
	List(ctx context.Context, f GuideFilter, limit, offset int) ([]*Guide, int, error)
	AddItem(ctx context.Context, item *GuideItem) error
	ListItems(ctx context.Context, guideID uuid.UUID) ([]*GuideItem, error)
	// ListReady returns up to limit ready guides of a plan, oldest first,
	// locked for the running transaction.
	ListReady(ctx context.Context, planID uuid.UUID, limit int) ([]*Guide, error)
	AssignBatch(ctx context.Context, guideIDs []uuid.UUID, batchID uuid.UUID) error
}

type BatchRepository interface {
	Create(ctx context.Context, b *Batch) error
	GetByID(ctx context.Context, id uuid.UUID) (*Batch, error)
	List(ctx context.Context, planID uuid.UUID, limit, offset int) ([]*Batch, int, error)
}
