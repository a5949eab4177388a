package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ReceivableRepository interface {
	Create(ctx context.Context, r *Receivable) error
	GetByID(ctx context.Context, id uuid.UUID) (*Receivable, error)
	// GetForUpdate row-locks the receivable inside the current transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Receivable, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Receivable, error)
	Update(ctx context.Context, r *Receivable) error
	List(ctx context.Context, f ReceivableFilter, limit, offset int) ([]*Receivable, int, error)
	// MarkOverdue flips open receivables due before today and returns them.
	MarkOverdue(ctx context.Context, today time.Time) ([]*Receivable, error)
	OpenTotal(ctx context.Context) (int64, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	ListByReceivable(ctx context.Context, receivableID uuid.UUID) ([]*Payment, error)
	SumBetween(ctx context.Context, from, to time.Time) (int64, error)
}

type PayableRepository interface {
	Create(ctx context.Context, p *Payable) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payable, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Payable, error)
	Update(ctx context.Context, p *Payable) error
	List(ctx context.Context, f PayableFilter, limit, offset int) ([]*Payable, int, error)
	MarkOverdue(ctx context.Context, today time.Time) (int64, error)
	OpenTotal(ctx context.Context) (int64, error)
	PaidBetween(ctx context.Context, from, to time.Time) (int64, error)
}
