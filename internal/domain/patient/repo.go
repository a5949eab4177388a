package patient

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, f SearchFilter, limit, offset int) ([]*Patient, int, error)
}

type AnamnesisRepository interface {
	Get(ctx context.Context, patientID uuid.UUID) (*Anamnesis, error)
	Upsert(ctx context.Context, a *Anamnesis) error
}

type EvolutionRepository interface {
	Create(ctx context.Context, e *Evolution) error
	GetByID(ctx context.Context, id uuid.UUID) (*Evolution, error)
	Update(ctx context.Context, e *Evolution) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Evolution, int, error)
}
