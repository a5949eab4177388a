package patient

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/pkg/textnorm"
)

// AnamnesisHook runs after an anamnesis is saved.
type AnamnesisHook func(ctx context.Context, a *Anamnesis) error

type Service struct {
	patients   PatientRepository
	anamneses  AnamnesisRepository
	evolutions EvolutionRepository
	hooks      []AnamnesisHook
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(p PatientRepository, a AnamnesisRepository, e EvolutionRepository) *Service {
	return &Service{patients: p, anamneses: a, evolutions: e, logger: zerolog.Nop(), now: time.Now}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

// AddAnamnesisHook registers fn to run after every saved anamnesis. Hook
// errors are logged and do not fail the save.
func (s *Service) AddAnamnesisHook(fn AnamnesisHook) { s.hooks = append(s.hooks, fn) }

// normalize validates p and fills derived fields in place.
func (s *Service) normalize(p *Patient) error {
	p.FullName = strings.Join(strings.Fields(p.FullName), " ")
	if p.FullName == "" {
		return apperr.Invalid("full_name is required")
	}
	p.SearchName = textnorm.Fold(p.FullName)

	if p.CPF != nil {
		cpf := textnorm.Digits(*p.CPF)
		if cpf == "" {
			p.CPF = nil
		} else if !ValidCPF(cpf) {
			return apperr.Invalid("invalid cpf")
		} else {
			p.CPF = &cpf
		}
	}
	if p.Phone != nil {
		phone := textnorm.Phone(*p.Phone)
		if len(phone) < 8 {
			return apperr.Invalid("invalid phone")
		}
		p.Phone = &phone
	}
	if p.Email != nil {
		email := textnorm.Email(*p.Email)
		if _, err := mail.ParseAddress(email); err != nil {
			return apperr.Invalid("invalid email")
		}
		p.Email = &email
	}
	if p.BirthDate != nil && p.BirthDate.After(s.now()) {
		return apperr.Invalid("birth_date is in the future")
	}
	if p.InsuranceCard != nil && p.InsurancePlanID == nil {
		return apperr.Invalid("insurance_card requires insurance_plan_id")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, p *Patient) error {
	if err := s.normalize(p); err != nil {
		return err
	}
	p.Status = StatusActive
	return s.patients.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

// Update replaces the demographic fields. Status moves only through
// Discharge and Reactivate.
func (s *Service) Update(ctx context.Context, p *Patient) error {
	existing, err := s.patients.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if err := s.normalize(p); err != nil {
		return err
	}
	p.Status = existing.Status
	p.CreatedAt = existing.CreatedAt
	return s.patients.Update(ctx, p)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.patients.Delete(ctx, id)
}

func (s *Service) Search(ctx context.Context, f SearchFilter, limit, offset int) ([]*Patient, int, error) {
	f.Q = strings.TrimSpace(f.Q)
	switch f.Status {
	case "", StatusActive, StatusInactive, StatusDischarged:
	default:
		return nil, 0, apperr.Invalid("invalid status %q", f.Status)
	}
	return s.patients.Search(ctx, f, limit, offset)
}

func (s *Service) setStatus(ctx context.Context, id uuid.UUID, to string, from ...string) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, f := range from {
		if p.Status == f {
			allowed = true
		}
	}
	if !allowed {
		return nil, apperr.Conflict("patient is %s, cannot move to %s", p.Status, to)
	}
	p.Status = to
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Discharge(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.setStatus(ctx, id, StatusDischarged, StatusActive)
}

func (s *Service) Reactivate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.setStatus(ctx, id, StatusActive, StatusDischarged, StatusInactive)
}

func validPain(v *int) bool {
	return v == nil || (*v >= 0 && *v <= 10)
}

func (s *Service) GetAnamnesis(ctx context.Context, patientID uuid.UUID) (*Anamnesis, error) {
	return s.anamneses.Get(ctx, patientID)
}

func (s *Service) UpsertAnamnesis(ctx context.Context, a *Anamnesis) error {
	if _, err := s.patients.GetByID(ctx, a.PatientID); err != nil {
		return err
	}
	a.ChiefComplaint = strings.TrimSpace(a.ChiefComplaint)
	if a.ChiefComplaint == "" {
		return apperr.Invalid("chief_complaint is required")
	}
	if !validPain(a.PainScale) {
		return apperr.Invalid("pain_scale must be between 0 and 10")
	}
	if err := s.anamneses.Upsert(ctx, a); err != nil {
		return err
	}
	for _, fn := range s.hooks {
		if err := fn(ctx, a); err != nil {
			s.logger.Error().Err(err).Str("patient_id", a.PatientID.String()).Msg("anamnesis hook failed")
		}
	}
	return nil
}

func (s *Service) AddEvolution(ctx context.Context, e *Evolution) error {
	p, err := s.patients.GetByID(ctx, e.PatientID)
	if err != nil {
		return err
	}
	if p.Status == StatusDischarged {
		return apperr.Conflict("patient is discharged")
	}
	if e.ProfessionalID == uuid.Nil {
		return apperr.Invalid("professional_id is required")
	}
	if err := validateEvolution(e); err != nil {
		return err
	}
	e.SignedAt = nil
	return s.evolutions.Create(ctx, e)
}

func validateEvolution(e *Evolution) error {
	e.Content = strings.TrimSpace(e.Content)
	if e.Content == "" {
		return apperr.Invalid("content is required")
	}
	if !validPain(e.PainScale) {
		return apperr.Invalid("pain_scale must be between 0 and 10")
	}
	return nil
}

func (s *Service) GetEvolution(ctx context.Context, id uuid.UUID) (*Evolution, error) {
	return s.evolutions.GetByID(ctx, id)
}

// UpdateEvolution edits content, pain and procedures of an unsigned note.
func (s *Service) UpdateEvolution(ctx context.Context, upd *Evolution) (*Evolution, error) {
	e, err := s.evolutions.GetByID(ctx, upd.ID)
	if err != nil {
		return nil, err
	}
	if e.Signed() {
		return nil, apperr.Conflict("evolution is signed and cannot be changed")
	}
	e.Content, e.PainScale, e.Procedures = upd.Content, upd.PainScale, upd.Procedures
	if err := validateEvolution(e); err != nil {
		return nil, err
	}
	if err := s.evolutions.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// SignEvolution freezes a note. A non-nil signer must be the note's author.
func (s *Service) SignEvolution(ctx context.Context, id, signer uuid.UUID) (*Evolution, error) {
	e, err := s.evolutions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Signed() {
		return nil, apperr.Conflict("evolution is already signed")
	}
	if signer != uuid.Nil && signer != e.ProfessionalID {
		return nil, apperr.Forbidden("only the author can sign an evolution")
	}
	now := s.now().UTC()
	e.SignedAt = &now
	if err := s.evolutions.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) ListEvolutions(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Evolution, int, error) {
	return s.evolutions.ListByPatient(ctx, patientID, limit, offset)
}
