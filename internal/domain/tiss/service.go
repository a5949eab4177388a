package tiss

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/cache"
	"github.com/fisioclinic/clinic/internal/platform/catalog"
	"github.com/fisioclinic/clinic/internal/platform/db"
)

const plansCachePrefix = "plans"

type Service struct {
	plans   PlanRepository
	guides  GuideRepository
	batches BatchRepository
	catalog *catalog.Catalog
	tx      db.Transactor
	cache   cache.Cache
	ttl     time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(plans PlanRepository, guides GuideRepository, batches BatchRepository, cat *catalog.Catalog, tx db.Transactor) *Service {
	return &Service{
		plans:   plans,
		guides:  guides,
		batches: batches,
		catalog: cat,
		tx:      tx,
		ttl:     5 * time.Minute,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
}

func (s *Service) SetCache(c cache.Cache, ttl time.Duration) {
	s.cache = c
	if ttl > 0 {
		s.ttl = ttl
	}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

// -- Plans --

func (s *Service) validatePlan(p *Plan) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return apperr.Invalid("name is required")
	}
	if len(p.ANSCode) != 6 || strings.Trim(p.ANSCode, "0123456789") != "" {
		return apperr.Invalid("ans_code must have 6 digits")
	}
	p.ProviderCode = strings.TrimSpace(p.ProviderCode)
	if p.ProviderCode == "" {
		return apperr.Invalid("provider_code is required")
	}
	if p.TISSVersion == "" {
		p.TISSVersion = DefaultVersion
	}
	if p.PriceTable == nil {
		p.PriceTable = map[string]int64{}
	}
	for code, cents := range p.PriceTable {
		if _, ok := s.catalog.Procedure(code); !ok {
			return apperr.Invalid("unknown TUSS code in price table: %s", code)
		}
		if cents < 0 {
			return apperr.Invalid("price for %s cannot be negative", code)
		}
	}
	return nil
}

func (s *Service) invalidatePlans(ctx context.Context) {
	if err := cache.Invalidate(ctx, s.cache, plansCachePrefix); err != nil {
		s.logger.Warn().Err(err).Msg("plan cache invalidation failed")
	}
}

func (s *Service) CreatePlan(ctx context.Context, p *Plan) error {
	if err := s.validatePlan(p); err != nil {
		return err
	}
	p.Active = true
	if err := s.plans.Create(ctx, p); err != nil {
		return err
	}
	s.invalidatePlans(ctx)
	return nil
}

func (s *Service) GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error) {
	return s.plans.GetByID(ctx, id)
}

// ListPlans is read-through cached per tenant.
func (s *Service) ListPlans(ctx context.Context, activeOnly bool) ([]*Plan, error) {
	scope := "all"
	if activeOnly {
		scope = "active"
	}
	key := cache.Key(ctx, plansCachePrefix, scope)
	return cache.GetOrLoad(ctx, s.cache, key, s.ttl, func(ctx context.Context) ([]*Plan, error) {
		return s.plans.List(ctx, activeOnly)
	})
}

func (s *Service) UpdatePlan(ctx context.Context, upd *Plan) (*Plan, error) {
	p, err := s.plans.GetByID(ctx, upd.ID)
	if err != nil {
		return nil, err
	}
	p.Name, p.ANSCode, p.ProviderCode = upd.Name, upd.ANSCode, upd.ProviderCode
	p.TISSVersion, p.PriceTable, p.Active = upd.TISSVersion, upd.PriceTable, upd.Active
	if err := s.validatePlan(p); err != nil {
		return nil, err
	}
	if err := s.plans.Update(ctx, p); err != nil {
		return nil, err
	}
	s.invalidatePlans(ctx)
	return p, nil
}

// -- Guides --

func (s *Service) CreateGuide(ctx context.Context, g *Guide) error {
	if g.PatientID == uuid.Nil {
		return apperr.Invalid("patient_id is required")
	}
	if g.Kind == "" {
		g.Kind = KindSPSADT
	}
	if g.Kind != KindSPSADT && g.Kind != KindConsulta {
		return apperr.Invalid("invalid kind: %s", g.Kind)
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		plan, err := s.plans.GetByID(ctx, g.PlanID)
		if err != nil {
			return err
		}
		if !plan.Active {
			return apperr.Conflict("plan %s is inactive", plan.Name)
		}
		if g.GuideNumber, err = s.plans.NextGuideNumber(ctx, plan.ID); err != nil {
			return err
		}
		g.Status = StatusDraft
		g.TotalCents, g.GlosaCents, g.PaidCents = 0, 0, 0
		g.DenialReason, g.BatchID, g.Items = nil, nil, nil
		return s.guides.Create(ctx, g)
	})
}

func (s *Service) GetGuide(ctx context.Context, id uuid.UUID) (*Guide, error) {
	g, err := s.guides.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Items, err = s.guides.ListItems(ctx, id); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Service) ListGuides(ctx context.Context, f GuideFilter, limit, offset int) ([]*Guide, int, error) {
	if f.Status != "" && !validStatus(f.Status) {
		return nil, 0, apperr.Invalid("invalid status: %s", f.Status)
	}
	return s.guides.List(ctx, f, limit, offset)
}

// UpdateGuide edits the beneficiary and authorization data of a draft.
func (s *Service) UpdateGuide(ctx context.Context, upd *Guide) (*Guide, error) {
	return s.updateGuide(ctx, upd.ID, false, func(ctx context.Context, g *Guide) error {
		if g.Status != StatusDraft {
			return apperr.Conflict("guide is %s", g.Status)
		}
		g.CardNumber, g.AuthorizationNumber = upd.CardNumber, upd.AuthorizationNumber
		g.RequestingProfessionalID = upd.RequestingProfessionalID
		return nil
	})
}

// updateGuide loads the guide under a row lock, applies change and saves it
// in one transaction.
func (s *Service) updateGuide(ctx context.Context, id uuid.UUID, withItems bool, change func(ctx context.Context, g *Guide) error) (*Guide, error) {
	var out *Guide
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		g, err := s.guides.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if withItems {
			if g.Items, err = s.guides.ListItems(ctx, id); err != nil {
				return err
			}
		}
		if err := change(ctx, g); err != nil {
			return err
		}
		if err := s.guides.Update(ctx, g); err != nil {
			return err
		}
		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddItem appends a procedure to a draft guide. The unit price comes from
// the plan's table, then the catalog default, unless one is given.
func (s *Service) AddItem(ctx context.Context, guideID uuid.UUID, item *GuideItem) (*Guide, error) {
	proc, ok := s.catalog.Procedure(item.TUSSCode)
	if !ok {
		return nil, apperr.Invalid("unknown TUSS code: %s", item.TUSSCode)
	}
	if item.Quantity == 0 {
		item.Quantity = 1
	}
	if item.Quantity < 0 {
		return nil, apperr.Invalid("quantity must be positive")
	}
	if item.UnitCents < 0 {
		return nil, apperr.Invalid("unit_cents cannot be negative")
	}
	if strings.TrimSpace(item.Description) == "" {
		item.Description = proc.Description
	}
	if item.PerformedAt.IsZero() {
		item.PerformedAt = s.now()
	}
	y, m, d := item.PerformedAt.Date()
	item.PerformedAt = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	return s.updateGuide(ctx, guideID, true, func(ctx context.Context, g *Guide) error {
		if g.Status != StatusDraft {
			return apperr.Conflict("guide is %s", g.Status)
		}
		if g.Kind == KindConsulta && len(g.Items) > 0 {
			return apperr.Conflict("a consulta guide holds a single procedure")
		}
		if item.UnitCents == 0 {
			plan, err := s.plans.GetByID(ctx, g.PlanID)
			if err != nil {
				return err
			}
			if price, ok := plan.PriceTable[item.TUSSCode]; ok {
				item.UnitCents = price
			} else {
				item.UnitCents = proc.PriceCents
			}
		}
		item.GuideID = g.ID
		if err := s.guides.AddItem(ctx, item); err != nil {
			return err
		}
		g.Items = append(g.Items, item)
		g.TotalCents += item.Total()
		return nil
	})
}

// MarkReady closes a draft for batching.
func (s *Service) MarkReady(ctx context.Context, id uuid.UUID) (*Guide, error) {
	return s.updateGuide(ctx, id, true, func(_ context.Context, g *Guide) error {
		if g.Status != StatusDraft {
			return apperr.Conflict("guide is %s", g.Status)
		}
		if len(g.Items) == 0 {
			return apperr.Invalid("guide has no procedures")
		}
		if g.CardNumber == nil || strings.TrimSpace(*g.CardNumber) == "" {
			return apperr.Invalid("card_number is required")
		}
		g.Status = StatusReady
		return nil
	})
}

// -- Batches --

// CreateBatch submits the oldest ready guides of a plan, up to
// MaxBatchGuides, as one lote.
func (s *Service) CreateBatch(ctx context.Context, planID uuid.UUID) (*Batch, error) {
	var out *Batch
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		plan, err := s.plans.GetByID(ctx, planID)
		if err != nil {
			return err
		}
		guides, err := s.guides.ListReady(ctx, planID, MaxBatchGuides)
		if err != nil {
			return err
		}
		if len(guides) == 0 {
			return apperr.Invalid("plan %s has no ready guides", plan.Name)
		}
		b := &Batch{ID: uuid.New(), PlanID: plan.ID, GuideCount: len(guides)}
		for _, g := range guides {
			if g.Items, err = s.guides.ListItems(ctx, g.ID); err != nil {
				return err
			}
			b.TotalCents += g.TotalCents
			b.GuideIDs = append(b.GuideIDs, g.ID)
		}
		if b.Sequence, err = s.plans.NextBatchNumber(ctx, plan.ID); err != nil {
			return err
		}
		doc, hash, err := BuildBatchXML(plan, b.Sequence, guides, s.now())
		if err != nil {
			return err
		}
		b.XML, b.Hash = string(doc), hash
		if err := s.batches.Create(ctx, b); err != nil {
			return err
		}
		if err := s.guides.AssignBatch(ctx, b.GuideIDs, b.ID); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("plan_id", planID.String()).Int64("sequence", out.Sequence).
		Int("guides", out.GuideCount).Msg("tiss batch created")
	return out, nil
}

func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	return s.batches.GetByID(ctx, id)
}

func (s *Service) ListBatches(ctx context.Context, planID uuid.UUID, limit, offset int) ([]*Batch, int, error) {
	return s.batches.List(ctx, planID, limit, offset)
}

func (s *Service) GetBatchXML(ctx context.Context, id uuid.UUID) ([]byte, error) {
	b, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return []byte(b.XML), nil
}

// RegisterResponse records the operator's decision on a submitted guide.
func (s *Service) RegisterResponse(ctx context.Context, id uuid.UUID, resp Response) (*Guide, error) {
	return s.updateGuide(ctx, id, false, func(_ context.Context, g *Guide) error {
		if g.Status != StatusSubmitted {
			return apperr.Conflict("guide is %s", g.Status)
		}
		if !resp.Authorized {
			reason := strings.TrimSpace(resp.DenialReason)
			if reason == "" {
				return apperr.Invalid("denial_reason is required")
			}
			g.Status = StatusDenied
			g.DenialReason = &reason
			return nil
		}
		if resp.GlosaCents < 0 || resp.GlosaCents > g.TotalCents {
			return apperr.Invalid("glosa_cents must be between 0 and %d", g.TotalCents)
		}
		g.Status = StatusAuthorized
		g.GlosaCents = resp.GlosaCents
		if resp.AuthorizationNumber != nil {
			g.AuthorizationNumber = resp.AuthorizationNumber
		}
		return nil
	})
}

// RegisterPayment settles an authorized guide. A zero amount means the
// full payable value.
func (s *Service) RegisterPayment(ctx context.Context, id uuid.UUID, amountCents int64) (*Guide, error) {
	return s.updateGuide(ctx, id, false, func(_ context.Context, g *Guide) error {
		if g.Status != StatusAuthorized {
			return apperr.Conflict("only authorized guides can be paid, guide is %s", g.Status)
		}
		if amountCents == 0 {
			amountCents = g.Payable()
		}
		if amountCents < 0 || amountCents > g.Payable() {
			return apperr.Invalid("amount_cents must be between 0 and %d", g.Payable())
		}
		g.Status = StatusPaid
		g.PaidCents = amountCents
		return nil
	})
}
