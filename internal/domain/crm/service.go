package crm

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fisioclinic/clinic/internal/domain/patient"
	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/db"
	"github.com/fisioclinic/clinic/pkg/textnorm"
)

// PatientCreator is the part of the patient service conversion needs.
type PatientCreator interface {
	Create(ctx context.Context, p *patient.Patient) error
}

type Service struct {
	leads    LeadRepository
	patients PatientCreator
	scorer   *Scorer
	tx       db.Transactor
	now      func() time.Time
}

func NewService(leads LeadRepository, patients PatientCreator, scorer *Scorer, tx db.Transactor) *Service {
	return &Service{leads: leads, patients: patients, scorer: scorer, tx: tx, now: time.Now}
}

// normalize validates contact data and fills the dedupe keys.
func (s *Service) normalize(l *Lead) error {
	l.Name = strings.Join(strings.Fields(l.Name), " ")
	if l.Name == "" {
		return apperr.Invalid("name is required")
	}
	l.PhoneKey, l.EmailKey = nil, nil
	if l.Phone != nil && strings.TrimSpace(*l.Phone) != "" {
		key := textnorm.Phone(*l.Phone)
		if len(key) < 8 {
			return apperr.Invalid("invalid phone")
		}
		l.PhoneKey = &key
	} else {
		l.Phone = nil
	}
	if l.Email != nil && strings.TrimSpace(*l.Email) != "" {
		key := textnorm.Email(*l.Email)
		if _, err := mail.ParseAddress(key); err != nil {
			return apperr.Invalid("invalid email")
		}
		l.EmailKey = &key
	} else {
		l.Email = nil
	}
	if l.PhoneKey == nil && l.EmailKey == nil {
		return apperr.Invalid("phone or email is required")
	}
	if l.Source == "" {
		l.Source = "other"
	}
	if !validSources[l.Source] {
		return apperr.Invalid("invalid source: %s", l.Source)
	}
	if l.BudgetCents < 0 {
		return apperr.Invalid("budget_cents cannot be negative")
	}
	return nil
}

func (s *Service) checkDuplicate(ctx context.Context, l *Lead) error {
	dup, err := s.leads.FindOpenDuplicate(ctx, l.PhoneKey, l.EmailKey, l.ID)
	if err == nil {
		return apperr.Conflict("an open lead with the same contact exists: %s", dup.ID)
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) Create(ctx context.Context, l *Lead) error {
	if err := s.normalize(l); err != nil {
		return err
	}
	if err := s.checkDuplicate(ctx, l); err != nil {
		return err
	}
	now := s.now()
	l.Status = StatusNew
	l.CreatedAt = now
	l.LastContactAt, l.LostReason, l.ConvertedPatientID = nil, nil, nil
	l.Score = s.scorer.Score(l, now)
	return s.leads.Create(ctx, l)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Lead, error) {
	return s.leads.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Lead, int, error) {
	if f.Status != "" && !validStatus(f.Status) {
		return nil, 0, apperr.Invalid("invalid status: %s", f.Status)
	}
	if f.Source != "" && !validSources[f.Source] {
		return nil, 0, apperr.Invalid("invalid source: %s", f.Source)
	}
	if f.MinScore < 0 || f.MinScore > 100 {
		return nil, 0, apperr.Invalid("min_score must be between 0 and 100")
	}
	return s.leads.List(ctx, f, limit, offset)
}

// Update replaces the editable fields of an open lead and rescores it.
func (s *Service) Update(ctx context.Context, upd *Lead) (*Lead, error) {
	l, err := s.leads.GetByID(ctx, upd.ID)
	if err != nil {
		return nil, err
	}
	if !l.Open() {
		return nil, apperr.Conflict("lead is %s", l.Status)
	}
	l.Name, l.Phone, l.Email = upd.Name, upd.Phone, upd.Email
	l.Source, l.BudgetCents, l.Interest, l.Notes = upd.Source, upd.BudgetCents, upd.Interest, upd.Notes
	if err := s.normalize(l); err != nil {
		return nil, err
	}
	if err := s.checkDuplicate(ctx, l); err != nil {
		return nil, err
	}
	l.Score = s.scorer.Score(l, s.now())
	if err := s.leads.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// RecordContact stamps a contact attempt. New leads become contacted.
func (s *Service) RecordContact(ctx context.Context, id uuid.UUID) (*Lead, error) {
	l, err := s.leads.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !l.Open() {
		return nil, apperr.Conflict("lead is %s", l.Status)
	}
	now := s.now()
	l.LastContactAt = &now
	if l.Status == StatusNew {
		l.Status = StatusContacted
	}
	l.Score = s.scorer.Score(l, now)
	if err := s.leads.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Advance moves the lead along the funnel. Conversion goes through Convert.
func (s *Service) Advance(ctx context.Context, id uuid.UUID, to, reason string) (*Lead, error) {
	if to == StatusConverted {
		return nil, apperr.Invalid("use convert to turn a lead into a patient")
	}
	if !validStatus(to) {
		return nil, apperr.Invalid("invalid status: %s", to)
	}
	reason = strings.TrimSpace(reason)
	if to == StatusLost && reason == "" {
		return nil, apperr.Invalid("lost_reason is required")
	}
	l, err := s.leads.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanAdvance(l.Status, to) {
		return nil, apperr.Conflict("cannot move lead from %s to %s", l.Status, to)
	}
	l.Status = to
	if to == StatusLost {
		l.LostReason = &reason
	}
	l.Score = s.scorer.Score(l, s.now())
	if err := s.leads.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Convert registers a qualified lead as a patient.
func (s *Service) Convert(ctx context.Context, id uuid.UUID) (*Lead, *patient.Patient, error) {
	var (
		l *Lead
		p *patient.Patient
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if l, err = s.leads.GetByID(ctx, id); err != nil {
			return err
		}
		if l.Status != StatusQualified {
			return apperr.Conflict("only qualified leads can be converted, lead is %s", l.Status)
		}
		source := l.Source
		p = &patient.Patient{
			FullName:       l.Name,
			Phone:          l.Phone,
			Email:          l.Email,
			ReferralSource: &source,
			Notes:          l.Notes,
		}
		if err := s.patients.Create(ctx, p); err != nil {
			return err
		}
		l.Status = StatusConverted
		l.ConvertedPatientID = &p.ID
		l.Score = s.scorer.Score(l, s.now())
		return s.leads.Update(ctx, l)
	})
	if err != nil {
		return nil, nil, err
	}
	return l, p, nil
}

// Funnel counts leads created in [from, to) per stage.
func (s *Service) Funnel(ctx context.Context, from, to time.Time) (*FunnelReport, error) {
	if !from.Before(to) {
		return nil, apperr.Invalid("from must be before to")
	}
	counts, err := s.leads.CountByStatus(ctx, from, to)
	if err != nil {
		return nil, err
	}
	r := &FunnelReport{From: from, To: to, ByStatus: make(map[string]int, len(Statuses))}
	for _, st := range Statuses {
		r.ByStatus[st] = counts[st]
		r.Total += counts[st]
	}
	if r.Total > 0 {
		r.ConversionRate = float64(r.ByStatus[StatusConverted]) / float64(r.Total)
		r.LossRate = float64(r.ByStatus[StatusLost]) / float64(r.Total)
	}
	return r, nil
}

// RescoreAll recomputes the score of every open lead, since recency decays
// with time. It returns how many scores changed.
func (s *Service) RescoreAll(ctx context.Context) (int, error) {
	leads, err := s.leads.ListOpen(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	changed := 0
	for _, l := range leads {
		score := s.scorer.Score(l, now)
		if score == l.Score {
			continue
		}
		if err := s.leads.UpdateScore(ctx, l.ID, score); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

func validStatus(st string) bool {
	for _, s := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}
