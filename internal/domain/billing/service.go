package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/db"
)

type Service struct {
	receivables ReceivableRepository
	payments    PaymentRepository
	payables    PayableRepository
	tx          db.Transactor
	loc         *time.Location
	now         func() time.Time
}

func NewService(r ReceivableRepository, p PaymentRepository, pay PayableRepository, tx db.Transactor) *Service {
	return &Service{receivables: r, payments: p, payables: pay, tx: tx, loc: time.UTC, now: time.Now}
}

// SetLocation sets the clinic timezone that decides which calendar day "today"
// is for due dates.
func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

// -- Receivables --

func validateReceivable(r *Receivable) error {
	if r.PatientID == uuid.Nil {
		return apperr.Invalid("patient_id is required")
	}
	r.Description = strings.TrimSpace(r.Description)
	if r.Description == "" {
		return apperr.Invalid("description is required")
	}
	if r.AmountCents <= 0 {
		return apperr.Invalid("amount_cents must be positive")
	}
	if r.DueDate.IsZero() {
		return apperr.Invalid("due_date is required")
	}
	return nil
}

func (s *Service) CreateReceivable(ctx context.Context, r *Receivable) error {
	if err := validateReceivable(r); err != nil {
		return err
	}
	r.DueDate = truncateDate(r.DueDate)
	r.Status = StatusPending
	r.PaidCents = 0
	r.InstallmentNumber, r.InstallmentTotal = 1, 1
	r.GroupID = nil
	return s.receivables.Create(ctx, r)
}

// CreateForAppointment raises the receivable of a completed session. It is
// idempotent per appointment and a no-op for free sessions.
func (s *Service) CreateForAppointment(ctx context.Context, ch AppointmentCharge) (*Receivable, error) {
	if ch.AmountCents <= 0 {
		return nil, nil
	}
	if existing, err := s.receivables.GetByAppointment(ctx, ch.AppointmentID); err == nil {
		return existing, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	due := ch.DueDate
	if due.IsZero() {
		due = s.now().In(s.loc)
	}
	desc := ch.Description
	if desc == "" {
		desc = "Physiotherapy session"
	}
	appointmentID := ch.AppointmentID
	r := &Receivable{
		PatientID:     ch.PatientID,
		AppointmentID: &appointmentID,
		Description:   desc,
		AmountCents:   ch.AmountCents,
		DueDate:       due,
	}
	if err := s.CreateReceivable(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// CreateInstallments splits base.AmountCents over n monthly receivables
// starting at base.DueDate. Remainder cents go on the first installment.
func (s *Service) CreateInstallments(ctx context.Context, base *Receivable, n int) ([]*Receivable, error) {
	if n < 1 || n > MaxInstallments {
		return nil, apperr.Invalid("installments must be between 1 and %d", MaxInstallments)
	}
	if err := validateReceivable(base); err != nil {
		return nil, err
	}
	if base.AmountCents < int64(n) {
		return nil, apperr.Invalid("amount_cents too small for %d installments", n)
	}

	share := base.AmountCents / int64(n)
	remainder := base.AmountCents % int64(n)
	groupID := uuid.New()
	first := truncateDate(base.DueDate)

	out := make([]*Receivable, 0, n)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		for i := 0; i < n; i++ {
			amount := share
			if i == 0 {
				amount += remainder
			}
			r := &Receivable{
				PatientID:         base.PatientID,
				AppointmentID:     base.AppointmentID,
				Description:       fmt.Sprintf("%s (%d/%d)", base.Description, i+1, n),
				AmountCents:       amount,
				DueDate:           addMonths(first, i),
				Status:            StatusPending,
				InstallmentNumber: i + 1,
				InstallmentTotal:  n,
				GroupID:           &groupID,
			}
			if i > 0 {
				r.AppointmentID = nil
			}
			if err := s.receivables.Create(ctx, r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// addMonths moves d forward by n months, clamping to the last day of the
// target month so Jan 31 + 1 month is Feb 28/29.
func addMonths(d time.Time, n int) time.Time {
	y, m, day := d.Date()
	firstOfTarget := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, d.Location())
	last := firstOfTarget.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, 0, 0, 0, 0, d.Location())
}

func (s *Service) GetReceivable(ctx context.Context, id uuid.UUID) (*Receivable, error) {
	r, err := s.receivables.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Payments, err = s.payments.ListByReceivable(ctx, id); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) ListReceivables(ctx context.Context, f ReceivableFilter, limit, offset int) ([]*Receivable, int, error) {
	switch f.Status {
	case "", StatusPending, StatusPartiallyPaid, StatusPaid, StatusOverdue, StatusCancelled:
	default:
		return nil, 0, apperr.Invalid("invalid status: %s", f.Status)
	}
	return s.receivables.List(ctx, f, limit, offset)
}

// RegisterPayment records p against the receivable and updates its balance.
func (s *Service) RegisterPayment(ctx context.Context, receivableID uuid.UUID, p *Payment) (*Receivable, error) {
	if p.AmountCents <= 0 {
		return nil, apperr.Invalid("amount_cents must be positive")
	}
	if !ValidMethod(p.Method) {
		return nil, apperr.Invalid("invalid payment method: %s", p.Method)
	}
	if p.PaidAt.IsZero() {
		p.PaidAt = s.now()
	}

	var out *Receivable
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		r, err := s.receivables.GetForUpdate(ctx, receivableID)
		if err != nil {
			return err
		}
		if !r.Open() {
			return apperr.Conflict("receivable is %s", r.Status)
		}
		if p.AmountCents > r.Outstanding() {
			return apperr.Invalid("payment of %d exceeds outstanding %d", p.AmountCents, r.Outstanding())
		}
		p.ReceivableID = r.ID
		if err := s.payments.Create(ctx, p); err != nil {
			return err
		}
		r.PaidCents += p.AmountCents
		if r.Outstanding() == 0 {
			r.Status = StatusPaid
		} else {
			r.Status = StatusPartiallyPaid
		}
		if err := s.receivables.Update(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) CancelReceivable(ctx context.Context, id uuid.UUID) (*Receivable, error) {
	var out *Receivable
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		r, err := s.receivables.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !r.Open() {
			return apperr.Conflict("receivable is %s", r.Status)
		}
		if r.PaidCents > 0 {
			return apperr.Conflict("receivable has payments")
		}
		r.Status = StatusCancelled
		if err := s.receivables.Update(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// -- Payables --

func (s *Service) CreatePayable(ctx context.Context, p *Payable) error {
	p.Supplier = strings.TrimSpace(p.Supplier)
	if p.Supplier == "" {
		return apperr.Invalid("supplier is required")
	}
	if p.Category == "" {
		p.Category = "other"
	}
	if !validCategories[p.Category] {
		return apperr.Invalid("invalid category: %s", p.Category)
	}
	p.Description = strings.TrimSpace(p.Description)
	if p.Description == "" {
		p.Description = p.Supplier
	}
	if p.AmountCents <= 0 {
		return apperr.Invalid("amount_cents must be positive")
	}
	if p.DueDate.IsZero() {
		return apperr.Invalid("due_date is required")
	}
	p.DueDate = truncateDate(p.DueDate)
	p.Status = StatusPending
	p.PaidAt, p.Method = nil, nil
	return s.payables.Create(ctx, p)
}

func (s *Service) GetPayable(ctx context.Context, id uuid.UUID) (*Payable, error) {
	return s.payables.GetByID(ctx, id)
}

func (s *Service) ListPayables(ctx context.Context, f PayableFilter, limit, offset int) ([]*Payable, int, error) {
	switch f.Status {
	case "", StatusPending, StatusPaid, StatusOverdue, StatusCancelled:
	default:
		return nil, 0, apperr.Invalid("invalid status: %s", f.Status)
	}
	if f.Category != "" && !validCategories[f.Category] {
		return nil, 0, apperr.Invalid("invalid category: %s", f.Category)
	}
	return s.payables.List(ctx, f, limit, offset)
}

func (s *Service) PayPayable(ctx context.Context, id uuid.UUID, method string, paidAt time.Time) (*Payable, error) {
	if !ValidMethod(method) {
		return nil, apperr.Invalid("invalid payment method: %s", method)
	}
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	return s.updatePayable(ctx, id, func(p *Payable) {
		p.Status = StatusPaid
		p.PaidAt = &paidAt
		p.Method = &method
	})
}

func (s *Service) CancelPayable(ctx context.Context, id uuid.UUID) (*Payable, error) {
	return s.updatePayable(ctx, id, func(p *Payable) { p.Status = StatusCancelled })
}

// updatePayable applies change to a still-open payable under a row lock.
func (s *Service) updatePayable(ctx context.Context, id uuid.UUID, change func(p *Payable)) (*Payable, error) {
	var out *Payable
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.payables.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusPending && p.Status != StatusOverdue {
			return apperr.Conflict("payable is %s", p.Status)
		}
		change(p)
		if err := s.payables.Update(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// -- Ledger-wide --

// MarkOverdue flags every open receivable and pending payable due before
// today's clinic date.
func (s *Service) MarkOverdue(ctx context.Context, today time.Time) (*OverdueResult, error) {
	today = truncateDate(today.In(s.loc))
	res := &OverdueResult{}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if res.Receivables, err = s.receivables.MarkOverdue(ctx, today); err != nil {
			return err
		}
		res.Payables, err = s.payables.MarkOverdue(ctx, today)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CashFlow sums money received and paid in [from, to) along with what is
// still open on both ledgers.
func (s *Service) CashFlow(ctx context.Context, from, to time.Time) (*CashFlow, error) {
	if !from.Before(to) {
		return nil, apperr.Invalid("from must be before to")
	}
	cf := &CashFlow{From: from, To: to}
	var err error
	if cf.InflowCents, err = s.payments.SumBetween(ctx, from, to); err != nil {
		return nil, err
	}
	if cf.OutflowCents, err = s.payables.PaidBetween(ctx, from, to); err != nil {
		return nil, err
	}
	if cf.OpenReceivablesCents, err = s.receivables.OpenTotal(ctx); err != nil {
		return nil, err
	}
	if cf.OpenPayablesCents, err = s.payables.OpenTotal(ctx); err != nil {
		return nil, err
	}
	cf.NetCents = cf.InflowCents - cf.OutflowCents
	return cf, nil
}
