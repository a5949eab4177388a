package billing

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending       = "pending"
	StatusPartiallyPaid = "partially_paid"
	StatusPaid          = "paid"
	StatusOverdue       = "overdue"
	StatusCancelled     = "cancelled"
)

const MaxInstallments = 24

var validMethods = map[string]bool{
	"pix": true, "cash": true, "credit_card": true, "debit_card": true,
	"bank_transfer": true, "insurance": true,
}

var validCategories = map[string]bool{
	"rent": true, "payroll": true, "supplies": true, "equipment": true,
	"taxes": true, "marketing": true, "other": true,
}

func ValidMethod(m string) bool { return validMethods[m] }

// Receivable is money a patient owes the clinic. Amounts are in cents.
type Receivable struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	AppointmentID     *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	Description       string     `db:"description" json:"description"`
	AmountCents       int64      `db:"amount_cents" json:"amount_cents"`
	PaidCents         int64      `db:"paid_cents" json:"paid_cents"`
	DueDate           time.Time  `db:"due_date" json:"due_date"`
	Status            string     `db:"status" json:"status"`
	InstallmentNumber int        `db:"installment_number" json:"installment_number"`
	InstallmentTotal  int        `db:"installment_total" json:"installment_total"`
	GroupID           *uuid.UUID `db:"group_id" json:"group_id,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`

	Payments []*Payment `db:"-" json:"payments,omitempty"`
}

func (r *Receivable) Outstanding() int64 { return r.AmountCents - r.PaidCents }

// Open is true while the receivable still expects payments.
func (r *Receivable) Open() bool {
	switch r.Status {
	case StatusPending, StatusPartiallyPaid, StatusOverdue:
		return true
	}
	return false
}

type Payment struct {
	ID           uuid.UUID `db:"id" json:"id"`
	ReceivableID uuid.UUID `db:"receivable_id" json:"receivable_id"`
	AmountCents  int64     `db:"amount_cents" json:"amount_cents"`
	Method       string    `db:"method" json:"method"`
	PaidAt       time.Time `db:"paid_at" json:"paid_at"`
	Notes        *string   `db:"notes" json:"notes,omitempty"`
}

// Payable is money the clinic owes a supplier.
type Payable struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Supplier    string     `db:"supplier" json:"supplier"`
	Category    string     `db:"category" json:"category"`
	Description string     `db:"description" json:"description"`
	AmountCents int64      `db:"amount_cents" json:"amount_cents"`
	DueDate     time.Time  `db:"due_date" json:"due_date"`
	Status      string     `db:"status" json:"status"`
	PaidAt      *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	Method      *string    `db:"method" json:"method,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

type ReceivableFilter struct {
	Status    string
	PatientID *uuid.UUID
	DueFrom   *time.Time
	DueTo     *time.Time
}

type PayableFilter struct {
	Status   string
	Category string
	DueFrom  *time.Time
	DueTo    *time.Time
}

// AppointmentCharge describes the receivable raised when a session completes.
type AppointmentCharge struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	AmountCents   int64
	Description   string
	DueDate       time.Time
}

type CashFlow struct {
	From                 time.Time `json:"from"`
	To                   time.Time `json:"to"`
	InflowCents          int64     `json:"inflow_cents"`
	OutflowCents         int64     `json:"outflow_cents"`
	NetCents             int64     `json:"net_cents"`
	OpenReceivablesCents int64     `json:"open_receivables_cents"`
	OpenPayablesCents    int64     `json:"open_payables_cents"`
}

// OverdueResult reports what a sweep changed.
type OverdueResult struct {
	Receivables []*Receivable `json:"receivables"`
	Payables    int64         `json:"payables"`
}

// truncateDate drops the clock part, keeping the calendar date in t's zone.
func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
