package tiss

import (
	"time"

	"github.com/google/uuid"
)

const DefaultVersion = "4.01.00"

// MaxBatchGuides is the most guides one batch (lote) may carry.
const MaxBatchGuides = 100

const (
	KindSPSADT   = "sp_sadt"
	KindConsulta = "consulta"
)

const (
	StatusDraft      = "draft"
	StatusReady      = "ready"
	StatusSubmitted  = "submitted"
	StatusAuthorized = "authorized"
	StatusDenied     = "denied"
	StatusPaid       = "paid"
)

func validStatus(s string) bool {
	switch s {
	case StatusDraft, StatusReady, StatusSubmitted, StatusAuthorized, StatusDenied, StatusPaid:
		return true
	}
	return false
}

// Plan is an insurance operator the clinic bills. PriceTable maps TUSS codes
// to the negotiated price in cents.
type Plan struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	Name            string           `db:"name" json:"name"`
	ANSCode         string           `db:"ans_code" json:"ans_code"`
	TISSVersion     string           `db:"tiss_version" json:"tiss_version"`
	ProviderCode    string           `db:"provider_code" json:"provider_code"`
	PriceTable      map[string]int64 `db:"price_table" json:"price_table"`
	Active          bool             `db:"active" json:"active"`
	NextGuideNumber int64            `db:"next_guide_number" json:"-"`
	NextBatchNumber int64            `db:"next_batch_number" json:"-"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

type Guide struct {
	ID                       uuid.UUID    `db:"id" json:"id"`
	PlanID                   uuid.UUID    `db:"plan_id" json:"plan_id"`
	PatientID                uuid.UUID    `db:"patient_id" json:"patient_id"`
	Kind                     string       `db:"kind" json:"kind"`
	GuideNumber              int64        `db:"guide_number" json:"guide_number"`
	CardNumber               *string      `db:"card_number" json:"card_number,omitempty"`
	AuthorizationNumber      *string      `db:"authorization_number" json:"authorization_number,omitempty"`
	RequestingProfessionalID *uuid.UUID   `db:"requesting_professional_id" json:"requesting_professional_id,omitempty"`
	Status                   string       `db:"status" json:"status"`
	TotalCents               int64        `db:"total_cents" json:"total_cents"`
	GlosaCents               int64        `db:"glosa_cents" json:"glosa_cents"`
	PaidCents                int64        `db:"paid_cents" json:"paid_cents"`
	DenialReason             *string      `db:"denial_reason" json:"denial_reason,omitempty"`
	BatchID                  *uuid.UUID   `db:"batch_id" json:"batch_id,omitempty"`
	Items                    []*GuideItem `json:"items,omitempty"`
	CreatedAt                time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time    `db:"updated_at" json:"updated_at"`
}

// Payable is what the operator owes once glosas are deducted.
func (g *Guide) Payable() int64 { return g.TotalCents - g.GlosaCents }

type GuideItem struct {
	ID          uuid.UUID `db:"id" json:"id"`
	GuideID     uuid.UUID `db:"guide_id" json:"guide_id"`
	TUSSCode    string    `db:"tuss_code" json:"tuss_code"`
	Description string    `db:"description" json:"description"`
	Quantity    int       `db:"quantity" json:"quantity"`
	UnitCents   int64     `db:"unit_cents" json:"unit_cents"`
	PerformedAt time.Time `db:"performed_at" json:"performed_at"`
}

func (i *GuideItem) Total() int64 { return int64(i.Quantity) * i.UnitCents }

// Batch is one submitted lote and the XML sent for it.
type Batch struct {
	ID         uuid.UUID   `db:"id" json:"id"`
	PlanID     uuid.UUID   `db:"plan_id" json:"plan_id"`
	Sequence   int64       `db:"sequence" json:"sequence"`
	GuideCount int         `db:"guide_count" json:"guide_count"`
	TotalCents int64       `db:"total_cents" json:"total_cents"`
	XML        string      `db:"xml" json:"-"`
	Hash       string      `db:"hash" json:"hash"`
	GuideIDs   []uuid.UUID `json:"guide_ids,omitempty"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

type GuideFilter struct {
	PlanID    *uuid.UUID
	PatientID *uuid.UUID
	Status    string
}

// Response is the operator's answer to a submitted guide.
type Response struct {
	Authorized          bool    `json:"authorized"`
	AuthorizationNumber *string `json:"authorization_number"`
	GlosaCents          int64   `json:"glosa_cents"`
	DenialReason        string  `json:"denial_reason"`
}
