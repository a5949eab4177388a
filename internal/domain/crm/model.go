package crm

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusNew       = "new"
	StatusContacted = "contacted"
	StatusQualified = "qualified"
	StatusConverted = "converted"
	StatusLost      = "lost"
)

var Statuses = []string{StatusNew, StatusContacted, StatusQualified, StatusConverted, StatusLost}

var validSources = map[string]bool{
	"referral": true, "instagram": true, "google": true, "website": true,
	"walk_in": true, "facebook": true, "other": true,
}

var funnel = map[string][]string{
	StatusNew:       {StatusContacted, StatusLost},
	StatusContacted: {StatusQualified, StatusLost},
	StatusQualified: {StatusConverted, StatusLost},
}

func CanAdvance(from, to string) bool {
	for _, s := range funnel[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Lead is a prospective patient moving through the sales funnel.
type Lead struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	Name               string     `db:"name" json:"name"`
	Phone              *string    `db:"phone" json:"phone,omitempty"`
	PhoneKey           *string    `db:"phone_key" json:"-"`
	Email              *string    `db:"email" json:"email,omitempty"`
	EmailKey           *string    `db:"email_key" json:"-"`
	Source             string     `db:"source" json:"source"`
	BudgetCents        int64      `db:"budget_cents" json:"budget_cents"`
	Interest           *string    `db:"interest" json:"interest,omitempty"`
	Status             string     `db:"status" json:"status"`
	Score              int        `db:"score" json:"score"`
	LastContactAt      *time.Time `db:"last_contact_at" json:"last_contact_at,omitempty"`
	LostReason         *string    `db:"lost_reason" json:"lost_reason,omitempty"`
	ConvertedPatientID *uuid.UUID `db:"converted_patient_id" json:"converted_patient_id,omitempty"`
	Notes              *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

func (l *Lead) Open() bool {
	return l.Status != StatusConverted && l.Status != StatusLost
}

type ListFilter struct {
	Status   string
	Source   string
	MinScore int
}

type FunnelReport struct {
	From           time.Time      `json:"from"`
	To             time.Time      `json:"to"`
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
	ConversionRate float64        `json:"conversion_rate"`
	LossRate       float64        `json:"loss_rate"`
}
