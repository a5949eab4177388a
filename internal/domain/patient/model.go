package patient

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive     = "active"
	StatusInactive   = "inactive"
	StatusDischarged = "discharged"
)

type Patient struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	FullName        string     `db:"full_name" json:"full_name"`
	SearchName      string     `db:"search_name" json:"-"`
	CPF             *string    `db:"cpf" json:"cpf,omitempty"`
	BirthDate       *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Gender          *string    `db:"gender" json:"gender,omitempty"`
	Phone           *string    `db:"phone" json:"phone,omitempty"`
	Email           *string    `db:"email" json:"email,omitempty"`
	Address         *string    `db:"address" json:"address,omitempty"`
	InsurancePlanID *uuid.UUID `db:"insurance_plan_id" json:"insurance_plan_id,omitempty"`
	InsuranceCard   *string    `db:"insurance_card" json:"insurance_card,omitempty"`
	Status          string     `db:"status" json:"status"`
	ReferralSource  *string    `db:"referral_source" json:"referral_source,omitempty"`
	Notes           *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Anamnesis is the intake assessment. A patient has at most one.
type Anamnesis struct {
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	ChiefComplaint string    `db:"chief_complaint" json:"chief_complaint"`
	History        *string   `db:"history" json:"history,omitempty"`
	Medications    *string   `db:"medications" json:"medications,omitempty"`
	PainScale      *int      `db:"pain_scale" json:"pain_scale,omitempty"`
	Goals          *string   `db:"goals" json:"goals,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Evolution is the note written after a session. Signed notes are frozen.
type Evolution struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	AppointmentID  *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	ProfessionalID uuid.UUID  `db:"professional_id" json:"professional_id"`
	PainScale      *int       `db:"pain_scale" json:"pain_scale,omitempty"`
	Content        string     `db:"content" json:"content"`
	Procedures     []string   `db:"procedures" json:"procedures"`
	SignedAt       *time.Time `db:"signed_at" json:"signed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

func (e *Evolution) Signed() bool { return e.SignedAt != nil }

// SearchFilter narrows Search. Q matches the folded name, or CPF and phone
// digits when it is numeric.
type SearchFilter struct {
	Q      string
	Status string
}

// ValidCPF checks length and both check digits of an 11-digit CPF. Sequences
// of one repeated digit pass the arithmetic but are not issued, so they fail.
func ValidCPF(cpf string) bool {
	if len(cpf) != 11 {
		return false
	}
	allSame := true
	for i := 0; i < 11; i++ {
		if cpf[i] < '0' || cpf[i] > '9' {
			return false
		}
		if cpf[i] != cpf[0] {
			allSame = false
		}
	}
	if allSame {
		return false
	}
	return cpfDigit(cpf[:9], 10) == int(cpf[9]-'0') && cpfDigit(cpf[:10], 11) == int(cpf[10]-'0')
}

func cpfDigit(digits string, weight int) int {
	sum := 0
	for i := 0; i < len(digits); i++ {
		sum += int(digits[i]-'0') * (weight - i)
	}
	rest := (sum * 10) % 11
	if rest == 10 {
		return 0
	}
	return rest
}
