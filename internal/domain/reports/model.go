package reports

import (
	"time"

	"github.com/google/uuid"
)

// Dashboard is the clinic overview for a period.
type Dashboard struct {
	From                 time.Time      `json:"from"`
	To                   time.Time      `json:"to"`
	RevenueCents         int64          `json:"revenue_cents"`
	OpenReceivablesCount int            `json:"open_receivables_count"`
	OpenReceivablesCents int64          `json:"open_receivables_cents"`
	PayablesDueCents     int64          `json:"payables_due_cents"`
	AppointmentsByStatus map[string]int `json:"appointments_by_status"`
	AttendanceRate       *float64       `json:"attendance_rate"`
	NewPatients          int            `json:"new_patients"`
	LeadsByStatus        map[string]int `json:"leads_by_status"`
	LeadConversionRate   float64        `json:"lead_conversion_rate"`
	NPS                  *int           `json:"nps"`
	NPSAnswered          int            `json:"nps_answered"`
	GeneratedAt          time.Time      `json:"generated_at"`
}

type MonthRevenue struct {
	Month         int   `json:"month"`
	ReceivedCents int64 `json:"received_cents"`
	PaidOutCents  int64 `json:"paid_out_cents"`
	NetCents      int64 `json:"net_cents"`
}

type YearRevenue struct {
	Year          int            `json:"year"`
	Months        []MonthRevenue `json:"months"`
	ReceivedCents int64          `json:"received_cents"`
	PaidOutCents  int64          `json:"paid_out_cents"`
	NetCents      int64          `json:"net_cents"`
}

type ProfessionalStats struct {
	ProfessionalID uuid.UUID `json:"professional_id"`
	Name           string    `json:"name"`
	Appointments   int       `json:"appointments"`
	Completed      int       `json:"completed"`
	NoShows        int       `json:"no_shows"`
	Cancelled      int       `json:"cancelled"`
	RevenueCents   int64     `json:"revenue_cents"`
	AttendanceRate *float64  `json:"attendance_rate"`
}

type Bucket struct {
	Count int   `json:"count"`
	Cents int64 `json:"cents"`
}

// Aging buckets open receivables by days past due.
type Aging struct {
	AsOf       time.Time `json:"as_of"`
	Current    Bucket    `json:"current"`
	Days1To30  Bucket    `json:"days_1_30"`
	Days31To60 Bucket    `json:"days_31_60"`
	Days61To90 Bucket    `json:"days_61_90"`
	Over90     Bucket    `json:"over_90"`
	Total      Bucket    `json:"total"`
}

// Aging bucket keys as returned by the repository.
const (
	BucketCurrent = "current"
	Bucket1To30   = "1_30"
	Bucket31To60  = "31_60"
	Bucket61To90  = "61_90"
	BucketOver90  = "over_90"
)

// attendanceRate is completed / (completed + no-shows), nil when neither happened.
func attendanceRate(completed, noShows int) *float64 {
	if completed+noShows == 0 {
		return nil
	}
	r := float64(completed) / float64(completed+noShows)
	return &r
}
