package gamification

import (
	"time"

	"github.com/google/uuid"

	"github.com/fisioclinic/clinic/internal/platform/catalog"
)

const (
	KindAttendance  = "attendance"
	KindStreakBonus = "streak_bonus"
	KindEvaluation  = "evaluation"
	KindNPSResponse = "nps_response"
	KindReferral    = "referral"
	KindManual      = "manual"
)

// StreakBonusEvery is the streak length, in ISO weeks, that earns a bonus.
const StreakBonusEvery = 4

func ValidKind(k string) bool {
	switch k {
	case KindAttendance, KindStreakBonus, KindEvaluation, KindNPSResponse, KindReferral, KindManual:
		return true
	}
	return false
}

// PointEvent is one ledger entry. (PatientID, Kind, ReferenceID) is unique,
// which makes awarding idempotent.
type PointEvent struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	Kind        string    `db:"kind" json:"kind"`
	Points      int       `db:"points" json:"points"`
	ReferenceID string    `db:"reference_id" json:"reference_id"`
	Description *string   `db:"description" json:"description,omitempty"`
	OccurredAt  time.Time `db:"occurred_at" json:"occurred_at"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

type Badge struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var badgeNames = map[string]string{
	"first_session": "First session",
	"dedicated":     "Dedicated",
	"committed":     "Committed",
	"streak_4":      "Four-week streak",
	"ambassador":    "Ambassador",
	"voice":         "Voice of the clinic",
}

// Summary is the aggregate view of a patient's ledger.
type Summary struct {
	Total       int
	CountByKind map[string]int
}

type Profile struct {
	PatientID       uuid.UUID      `json:"patient_id"`
	TotalPoints     int            `json:"total_points"`
	Level           catalog.Level  `json:"level"`
	NextLevel       *catalog.Level `json:"next_level,omitempty"`
	PointsToNext    int            `json:"points_to_next"`
	ProgressPercent int            `json:"progress_percent"`
	Badges          []Badge        `json:"badges"`
	StreakWeeks     int            `json:"streak_weeks"`
}

type LeaderboardEntry struct {
	Rank        int       `json:"rank"`
	PatientID   uuid.UUID `json:"patient_id"`
	PatientName string    `json:"patient_name"`
	TotalPoints int       `json:"total_points"`
	Level       string    `json:"level"`
}
