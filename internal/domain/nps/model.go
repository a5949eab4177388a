package nps

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Survey is the NPS question sent after a completed session.
type Survey struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	AppointmentID uuid.UUID  `db:"appointment_id" json:"appointment_id"`
	Token         string     `db:"token" json:"-"`
	SentAt        time.Time  `db:"sent_at" json:"sent_at"`
	AnsweredAt    *time.Time `db:"answered_at" json:"answered_at,omitempty"`
	Score         *int       `db:"score" json:"score,omitempty"`
	Comment       *string    `db:"comment" json:"comment,omitempty"`
}

func (s *Survey) Answered() bool { return s.AnsweredAt != nil }

// Category buckets a 0-10 score.
func Category(score int) string {
	switch {
	case score >= 9:
		return "promoter"
	case score >= 7:
		return "passive"
	default:
		return "detractor"
	}
}

// Counts are the raw tallies for surveys sent in a period.
type Counts struct {
	Sent       int
	Answered   int
	Promoters  int
	Passives   int
	Detractors int
}

type Summary struct {
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	Sent         int       `json:"sent"`
	Answered     int       `json:"answered"`
	Promoters    int       `json:"promoters"`
	Passives     int       `json:"passives"`
	Detractors   int       `json:"detractors"`
	Score        *int      `json:"nps"`
	ResponseRate float64   `json:"response_rate"`
}

// Score computes round(100 * (P - D) / answered). It is nil with no answers.
func Score(c Counts) *int {
	if c.Answered == 0 {
		return nil
	}
	v := int(math.Round(100 * float64(c.Promoters-c.Detractors) / float64(c.Answered)))
	return &v
}
