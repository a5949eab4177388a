package crm

import (
	"time"

	"github.com/fisioclinic/clinic/internal/platform/catalog"
)

// Scorer computes lead scores from catalog weights.
type Scorer struct {
	weights catalog.LeadScoring
}

func NewScorer(c *catalog.Catalog) *Scorer {
	return &Scorer{weights: c.LeadScoring}
}

// Score returns budget + source + status + recency points clamped to 0..100.
// Lost leads always score 0.
func (s *Scorer) Score(l *Lead, now time.Time) int {
	if l.Status == StatusLost {
		return 0
	}
	total := s.budget(l.BudgetCents) + s.weights.Source[l.Source] + s.weights.Status[l.Status] + s.recency(l, now)
	switch {
	case total < 0:
		return 0
	case total > 100:
		return 100
	}
	return total
}

// budget tiers are sorted by MinCents descending.
func (s *Scorer) budget(cents int64) int {
	if cents <= 0 {
		return 0
	}
	for _, t := range s.weights.BudgetTiers {
		if cents >= t.MinCents {
			return t.Points
		}
	}
	return 0
}

// recency tiers are sorted by Within ascending.
func (s *Scorer) recency(l *Lead, now time.Time) int {
	ref := l.CreatedAt
	if l.LastContactAt != nil {
		ref = *l.LastContactAt
	}
	age := now.Sub(ref)
	if age < 0 {
		age = 0
	}
	for _, t := range s.weights.Recency {
		if age <= t.Within {
			return t.Points
		}
	}
	return 0
}
