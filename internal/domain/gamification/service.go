package gamification

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/cache"
	"github.com/fisioclinic/clinic/internal/platform/catalog"
)

const (
	leaderboardCachePrefix = "leaderboard"
	defaultLeaderboardTTL  = time.Minute
	maxLeaderboard         = 100
)

type Service struct {
	points  PointRepository
	catalog *catalog.Catalog
	cache   cache.Cache
	ttl     time.Duration
	logger  zerolog.Logger
	loc     *time.Location
	now     func() time.Time
}

func NewService(points PointRepository, cat *catalog.Catalog) *Service {
	return &Service{
		points:  points,
		catalog: cat,
		ttl:     defaultLeaderboardTTL,
		logger:  zerolog.Nop(),
		loc:     time.UTC,
		now:     time.Now,
	}
}

func (s *Service) SetCache(c cache.Cache, ttl time.Duration) {
	s.cache = c
	if ttl > 0 {
		s.ttl = ttl
	}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

// SetLocation sets the clinic timezone used to bucket attendance into weeks.
func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

// Award writes e to the ledger. Points default to the catalog value for the
// kind. Awarding the same (patient, kind, reference) twice returns the
// existing event with created false.
func (s *Service) Award(ctx context.Context, e *PointEvent) (*PointEvent, bool, error) {
	if e.PatientID == uuid.Nil {
		return nil, false, apperr.Invalid("patient_id is required")
	}
	if !ValidKind(e.Kind) {
		return nil, false, apperr.Invalid("invalid kind: %s", e.Kind)
	}
	if e.Kind == KindManual {
		if e.Points == 0 {
			return nil, false, apperr.Invalid("manual awards need points")
		}
		if e.ReferenceID == "" {
			e.ReferenceID = uuid.NewString()
		}
	} else {
		if e.ReferenceID == "" {
			return nil, false, apperr.Invalid("reference_id is required")
		}
		if e.Points == 0 {
			e.Points = s.catalog.Points(e.Kind)
		}
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now()
	}

	created, err := s.points.Create(ctx, e)
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := s.points.GetByKey(ctx, e.PatientID, e.Kind, e.ReferenceID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err := cache.Invalidate(ctx, s.cache, leaderboardCachePrefix); err != nil {
		s.logger.Warn().Err(err).Msg("leaderboard cache invalidation failed")
	}
	return e, true, nil
}

// AwardAttendance credits a completed session. When the patient's weekly
// streak reaches a multiple of StreakBonusEvery, a one-off bonus for that
// week is credited too.
func (s *Service) AwardAttendance(ctx context.Context, patientID, appointmentID uuid.UUID, at time.Time) ([]*PointEvent, error) {
	if at.IsZero() {
		at = s.now()
	}
	e, created, err := s.Award(ctx, &PointEvent{
		PatientID:   patientID,
		Kind:        KindAttendance,
		ReferenceID: appointmentID.String(),
		OccurredAt:  at,
	})
	if err != nil {
		return nil, err
	}
	out := []*PointEvent{e}
	if !created {
		return out, nil
	}

	times, err := s.points.AttendanceTimes(ctx, patientID)
	if err != nil {
		return out, err
	}
	streak := CurrentStreak(times, at, s.loc)
	if streak == 0 || streak%StreakBonusEvery != 0 {
		return out, nil
	}
	year, week := at.In(s.loc).ISOWeek()
	desc := fmt.Sprintf("%d consecutive weeks", streak)
	bonus, created, err := s.Award(ctx, &PointEvent{
		PatientID:   patientID,
		Kind:        KindStreakBonus,
		ReferenceID: fmt.Sprintf("%d-W%02d", year, week),
		Description: &desc,
		OccurredAt:  at,
	})
	if err != nil {
		return out, err
	}
	if created {
		out = append(out, bonus)
	}
	return out, nil
}

func (s *Service) Profile(ctx context.Context, patientID uuid.UUID) (*Profile, error) {
	sum, err := s.points.Summary(ctx, patientID)
	if err != nil {
		return nil, err
	}
	times, err := s.points.AttendanceTimes(ctx, patientID)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		PatientID:   patientID,
		TotalPoints: sum.Total,
		StreakWeeks: CurrentStreak(times, s.now(), s.loc),
		Badges:      badgesFor(sum, LongestStreak(times, s.loc)),
	}
	p.Level, p.NextLevel = s.catalog.LevelFor(sum.Total)
	if p.NextLevel == nil {
		p.ProgressPercent = 100
	} else {
		p.PointsToNext = p.NextLevel.MinPoints - sum.Total
		span := p.NextLevel.MinPoints - p.Level.MinPoints
		p.ProgressPercent = (sum.Total - p.Level.MinPoints) * 100 / span
		if p.ProgressPercent < 0 {
			p.ProgressPercent = 0
		}
	}
	return p, nil
}

func badgesFor(sum *Summary, longestStreak int) []Badge {
	var codes []string
	attended := sum.CountByKind[KindAttendance]
	if attended >= 1 {
		codes = append(codes, "first_session")
	}
	if attended >= 10 {
		codes = append(codes, "dedicated")
	}
	if attended >= 25 {
		codes = append(codes, "committed")
	}
	if longestStreak >= 4 {
		codes = append(codes, "streak_4")
	}
	if sum.CountByKind[KindReferral] >= 1 {
		codes = append(codes, "ambassador")
	}
	if sum.CountByKind[KindNPSResponse] >= 1 {
		codes = append(codes, "voice")
	}
	badges := make([]Badge, 0, len(codes))
	for _, c := range codes {
		badges = append(badges, Badge{Code: c, Name: badgeNames[c]})
	}
	return badges
}

// Leaderboard ranks active patients by total points. Results are cached per
// tenant until the next award.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error) {
	if limit <= 0 || limit > maxLeaderboard {
		limit = 10
	}
	key := cache.Key(ctx, leaderboardCachePrefix, strconv.Itoa(limit))
	return cache.GetOrLoad(ctx, s.cache, key, s.ttl, func(ctx context.Context) ([]*LeaderboardEntry, error) {
		entries, err := s.points.Leaderboard(ctx, limit)
		if err != nil {
			return nil, err
		}
		for i, e := range entries {
			e.Rank = i + 1
			lvl, _ := s.catalog.LevelFor(e.TotalPoints)
			e.Level = lvl.Name
		}
		return entries, nil
	})
}

func (s *Service) History(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*PointEvent, int, error) {
	return s.points.ListByPatient(ctx, patientID, limit, offset)
}
