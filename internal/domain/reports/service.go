package reports

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fisioclinic/clinic/internal/domain/crm"
	"github.com/fisioclinic/clinic/internal/domain/nps"
	"github.com/fisioclinic/clinic/internal/domain/scheduling"
	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/cache"
)

const (
	cachePrefix         = "reports"
	defaultTTL          = 5 * time.Minute
	defaultSectionLimit = 3
	dayLayout           = "2006-01-02"
)

// Runner executes fn on its own tenant-scoped connection. Dashboard sections
// run concurrently and a pgx connection is not safe for concurrent use.
type Runner func(ctx context.Context, fn func(ctx context.Context) error) error

func direct(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type Service struct {
	repo   Repository
	run    Runner
	cache  cache.Cache
	ttl    time.Duration
	limit  int
	loc    *time.Location
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, run Runner) *Service {
	if run == nil {
		run = direct
	}
	return &Service{
		repo:   repo,
		run:    run,
		ttl:    defaultTTL,
		limit:  defaultSectionLimit,
		loc:    time.UTC,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
}

func (s *Service) SetCache(c cache.Cache, ttl time.Duration) {
	s.cache = c
	if ttl > 0 {
		s.ttl = ttl
	}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

// SetSectionLimit caps how many dashboard sections hold a pool connection at
// once for a single request.
func (s *Service) SetSectionLimit(n int) {
	if n > 0 {
		s.limit = n
	}
}

// SetLocation sets the clinic timezone that month and day boundaries follow.
func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

func (s *Service) Location() *time.Location { return s.loc }

func checkPeriod(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return apperr.Invalid("from and to are required")
	}
	if !from.Before(to) {
		return apperr.Invalid("from must be before to")
	}
	return nil
}

func periodKey(parts ...string) []string {
	return append([]string{cachePrefix}, parts...)
}

// Dashboard gathers the clinic overview for [from, to).
func (s *Service) Dashboard(ctx context.Context, from, to time.Time) (*Dashboard, error) {
	if err := checkPeriod(from, to); err != nil {
		return nil, err
	}
	key := cache.Key(ctx, periodKey("dashboard", from.Format(time.RFC3339), to.Format(time.RFC3339))...)
	return cache.GetOrLoad(ctx, s.cache, key, s.ttl, func(ctx context.Context) (*Dashboard, error) {
		return s.buildDashboard(ctx, from, to)
	})
}

func (s *Service) buildDashboard(ctx context.Context, from, to time.Time) (*Dashboard, error) {
	d := &Dashboard{From: from, To: to}
	var (
		appts  map[string]int
		leads  map[string]int
		counts *nps.Counts
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	section := func(name string, fn func(ctx context.Context) error) {
		g.Go(func() error {
			err := s.run(gctx, fn)
			if err != nil {
				s.logger.Error().Err(err).Str("section", name).Msg("dashboard section failed")
			}
			return err
		})
	}
	section("revenue", func(ctx context.Context) (err error) {
		d.RevenueCents, err = s.repo.Revenue(ctx, from, to)
		return err
	})
	section("receivables", func(ctx context.Context) (err error) {
		d.OpenReceivablesCount, d.OpenReceivablesCents, err = s.repo.OpenReceivables(ctx)
		return err
	})
	section("payables", func(ctx context.Context) (err error) {
		d.PayablesDueCents, err = s.repo.PayablesDue(ctx, to)
		return err
	})
	section("appointments", func(ctx context.Context) (err error) {
		appts, err = s.repo.AppointmentsByStatus(ctx, from, to)
		return err
	})
	section("patients", func(ctx context.Context) (err error) {
		d.NewPatients, err = s.repo.NewPatients(ctx, from, to)
		return err
	})
	section("leads", func(ctx context.Context) (err error) {
		leads, err = s.repo.LeadsByStatus(ctx, from, to)
		return err
	})
	section("nps", func(ctx context.Context) (err error) {
		counts, err = s.repo.NPSCounts(ctx, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d.AppointmentsByStatus = make(map[string]int)
	for _, st := range scheduling.Statuses {
		d.AppointmentsByStatus[st] = appts[st]
	}
	d.AttendanceRate = attendanceRate(appts[scheduling.StatusCompleted], appts[scheduling.StatusNoShow])

	d.LeadsByStatus = make(map[string]int)
	total := 0
	for _, st := range crm.Statuses {
		d.LeadsByStatus[st] = leads[st]
		total += leads[st]
	}
	if total > 0 {
		d.LeadConversionRate = float64(leads[crm.StatusConverted]) / float64(total)
	}

	if counts != nil {
		d.NPS = nps.Score(*counts)
		d.NPSAnswered = counts.Answered
	}
	d.GeneratedAt = s.now()
	return d, nil
}

// RevenueByMonth returns received and paid-out money per calendar month in
// the clinic timezone.
func (s *Service) RevenueByMonth(ctx context.Context, year int) (*YearRevenue, error) {
	if year < 2000 || year > 2100 {
		return nil, apperr.Invalid("invalid year: %d", year)
	}
	key := cache.Key(ctx, periodKey("revenue", strconv.Itoa(year))...)
	return cache.GetOrLoad(ctx, s.cache, key, s.ttl, func(ctx context.Context) (*YearRevenue, error) {
		months, err := s.repo.MonthlyCashFlow(ctx, year, s.loc.String())
		if err != nil {
			return nil, err
		}
		byMonth := make(map[int]MonthRevenue, len(months))
		for _, m := range months {
			byMonth[m.Month] = m
		}
		out := &YearRevenue{Year: year, Months: make([]MonthRevenue, 0, 12)}
		for i := 1; i <= 12; i++ {
			m := byMonth[i]
			m.Month = i
			m.NetCents = m.ReceivedCents - m.PaidOutCents
			out.Months = append(out.Months, m)
			out.ReceivedCents += m.ReceivedCents
			out.PaidOutCents += m.PaidOutCents
		}
		out.NetCents = out.ReceivedCents - out.PaidOutCents
		return out, nil
	})
}

// ProfessionalProductivity ranks professionals by completed sessions in [from, to).
func (s *Service) ProfessionalProductivity(ctx context.Context, from, to time.Time) ([]*ProfessionalStats, error) {
	if err := checkPeriod(from, to); err != nil {
		return nil, err
	}
	key := cache.Key(ctx, periodKey("productivity", from.Format(time.RFC3339), to.Format(time.RFC3339))...)
	return cache.GetOrLoad(ctx, s.cache, key, s.ttl, func(ctx context.Context) ([]*ProfessionalStats, error) {
		stats, err := s.repo.ProfessionalProductivity(ctx, from, to)
		if err != nil {
			return nil, err
		}
		if stats == nil {
			stats = []*ProfessionalStats{}
		}
		for _, st := range stats {
			st.AttendanceRate = attendanceRate(st.Completed, st.NoShows)
		}
		return stats, nil
	})
}

// ReceivablesAging buckets the outstanding balance of open receivables by
// how many days past due they are on today's clinic date.
func (s *Service) ReceivablesAging(ctx context.Context) (*Aging, error) {
	now := s.now().In(s.loc)
	asOf := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	key := cache.Key(ctx, periodKey("aging", asOf.Format(dayLayout))...)
	return cache.GetOrLoad(ctx, s.cache, key, s.ttl, func(ctx context.Context) (*Aging, error) {
		buckets, err := s.repo.ReceivablesAging(ctx, asOf)
		if err != nil {
			return nil, err
		}
		a := &Aging{
			AsOf:       asOf,
			Current:    buckets[BucketCurrent],
			Days1To30:  buckets[Bucket1To30],
			Days31To60: buckets[Bucket31To60],
			Days61To90: buckets[Bucket61To90],
			Over90:     buckets[BucketOver90],
		}
		for _, b := range []Bucket{a.Current, a.Days1To30, a.Days31To60, a.Days61To90, a.Over90} {
			a.Total.Count += b.Count
			a.Total.Cents += b.Cents
		}
		return a, nil
	})
}
