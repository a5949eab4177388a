package gamification

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/cache"
	"github.com/fisioclinic/clinic/internal/platform/catalog"
)

// -- Mock Repository --

type mockPointRepo struct {
	items []*PointEvent
	names map[uuid.UUID]string
	loads int
}

func newMockPointRepo() *mockPointRepo {
	return &mockPointRepo{names: make(map[uuid.UUID]string)}
}

func (m *mockPointRepo) Create(_ context.Context, e *PointEvent) (bool, error) {
	for _, x := range m.items {
		if x.PatientID == e.PatientID && x.Kind == e.Kind && x.ReferenceID == e.ReferenceID {
			return false, nil
		}
	}
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	cp := *e
	m.items = append(m.items, &cp)
	return true, nil
}

func (m *mockPointRepo) GetByKey(_ context.Context, patientID uuid.UUID, kind, referenceID string) (*PointEvent, error) {
	for _, x := range m.items {
		if x.PatientID == patientID && x.Kind == kind && x.ReferenceID == referenceID {
			cp := *x
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("point event not found")
}

func (m *mockPointRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*PointEvent, int, error) {
	var out []*PointEvent
	for _, x := range m.items {
		if x.PatientID == patientID {
			out = append(out, x)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out, len(out), nil
}

func (m *mockPointRepo) Summary(_ context.Context, patientID uuid.UUID) (*Summary, error) {
	s := &Summary{CountByKind: make(map[string]int)}
	for _, x := range m.items {
		if x.PatientID == patientID {
			s.CountByKind[x.Kind]++
			s.Total += x.Points
		}
	}
	return s, nil
}

func (m *mockPointRepo) AttendanceTimes(_ context.Context, patientID uuid.UUID) ([]time.Time, error) {
	var out []time.Time
	for _, x := range m.items {
		if x.PatientID == patientID && x.Kind == KindAttendance {
			out = append(out, x.OccurredAt)
		}
	}
	return out, nil
}

func (m *mockPointRepo) Leaderboard(_ context.Context, limit int) ([]*LeaderboardEntry, error) {
	m.loads++
	totals := make(map[uuid.UUID]int)
	for _, x := range m.items {
		totals[x.PatientID] += x.Points
	}
	var out []*LeaderboardEntry
	for id, total := range totals {
		out = append(out, &LeaderboardEntry{PatientID: id, PatientName: m.names[id], TotalPoints: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalPoints > out[j].TotalPoints })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// -- Helpers --

// Wednesday 2025-03-12 10:00 UTC, ISO week 11.
var testNow = time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *mockPointRepo) {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	repo := newMockPointRepo()
	svc := NewService(repo, cat)
	svc.now = func() time.Time { return testNow }
	return svc, repo
}

func weeksAgo(n int) time.Time { return testNow.AddDate(0, 0, -7*n) }

// -- Streaks --

func TestWeekStart(t *testing.T) {
	sunday := time.Date(2025, 3, 16, 23, 0, 0, 0, time.UTC)
	monday := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	if got := weekStart(sunday, time.UTC); !got.Equal(monday) {
		t.Errorf("expected %s, got %s", monday, got)
	}
	if got := weekStart(monday, time.UTC); !got.Equal(monday) {
		t.Errorf("expected monday to map to itself, got %s", got)
	}
}

func TestWeekStart_ClinicTimezone(t *testing.T) {
	sp, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skipf("zoneinfo unavailable: %v", err)
	}
	// Sunday 22:00 in Sao Paulo is already Monday 01:00 UTC.
	lateSunday := time.Date(2025, 3, 16, 22, 0, 0, 0, sp)
	monday := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	if got := weekStart(lateSunday, sp); !got.Equal(monday) {
		t.Errorf("expected local week of %s, got %s", monday, got)
	}
	if got := weekStart(lateSunday, time.UTC); got.Equal(monday) {
		t.Errorf("expected UTC to roll into the next week")
	}
}

func TestCurrentStreak(t *testing.T) {
	times := []time.Time{weeksAgo(0), weeksAgo(1), weeksAgo(1), weeksAgo(2), weeksAgo(4)}
	if got := CurrentStreak(times, testNow, time.UTC); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
	// Nothing yet this week: the streak still counts up to last week.
	if got := CurrentStreak(times[1:], testNow, time.UTC); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
	if got := CurrentStreak([]time.Time{weeksAgo(2)}, testNow, time.UTC); got != 0 {
		t.Errorf("expected broken streak, got %d", got)
	}
	if got := LongestStreak(append(times, weeksAgo(5), weeksAgo(6), weeksAgo(7)), time.UTC); got != 4 {
		t.Errorf("expected longest 4, got %d", got)
	}
}

// -- Service --

func TestService_Award_Idempotent(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	patient := uuid.New()

	e, created, err := svc.Award(ctx, &PointEvent{PatientID: patient, Kind: KindEvaluation, ReferenceID: "eval-1"})
	if err != nil || !created {
		t.Fatalf("expected created, got %v, %v", created, err)
	}
	if e.Points != 20 {
		t.Errorf("expected catalog points 20, got %d", e.Points)
	}

	again, created, err := svc.Award(ctx, &PointEvent{PatientID: patient, Kind: KindEvaluation, ReferenceID: "eval-1"})
	if err != nil || created {
		t.Fatalf("expected duplicate, got %v, %v", created, err)
	}
	if again.ID != e.ID || len(repo.items) != 1 {
		t.Errorf("expected the existing event back")
	}
}

func TestService_Award_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	cases := map[string]*PointEvent{
		"patient":   {Kind: KindEvaluation, ReferenceID: "x"},
		"kind":      {PatientID: uuid.New(), Kind: "bonus", ReferenceID: "x"},
		"reference": {PatientID: uuid.New(), Kind: KindEvaluation},
		"manual":    {PatientID: uuid.New(), Kind: KindManual},
	}
	for name, e := range cases {
		if _, _, err := svc.Award(context.Background(), e); !errors.Is(err, apperr.ErrInvalid) {
			t.Errorf("%s: expected invalid, got %v", name, err)
		}
	}
}

func TestService_Award_Manual(t *testing.T) {
	svc, _ := newTestService(t)
	e, created, err := svc.Award(context.Background(), &PointEvent{PatientID: uuid.New(), Kind: KindManual, Points: -5})
	if err != nil || !created {
		t.Fatalf("unexpected %v, %v", created, err)
	}
	if e.ReferenceID == "" || e.Points != -5 {
		t.Errorf("unexpected event %+v", e)
	}
}

func TestService_AwardAttendance_StreakBonus(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	patient := uuid.New()

	for i := 3; i >= 1; i-- {
		events, err := svc.AwardAttendance(ctx, patient, uuid.New(), weeksAgo(i))
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 1 {
			t.Fatalf("week -%d: expected no bonus, got %d events", i, len(events))
		}
	}

	events, err := svc.AwardAttendance(ctx, patient, uuid.New(), testNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[1].Kind != KindStreakBonus || events[1].Points != 25 {
		t.Fatalf("expected streak bonus on the 4th week, got %+v", events)
	}
	if events[1].ReferenceID != "2025-W11" {
		t.Errorf("unexpected bonus reference %s", events[1].ReferenceID)
	}

	// A second session in the same week earns no second bonus.
	events, _ = svc.AwardAttendance(ctx, patient, uuid.New(), testNow.Add(24*time.Hour))
	if len(events) != 1 {
		t.Errorf("expected a single event, got %d", len(events))
	}

	// Replaying the same appointment is a no-op.
	before := len(repo.items)
	apt := uuid.New()
	_, _ = svc.AwardAttendance(ctx, patient, apt, testNow)
	_, _ = svc.AwardAttendance(ctx, patient, apt, testNow)
	if len(repo.items) != before+1 {
		t.Errorf("expected one new event, got %d", len(repo.items)-before)
	}
}

func TestService_AwardAttendance_LocalWeek(t *testing.T) {
	sp, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skipf("zoneinfo unavailable: %v", err)
	}
	svc, _ := newTestService(t)
	svc.SetLocation(sp)
	ctx := context.Background()
	patient := uuid.New()

	monday := time.Date(2025, 3, 10, 10, 0, 0, 0, sp)
	lateSunday := time.Date(2025, 3, 16, 22, 0, 0, 0, sp)
	for _, at := range []time.Time{monday, lateSunday} {
		if _, err := svc.AwardAttendance(ctx, patient, uuid.New(), at); err != nil {
			t.Fatal(err)
		}
	}
	svc.now = func() time.Time { return lateSunday }
	p, err := svc.Profile(ctx, patient)
	if err != nil {
		t.Fatal(err)
	}
	if p.StreakWeeks != 1 {
		t.Errorf("expected both sessions in one local week, got streak %d", p.StreakWeeks)
	}
}

func TestService_Profile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	patient := uuid.New()

	for i := 4; i >= 0; i-- {
		if _, err := svc.AwardAttendance(ctx, patient, uuid.New(), weeksAgo(i)); err != nil {
			t.Fatal(err)
		}
	}
	_, _, _ = svc.Award(ctx, &PointEvent{PatientID: patient, Kind: KindNPSResponse, ReferenceID: "survey-1"})
	_, _, _ = svc.Award(ctx, &PointEvent{PatientID: patient, Kind: KindManual, Points: 40})

	p, err := svc.Profile(ctx, patient)
	if err != nil {
		t.Fatal(err)
	}
	// 5 attendances (50) + one bonus (25) + nps (15) + manual (40) = 130.
	if p.TotalPoints != 130 {
		t.Errorf("expected 130 points, got %d", p.TotalPoints)
	}
	if p.Level.Name != "Silver" || p.NextLevel == nil || p.NextLevel.Name != "Gold" {
		t.Errorf("unexpected levels %+v / %+v", p.Level, p.NextLevel)
	}
	if p.PointsToNext != 170 || p.ProgressPercent != 15 {
		t.Errorf("unexpected progress %d / %d%%", p.PointsToNext, p.ProgressPercent)
	}
	if p.StreakWeeks != 5 {
		t.Errorf("expected 5-week streak, got %d", p.StreakWeeks)
	}
	codes := map[string]bool{}
	for _, b := range p.Badges {
		codes[b.Code] = true
	}
	for _, want := range []string{"first_session", "streak_4", "voice"} {
		if !codes[want] {
			t.Errorf("missing badge %s in %+v", want, p.Badges)
		}
	}
	if codes["dedicated"] || codes["ambassador"] {
		t.Errorf("unexpected badges %+v", p.Badges)
	}
}

func TestService_Profile_TopLevel(t *testing.T) {
	svc, _ := newTestService(t)
	patient := uuid.New()
	_, _, _ = svc.Award(context.Background(), &PointEvent{PatientID: patient, Kind: KindManual, Points: 5000})

	p, err := svc.Profile(context.Background(), patient)
	if err != nil {
		t.Fatal(err)
	}
	if p.Level.Name != "Diamond" || p.NextLevel != nil || p.ProgressPercent != 100 {
		t.Errorf("unexpected profile %+v", p)
	}
}

func TestService_Leaderboard_Cached(t *testing.T) {
	svc, repo := newTestService(t)
	svc.SetCache(cache.NewMemoryCache(), time.Minute)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	repo.names[a], repo.names[b] = "Ana", "Bruno"
	_, _, _ = svc.Award(ctx, &PointEvent{PatientID: a, Kind: KindManual, Points: 150})
	_, _, _ = svc.Award(ctx, &PointEvent{PatientID: b, Kind: KindManual, Points: 50})

	top, err := svc.Leaderboard(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 || top[0].PatientName != "Ana" || top[0].Rank != 1 || top[0].Level != "Silver" {
		t.Fatalf("unexpected leaderboard %+v", top)
	}
	_, _ = svc.Leaderboard(ctx, 10)
	if repo.loads != 1 {
		t.Errorf("expected a cached second read, got %d loads", repo.loads)
	}

	_, _, _ = svc.Award(ctx, &PointEvent{PatientID: b, Kind: KindManual, Points: 500})
	top, _ = svc.Leaderboard(ctx, 10)
	if repo.loads != 2 || top[0].PatientName != "Bruno" {
		t.Errorf("expected a fresh leaderboard after an award, got %+v", top)
	}
}
