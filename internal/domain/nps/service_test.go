package nps

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/db"
	"github.com/fisioclinic/clinic/internal/platform/notification"
)

// -- Mocks --

type mockSurveyRepo struct {
	items map[uuid.UUID]*Survey
}

func newMockSurveyRepo() *mockSurveyRepo {
	return &mockSurveyRepo{items: make(map[uuid.UUID]*Survey)}
}

func (m *mockSurveyRepo) Create(_ context.Context, s *Survey) error {
	for _, x := range m.items {
		if x.AppointmentID == s.AppointmentID {
			return apperr.Conflict("survey already exists")
		}
	}
	s.ID = uuid.New()
	cp := *s
	m.items[s.ID] = &cp
	return nil
}

func (m *mockSurveyRepo) find(match func(*Survey) bool) (*Survey, error) {
	for _, x := range m.items {
		if match(x) {
			cp := *x
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("survey not found")
}

func (m *mockSurveyRepo) GetByAppointment(_ context.Context, id uuid.UUID) (*Survey, error) {
	return m.find(func(s *Survey) bool { return s.AppointmentID == id })
}

func (m *mockSurveyRepo) GetByToken(_ context.Context, token string) (*Survey, error) {
	return m.find(func(s *Survey) bool { return s.Token == token })
}

func (m *mockSurveyRepo) Answer(_ context.Context, s *Survey) error {
	cur := m.items[s.ID]
	if cur.AnsweredAt != nil {
		return apperr.Conflict("survey already answered")
	}
	cp := *s
	m.items[s.ID] = &cp
	return nil
}

func (m *mockSurveyRepo) Counts(_ context.Context, from, to time.Time) (*Counts, error) {
	var c Counts
	for _, s := range m.items {
		if s.SentAt.Before(from) || !s.SentAt.Before(to) {
			continue
		}
		c.Sent++
		if s.Score == nil {
			continue
		}
		c.Answered++
		switch Category(*s.Score) {
		case "promoter":
			c.Promoters++
		case "passive":
			c.Passives++
		default:
			c.Detractors++
		}
	}
	return &c, nil
}

func (m *mockSurveyRepo) ListAnswered(_ context.Context, from, to time.Time, limit, offset int) ([]*Survey, int, error) {
	var out []*Survey
	for _, s := range m.items {
		if s.AnsweredAt != nil && !s.AnsweredAt.Before(from) && s.AnsweredAt.Before(to) {
			out = append(out, s)
		}
	}
	return out, len(out), nil
}

type notice struct {
	patient  uuid.UUID
	template string
	data     map[string]string
}

type recordingNotifier struct {
	sent []notice
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, patientID uuid.UUID, tpl string, data map[string]string) error {
	r.sent = append(r.sent, notice{patientID, tpl, data})
	return r.err
}

// -- Helpers --

var testNow = time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *mockSurveyRepo, *recordingNotifier) {
	t.Helper()
	repo := newMockSurveyRepo()
	n := &recordingNotifier{}
	svc := NewService(repo, n, "https://api.clinic.test/")
	svc.now = func() time.Time { return testNow }
	return svc, repo, n
}

// -- Tests --

func TestScore(t *testing.T) {
	tests := []struct {
		c    Counts
		want int
	}{
		{Counts{Answered: 10, Promoters: 7, Passives: 2, Detractors: 1}, 60},
		{Counts{Answered: 3, Promoters: 2, Detractors: 1}, 33},
		{Counts{Answered: 3, Promoters: 0, Detractors: 2}, -67},
		{Counts{Answered: 8, Promoters: 1, Detractors: 2}, -13},
		{Counts{Answered: 4, Passives: 4}, 0},
	}
	for _, tt := range tests {
		got := Score(tt.c)
		if got == nil || *got != tt.want {
			t.Errorf("Score(%+v) = %v, want %d", tt.c, got, tt.want)
		}
	}
	if Score(Counts{Sent: 5}) != nil {
		t.Error("expected nil score with no answers")
	}
}

func TestCategory(t *testing.T) {
	for score, want := range map[int]string{0: "detractor", 6: "detractor", 7: "passive", 8: "passive", 9: "promoter", 10: "promoter"} {
		if got := Category(score); got != want {
			t.Errorf("Category(%d) = %s, want %s", score, got, want)
		}
	}
}

func TestService_Dispatch(t *testing.T) {
	svc, _, n := newTestService(t)
	ctx := db.WithTenant(context.Background(), "acme")
	patient, appt := uuid.New(), uuid.New()

	sv, created, err := svc.Dispatch(ctx, patient, appt)
	if err != nil || !created {
		t.Fatalf("expected a new survey, got %v, %v", created, err)
	}
	if len(n.sent) != 1 || n.sent[0].template != notification.TemplateNPSSurvey {
		t.Fatalf("expected one survey notification, got %+v", n.sent)
	}
	want := fmt.Sprintf("https://api.clinic.test/public/nps/%s?tenant_id=acme", sv.Token)
	if n.sent[0].data["link"] != want {
		t.Errorf("expected link %s, got %s", want, n.sent[0].data["link"])
	}

	again, created, err := svc.Dispatch(ctx, patient, appt)
	if err != nil || created || again.ID != sv.ID {
		t.Errorf("expected the existing survey, got %v, %v, %v", again, created, err)
	}
	if len(n.sent) != 1 {
		t.Errorf("expected no second notification, got %d", len(n.sent))
	}
}

func TestService_Dispatch_DeliveryFailureKeepsSurvey(t *testing.T) {
	svc, repo, n := newTestService(t)
	n.err = errors.New("smtp down")

	sv, created, err := svc.Dispatch(context.Background(), uuid.New(), uuid.New())
	if err != nil || !created {
		t.Fatalf("expected the survey to be kept, got %v", err)
	}
	if _, ok := repo.items[sv.ID]; !ok {
		t.Error("survey not stored")
	}
}

func TestService_Answer(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sv, _, _ := svc.Dispatch(ctx, uuid.New(), uuid.New())

	var hooked *Survey
	svc.AddAnswerHook(func(_ context.Context, s *Survey) error {
		hooked = s
		return nil
	})
	svc.AddAnswerHook(func(context.Context, *Survey) error { return errors.New("ignored") })

	if _, err := svc.Answer(ctx, sv.Token, 11, ""); !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("expected invalid score, got %v", err)
	}
	if _, err := svc.Answer(ctx, sv.Token, 5, strings.Repeat("x", maxCommentLen+1)); !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("expected invalid comment, got %v", err)
	}
	if _, err := svc.Answer(ctx, "unknown", 9, ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	got, err := svc.Answer(ctx, sv.Token, 9, "  ótimo atendimento ")
	if err != nil {
		t.Fatal(err)
	}
	if *got.Score != 9 || *got.Comment != "ótimo atendimento" || !got.AnsweredAt.Equal(testNow) {
		t.Errorf("unexpected survey %+v", got)
	}
	if hooked == nil || hooked.ID != sv.ID {
		t.Error("answer hook did not run")
	}

	if _, err := svc.Answer(ctx, sv.Token, 3, ""); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict on a second answer, got %v", err)
	}
}

func TestService_Summary(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, score := range []int{10, 9, 9, 8, 3, -1, -1, -1} {
		sv, _, err := svc.Dispatch(ctx, uuid.New(), uuid.New())
		if err != nil {
			t.Fatal(err)
		}
		if score >= 0 {
			if _, err := svc.Answer(ctx, sv.Token, score, ""); err != nil {
				t.Fatal(err)
			}
		}
	}

	sum, err := svc.Summary(ctx, testNow.AddDate(0, 0, -1), testNow.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Sent != 8 || sum.Answered != 5 || sum.Promoters != 3 || sum.Passives != 1 || sum.Detractors != 1 {
		t.Errorf("unexpected counts %+v", sum)
	}
	if sum.Score == nil || *sum.Score != 40 {
		t.Errorf("expected NPS 40, got %v", sum.Score)
	}
	if sum.ResponseRate != 0.625 {
		t.Errorf("expected response rate 0.625, got %f", sum.ResponseRate)
	}

	if _, err := svc.Summary(ctx, testNow, testNow); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid period, got %v", err)
	}
}
