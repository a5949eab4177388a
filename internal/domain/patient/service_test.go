package patient

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
)

// -- Mock Repositories --

type mockPatientRepo struct {
	items map[uuid.UUID]*Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{items: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	if p.CPF != nil {
		for _, existing := range m.items {
			if existing.CPF != nil && *existing.CPF == *p.CPF {
				return apperr.Conflict("patient already exists")
			}
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("patient not found")
	}
	cp := *p
	return &cp, nil
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.items[p.ID]; !ok {
		return apperr.NotFound("patient not found")
	}
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.items[id]; !ok {
		return apperr.NotFound("patient not found")
	}
	delete(m.items, id)
	return nil
}

func (m *mockPatientRepo) Search(_ context.Context, f SearchFilter, limit, offset int) ([]*Patient, int, error) {
	var out []*Patient
	for _, p := range m.items {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Q != "" && !strings.Contains(p.SearchName, f.Q) {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

type mockAnamnesisRepo struct {
	items map[uuid.UUID]*Anamnesis
}

func (m *mockAnamnesisRepo) Get(_ context.Context, patientID uuid.UUID) (*Anamnesis, error) {
	a, ok := m.items[patientID]
	if !ok {
		return nil, apperr.NotFound("anamnesis not found")
	}
	return a, nil
}

func (m *mockAnamnesisRepo) Upsert(_ context.Context, a *Anamnesis) error {
	now := time.Now()
	if existing, ok := m.items[a.PatientID]; ok {
		a.CreatedAt = existing.CreatedAt
	} else {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	cp := *a
	m.items[a.PatientID] = &cp
	return nil
}

type mockEvolutionRepo struct {
	items map[uuid.UUID]*Evolution
}

func (m *mockEvolutionRepo) Create(_ context.Context, e *Evolution) error {
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	cp := *e
	m.items[e.ID] = &cp
	return nil
}

func (m *mockEvolutionRepo) GetByID(_ context.Context, id uuid.UUID) (*Evolution, error) {
	e, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("evolution not found")
	}
	cp := *e
	return &cp, nil
}

func (m *mockEvolutionRepo) Update(_ context.Context, e *Evolution) error {
	stored, ok := m.items[e.ID]
	if !ok || stored.SignedAt != nil {
		return apperr.Conflict("evolution is signed or missing")
	}
	cp := *e
	m.items[e.ID] = &cp
	return nil
}

func (m *mockEvolutionRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Evolution, int, error) {
	var out []*Evolution
	for _, e := range m.items {
		if e.PatientID == patientID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

func newTestService() (*Service, *mockPatientRepo) {
	pr := newMockPatientRepo()
	svc := NewService(pr,
		&mockAnamnesisRepo{items: make(map[uuid.UUID]*Anamnesis)},
		&mockEvolutionRepo{items: make(map[uuid.UUID]*Evolution)})
	return svc, pr
}

func ptr[T any](v T) *T { return &v }

func createPatient(t *testing.T, svc *Service) *Patient {
	t.Helper()
	p := &Patient{FullName: "  Conceição   Araújo ", CPF: ptr("529.982.247-25"), Phone: ptr("(11) 98765-4321")}
	if err := svc.Create(context.Background(), p); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return p
}

// -- Tests --

func TestValidCPF(t *testing.T) {
	tests := []struct {
		cpf  string
		want bool
	}{
		{"52998224725", true},
		{"11144477735", true},
		{"52998224724", false},
		{"11111111111", false},
		{"1234567890", false},
		{"5299822472a", false},
	}
	for _, tt := range tests {
		if got := ValidCPF(tt.cpf); got != tt.want {
			t.Errorf("ValidCPF(%s) = %v, want %v", tt.cpf, got, tt.want)
		}
	}
}

func TestService_Create_Normalizes(t *testing.T) {
	svc, repo := newTestService()
	p := createPatient(t, svc)

	stored := repo.items[p.ID]
	if stored.FullName != "Conceição Araújo" {
		t.Errorf("unexpected full name %q", stored.FullName)
	}
	if stored.SearchName != "conceicao araujo" {
		t.Errorf("unexpected search name %q", stored.SearchName)
	}
	if *stored.CPF != "52998224725" || *stored.Phone != "11987654321" {
		t.Errorf("cpf/phone not normalized: %s %s", *stored.CPF, *stored.Phone)
	}
	if stored.Status != StatusActive {
		t.Errorf("expected active, got %s", stored.Status)
	}
}

func TestService_Create_Validation(t *testing.T) {
	future := time.Now().Add(48 * time.Hour)
	tests := []struct {
		name string
		p    *Patient
	}{
		{"missing name", &Patient{FullName: "  "}},
		{"bad cpf", &Patient{FullName: "Ana", CPF: ptr("123.456.789-00")}},
		{"bad email", &Patient{FullName: "Ana", Email: ptr("ana-at-example")}},
		{"short phone", &Patient{FullName: "Ana", Phone: ptr("123")}},
		{"future birth date", &Patient{FullName: "Ana", BirthDate: &future}},
		{"card without plan", &Patient{FullName: "Ana", InsuranceCard: ptr("0001")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService()
			if err := svc.Create(context.Background(), tt.p); !errors.Is(err, apperr.ErrInvalid) {
				t.Errorf("expected invalid, got %v", err)
			}
		})
	}
}

func TestService_Create_EmptyCPFIsNil(t *testing.T) {
	svc, _ := newTestService()
	p := &Patient{FullName: "Ana", CPF: ptr("")}
	if err := svc.Create(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.CPF != nil {
		t.Error("blank cpf should be stored as NULL")
	}
}

func TestService_Create_DuplicateCPF(t *testing.T) {
	svc, _ := newTestService()
	createPatient(t, svc)
	dup := &Patient{FullName: "Outra Pessoa", CPF: ptr("52998224725")}
	if err := svc.Create(context.Background(), dup); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestService_Update_KeepsStatus(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	p := createPatient(t, svc)
	if _, err := svc.Discharge(ctx, p.ID); err != nil {
		t.Fatal(err)
	}

	upd := &Patient{ID: p.ID, FullName: "Conceição A. Lima", Status: StatusActive}
	if err := svc.Update(ctx, upd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.items[p.ID].Status != StatusDischarged {
		t.Error("update must not change status")
	}
	if repo.items[p.ID].SearchName != "conceicao a. lima" {
		t.Errorf("search name not refreshed: %q", repo.items[p.ID].SearchName)
	}
}

func TestService_DischargeAndReactivate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := createPatient(t, svc)

	got, err := svc.Discharge(ctx, p.ID)
	if err != nil || got.Status != StatusDischarged {
		t.Fatalf("discharge: %v %+v", err, got)
	}
	if _, err := svc.Discharge(ctx, p.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second discharge should conflict, got %v", err)
	}
	got, err = svc.Reactivate(ctx, p.ID)
	if err != nil || got.Status != StatusActive {
		t.Fatalf("reactivate: %v %+v", err, got)
	}
	if _, err := svc.Reactivate(ctx, p.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("reactivating an active patient should conflict, got %v", err)
	}
}

func TestService_Search_InvalidStatus(t *testing.T) {
	svc, _ := newTestService()
	if _, _, err := svc.Search(context.Background(), SearchFilter{Status: "archived"}, 10, 0); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid, got %v", err)
	}
}

func TestService_UpsertAnamnesis(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := createPatient(t, svc)

	a := &Anamnesis{PatientID: p.ID, ChiefComplaint: "Dor lombar", PainScale: ptr(7)}
	if err := svc.UpsertAnamnesis(ctx, a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a2 := &Anamnesis{PatientID: p.ID, ChiefComplaint: "Dor lombar crônica", PainScale: ptr(5)}
	if err := svc.UpsertAnamnesis(ctx, a2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := svc.GetAnamnesis(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ChiefComplaint != "Dor lombar crônica" || *got.PainScale != 5 {
		t.Errorf("upsert did not replace: %+v", got)
	}

	if err := svc.UpsertAnamnesis(ctx, &Anamnesis{PatientID: p.ID, ChiefComplaint: "x", PainScale: ptr(11)}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("pain 11 should be invalid, got %v", err)
	}
	if err := svc.UpsertAnamnesis(ctx, &Anamnesis{PatientID: uuid.New(), ChiefComplaint: "x"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown patient should be not found, got %v", err)
	}
}

func TestService_UpsertAnamnesis_Hooks(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := createPatient(t, svc)

	var seen []uuid.UUID
	svc.AddAnamnesisHook(func(_ context.Context, a *Anamnesis) error {
		seen = append(seen, a.PatientID)
		return errors.New("points service down")
	})
	svc.AddAnamnesisHook(func(_ context.Context, a *Anamnesis) error {
		seen = append(seen, a.PatientID)
		return nil
	})

	if err := svc.UpsertAnamnesis(ctx, &Anamnesis{PatientID: p.ID, ChiefComplaint: "Cervicalgia"}); err != nil {
		t.Fatalf("a failing hook must not fail the save: %v", err)
	}
	if len(seen) != 2 || seen[0] != p.ID {
		t.Errorf("expected both hooks to run, got %v", seen)
	}

	seen = nil
	_ = svc.UpsertAnamnesis(ctx, &Anamnesis{PatientID: p.ID})
	if len(seen) != 0 {
		t.Error("hooks must not run when validation fails")
	}
}

func TestService_EvolutionLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := createPatient(t, svc)
	author := uuid.New()

	e := &Evolution{PatientID: p.ID, ProfessionalID: author, Content: "Cinesioterapia 30min", PainScale: ptr(4)}
	if err := svc.AddEvolution(ctx, e); err != nil {
		t.Fatalf("add: %v", err)
	}

	upd, err := svc.UpdateEvolution(ctx, &Evolution{ID: e.ID, Content: "Cinesioterapia 40min", Procedures: []string{"50000160"}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.Content != "Cinesioterapia 40min" {
		t.Errorf("content not updated: %q", upd.Content)
	}

	if _, err := svc.SignEvolution(ctx, e.ID, uuid.New()); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("non-author sign should be forbidden, got %v", err)
	}
	signed, err := svc.SignEvolution(ctx, e.ID, author)
	if err != nil || !signed.Signed() {
		t.Fatalf("sign: %v", err)
	}

	if _, err := svc.UpdateEvolution(ctx, &Evolution{ID: e.ID, Content: "tamper"}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("editing a signed evolution should conflict, got %v", err)
	}
	if _, err := svc.SignEvolution(ctx, e.ID, author); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("double sign should conflict, got %v", err)
	}

	list, total, err := svc.ListEvolutions(ctx, p.ID, 10, 0)
	if err != nil || total != 1 || len(list) != 1 {
		t.Errorf("expected one evolution, got %d (%v)", total, err)
	}
}

func TestService_AddEvolution_Validation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := createPatient(t, svc)

	if err := svc.AddEvolution(ctx, &Evolution{PatientID: p.ID, Content: "x"}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("missing professional should be invalid, got %v", err)
	}
	if err := svc.AddEvolution(ctx, &Evolution{PatientID: p.ID, ProfessionalID: uuid.New(), Content: " "}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("empty content should be invalid, got %v", err)
	}
	_, _ = svc.Discharge(ctx, p.ID)
	if err := svc.AddEvolution(ctx, &Evolution{PatientID: p.ID, ProfessionalID: uuid.New(), Content: "x"}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("discharged patient should conflict, got %v", err)
	}
}
