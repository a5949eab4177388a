package scheduling

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/cache"
	"github.com/fisioclinic/clinic/internal/platform/db"
)

const (
	DefaultDuration  = 50 * time.Minute
	MaxDuration      = 8 * time.Hour
	MaxSeriesLength  = 52
	minSlotMinutes   = 5
	maxSlotMinutes   = 240
	defaultSlotsTTL  = 5 * time.Minute
	slotsCachePrefix = "slots"
	dateLayout       = "2006-01-02"
	minutesPerDay    = 24 * 60
)

// CompletionHook runs after an appointment is marked completed.
type CompletionHook func(ctx context.Context, a *Appointment) error

type namedHook struct {
	name string
	fn   CompletionHook
}

type Service struct {
	hours  WorkingHoursRepository
	appts  AppointmentRepository
	tx     db.Transactor
	cache  cache.Cache
	ttl    time.Duration
	loc    *time.Location
	hooks  []namedHook
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(hours WorkingHoursRepository, appts AppointmentRepository, tx db.Transactor) *Service {
	return &Service{
		hours:  hours,
		appts:  appts,
		tx:     tx,
		ttl:    defaultSlotsTTL,
		loc:    time.Local,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
}

// SetCache enables read-through caching of available slots.
func (s *Service) SetCache(c cache.Cache, ttl time.Duration) {
	s.cache = c
	if ttl > 0 {
		s.ttl = ttl
	}
}

// SetLocation sets the zone working hours are expressed in.
func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

// AddCompletionHook registers fn to run whenever an appointment completes.
// Hooks run in registration order; their errors are logged only.
func (s *Service) AddCompletionHook(name string, fn CompletionHook) {
	s.hooks = append(s.hooks, namedHook{name: name, fn: fn})
}

// -- Working hours --

func (s *Service) GetWorkingHours(ctx context.Context, professionalID uuid.UUID) ([]*WorkingHours, error) {
	return s.hours.ListByProfessional(ctx, professionalID)
}

// ReplaceWorkingHours validates the whole week and swaps it atomically.
func (s *Service) ReplaceWorkingHours(ctx context.Context, professionalID uuid.UUID, hours []*WorkingHours) error {
	type span struct{ from, to int }
	byDay := make(map[int][]span)
	for _, w := range hours {
		if w.Weekday < 0 || w.Weekday > 6 {
			return apperr.Invalid("weekday must be between 0 and 6")
		}
		from, err := minutes(w.Start)
		if err != nil {
			return apperr.Invalid("%v", err)
		}
		to, err := minutes(w.End)
		if err != nil {
			return apperr.Invalid("%v", err)
		}
		if from >= to {
			return apperr.Invalid("start must be before end")
		}
		if w.SlotMinutes < minSlotMinutes || w.SlotMinutes > maxSlotMinutes {
			return apperr.Invalid("slot_minutes must be between %d and %d", minSlotMinutes, maxSlotMinutes)
		}
		byDay[w.Weekday] = append(byDay[w.Weekday], span{from, to})
	}
	for day, spans := range byDay {
		sort.Slice(spans, func(i, j int) bool { return spans[i].from < spans[j].from })
		for i := 1; i < len(spans); i++ {
			if spans[i].from < spans[i-1].to {
				return apperr.Invalid("overlapping working hours on weekday %d", day)
			}
		}
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.hours.Replace(ctx, professionalID, hours)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, professionalID)
	return nil
}

// -- Appointments --

func (s *Service) validate(a *Appointment) error {
	if a.PatientID == uuid.Nil {
		return apperr.Invalid("patient_id is required")
	}
	if a.ProfessionalID == uuid.Nil {
		return apperr.Invalid("professional_id is required")
	}
	if a.StartAt.IsZero() {
		return apperr.Invalid("start_at is required")
	}
	if a.EndAt.IsZero() {
		a.EndAt = a.StartAt.Add(DefaultDuration)
	}
	if !a.StartAt.Before(a.EndAt) {
		return apperr.Invalid("start_at must be before end_at")
	}
	if a.EndAt.Sub(a.StartAt) > MaxDuration {
		return apperr.Invalid("appointment cannot exceed %s", MaxDuration)
	}
	switch a.Kind {
	case "":
		a.Kind = KindInPerson
	case KindInPerson, KindTelemedicine:
	default:
		return apperr.Invalid("invalid kind: %s", a.Kind)
	}
	if a.PriceCents < 0 {
		return apperr.Invalid("price_cents cannot be negative")
	}
	return nil
}

// book inserts a under the professional's lock. ctx must carry a transaction.
func (s *Service) book(ctx context.Context, a *Appointment) error {
	if err := s.appts.LockProfessional(ctx, a.ProfessionalID); err != nil {
		return err
	}
	clash, err := s.appts.Blocking(ctx, a.ProfessionalID, a.StartAt, a.EndAt, uuid.Nil)
	if err != nil {
		return err
	}
	if len(clash) > 0 {
		return apperr.Conflict("professional already booked at %s", clash[0].StartAt.In(s.loc).Format("2006-01-02 15:04"))
	}
	a.Status = StatusScheduled
	return s.appts.Create(ctx, a)
}

func (s *Service) Create(ctx context.Context, a *Appointment) error {
	if err := s.validate(a); err != nil {
		return err
	}
	a.SeriesID = nil
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.book(ctx, a)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, a.ProfessionalID)
	return nil
}

// CreateSeries books template and the same wall-clock time in each of the
// following weeks. Either every occurrence is booked or none is.
func (s *Service) CreateSeries(ctx context.Context, template *Appointment, occurrences int) ([]*Appointment, error) {
	if occurrences < 1 || occurrences > MaxSeriesLength {
		return nil, apperr.Invalid("occurrences must be between 1 and %d", MaxSeriesLength)
	}
	if err := s.validate(template); err != nil {
		return nil, err
	}
	seriesID := uuid.New()
	duration := template.EndAt.Sub(template.StartAt)
	first := template.StartAt.In(s.loc)

	out := make([]*Appointment, 0, occurrences)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		for i := 0; i < occurrences; i++ {
			a := *template
			a.StartAt = first.AddDate(0, 0, 7*i)
			a.EndAt = a.StartAt.Add(duration)
			a.SeriesID = &seriesID
			if err := s.book(ctx, &a); err != nil {
				return err
			}
			out = append(out, &a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, template.ProfessionalID)
	return out, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appts.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !validStatus(f.Status) {
		return nil, 0, apperr.Invalid("invalid status: %s", f.Status)
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, 0, apperr.Invalid("from must be before to")
	}
	return s.appts.List(ctx, f, limit, offset)
}

// Reschedule moves an open appointment and clears its reminder mark.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, start, end time.Time) (*Appointment, error) {
	var out *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.appts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusScheduled && a.Status != StatusConfirmed {
			return apperr.Conflict("cannot reschedule a %s appointment", a.Status)
		}
		if end.IsZero() {
			end = start.Add(a.EndAt.Sub(a.StartAt))
		}
		moved := *a
		moved.StartAt, moved.EndAt = start, end
		if err := s.validate(&moved); err != nil {
			return err
		}
		if err := s.appts.LockProfessional(ctx, a.ProfessionalID); err != nil {
			return err
		}
		clash, err := s.appts.Blocking(ctx, a.ProfessionalID, start, end, a.ID)
		if err != nil {
			return err
		}
		if len(clash) > 0 {
			return apperr.Conflict("professional already booked at %s", clash[0].StartAt.In(s.loc).Format("2006-01-02 15:04"))
		}
		moved.ReminderSentAt = nil
		if err := s.appts.Update(ctx, &moved); err != nil {
			return err
		}
		out = &moved
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, out.ProfessionalID)
	return out, nil
}

// Transition moves the appointment to status to. reason is kept only for
// cancellations.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to, reason string) (*Appointment, error) {
	if !validStatus(to) {
		return nil, apperr.Invalid("invalid status: %s", to)
	}
	var a *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if a, err = s.appts.GetByID(ctx, id); err != nil {
			return err
		}
		if !CanTransition(a.Status, to) {
			return apperr.Conflict("cannot move appointment from %s to %s", a.Status, to)
		}
		a.Status = to
		if to == StatusCancelled && reason != "" {
			a.CancelReason = &reason
		}
		return s.appts.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, a.ProfessionalID)

	if to == StatusCompleted {
		s.runHooks(ctx, a)
	}
	return a, nil
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.Transition(ctx, id, StatusConfirmed, "")
}

func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.Transition(ctx, id, StatusCheckedIn, "")
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.Transition(ctx, id, StatusCompleted, "")
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	return s.Transition(ctx, id, StatusCancelled, reason)
}

func (s *Service) NoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.Transition(ctx, id, StatusNoShow, "")
}

func (s *Service) runHooks(ctx context.Context, a *Appointment) {
	for _, h := range s.hooks {
		if err := h.fn(ctx, a); err != nil {
			s.logger.Error().Err(err).
				Str("hook", h.name).
				Str("appointment_id", a.ID.String()).
				Str("tenant", db.TenantFromContext(ctx)).
				Msg("completion hook failed")
		}
	}
}

// -- Availability --

// AvailableSlots lists the free slots of a professional on date
// ("YYYY-MM-DD" in the clinic's zone). Slots that already started are omitted.
func (s *Service) AvailableSlots(ctx context.Context, professionalID uuid.UUID, date string) ([]Slot, error) {
	day, err := time.ParseInLocation(dateLayout, date, s.loc)
	if err != nil {
		return nil, apperr.Invalid("date must be YYYY-MM-DD")
	}

	key := cache.Key(ctx, slotsCachePrefix, professionalID.String(), date)
	slots, err := cache.GetOrLoad(ctx, s.cache, key, s.ttl, func(ctx context.Context) ([]Slot, error) {
		return s.computeSlots(ctx, professionalID, day)
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]Slot, 0, len(slots))
	for _, sl := range slots {
		if sl.Start.After(now) {
			out = append(out, sl)
		}
	}
	return out, nil
}

func (s *Service) computeSlots(ctx context.Context, professionalID uuid.UUID, day time.Time) ([]Slot, error) {
	hours, err := s.hours.ListByProfessional(ctx, professionalID)
	if err != nil {
		return nil, err
	}
	next := day.AddDate(0, 0, 1)
	busy, err := s.appts.Blocking(ctx, professionalID, day, next, uuid.Nil)
	if err != nil {
		return nil, err
	}

	var grid []Slot
	for _, w := range hours {
		if w.Weekday != int(day.Weekday()) {
			continue
		}
		from, err := minutes(w.Start)
		if err != nil {
			return nil, err
		}
		to, err := minutes(w.End)
		if err != nil {
			return nil, err
		}
		for m := from; m+w.SlotMinutes <= to && m < minutesPerDay; m += w.SlotMinutes {
			start := time.Date(day.Year(), day.Month(), day.Day(), m/60, m%60, 0, 0, s.loc)
			grid = append(grid, Slot{Start: start, End: start.Add(time.Duration(w.SlotMinutes) * time.Minute)})
		}
	}
	sort.Slice(grid, func(i, j int) bool { return grid[i].Start.Before(grid[j].Start) })

	free := make([]Slot, 0, len(grid))
	for _, sl := range grid {
		taken := false
		for _, a := range busy {
			if a.Overlaps(sl.Start, sl.End) {
				taken = true
				break
			}
		}
		if !taken {
			free = append(free, sl)
		}
	}
	return free, nil
}

func (s *Service) invalidate(ctx context.Context, professionalID uuid.UUID) {
	if err := cache.Invalidate(ctx, s.cache, slotsCachePrefix, professionalID.String()); err != nil {
		s.logger.Warn().Err(err).Str("professional_id", professionalID.String()).Msg("slot cache invalidation failed")
	}
}

// -- Reminders --

// DueForReminder lists open appointments starting within window from now
// that have not been reminded yet.
func (s *Service) DueForReminder(ctx context.Context, window time.Duration) ([]*Appointment, error) {
	now := s.now()
	return s.appts.DueForReminder(ctx, now, now.Add(window))
}

func (s *Service) MarkReminded(ctx context.Context, id uuid.UUID) error {
	return s.appts.MarkReminded(ctx, id, s.now())
}

func validStatus(st string) bool {
	switch st {
	case StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}
