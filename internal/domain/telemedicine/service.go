package telemedicine

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fisioclinic/clinic/internal/domain/scheduling"
	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/db"
)

// AppointmentReader is the part of the scheduling service sessions need.
type AppointmentReader interface {
	Get(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

// LinkNotifier delivers a guest join link to the patient.
type LinkNotifier func(ctx context.Context, s *Session, appt *scheduling.Appointment, link string) error

type Service struct {
	sessions SessionRepository
	appts    AppointmentReader
	signer   *RoomSigner
	baseURL  string
	notify   LinkNotifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(sessions SessionRepository, appts AppointmentReader, signer *RoomSigner, baseURL string) *Service {
	return &Service{
		sessions: sessions,
		appts:    appts,
		signer:   signer,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
}

func (s *Service) SetNotifier(fn LinkNotifier) { s.notify = fn }

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

var roomEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func newRoom() (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToLower(roomEncoding.EncodeToString(b)), nil
}

// CreateForAppointment opens the room of a telemedicine appointment. A
// second call for the same appointment returns the existing session.
func (s *Service) CreateForAppointment(ctx context.Context, appointmentID uuid.UUID) (*Session, error) {
	appt, err := s.appts.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Kind != scheduling.KindTelemedicine {
		return nil, apperr.Invalid("appointment %s is not a telemedicine appointment", appointmentID)
	}
	if scheduling.IsTerminal(appt.Status) {
		return nil, apperr.Conflict("appointment is %s", appt.Status)
	}
	if existing, err := s.sessions.GetByAppointment(ctx, appointmentID); err == nil {
		return existing, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	room, err := newRoom()
	if err != nil {
		return nil, err
	}
	sess := &Session{
		AppointmentID:  appt.ID,
		PatientID:      appt.PatientID,
		ProfessionalID: appt.ProfessionalID,
		Room:           room,
		Status:         StatusCreated,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	return s.sessions.GetByID(ctx, id)
}

func (s *Service) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Session, error) {
	return s.sessions.GetByAppointment(ctx, appointmentID)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Session, int, error) {
	switch f.Status {
	case "", StatusCreated, StatusLive, StatusEnded, StatusCancelled:
	default:
		return nil, 0, apperr.Invalid("invalid status: %s", f.Status)
	}
	return s.sessions.List(ctx, f, limit, offset)
}

// IssueJoin signs a join token for one participant of the session.
func (s *Service) IssueJoin(ctx context.Context, id uuid.UUID, role string) (*Join, error) {
	if role != RoleHost && role != RoleGuest {
		return nil, apperr.Invalid("role must be host or guest")
	}
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Closed() {
		return nil, apperr.Conflict("session is %s", sess.Status)
	}
	subject := sess.PatientID
	if role == RoleHost {
		subject = sess.ProfessionalID
	}
	tenant := db.TenantFromContext(ctx)
	claims := JoinClaims{Room: sess.Room, Role: role, TenantID: tenant}
	claims.Subject = subject.String()
	claims.ID = uuid.NewString()
	token, exp, err := s.signer.sign(claims, s.now())
	if err != nil {
		return nil, err
	}
	// The room page passes tenant_id back to /public/telemedicine/verify.
	q := url.Values{"token": {token}}
	if tenant != "" {
		q.Set("tenant_id", tenant)
	}
	return &Join{
		SessionID: sess.ID,
		Room:      sess.Room,
		Role:      role,
		Token:     token,
		URL:       s.baseURL + "/room/" + sess.Room + "?" + q.Encode(),
		ExpiresAt: exp,
	}, nil
}

// VerifyJoin checks a room token and returns the session it opens.
func (s *Service) VerifyJoin(ctx context.Context, token string) (*JoinClaims, *Session, error) {
	claims, err := s.signer.parse(token, s.now())
	if err != nil {
		return nil, nil, apperr.Forbidden("invalid or expired room token")
	}
	if tenant := db.TenantFromContext(ctx); claims.TenantID != "" && tenant != "" && claims.TenantID != tenant {
		return nil, nil, apperr.Forbidden("room token belongs to another clinic")
	}
	sess, err := s.sessions.GetByRoom(ctx, claims.Room)
	if err != nil {
		return nil, nil, err
	}
	if sess.Closed() {
		return nil, nil, apperr.Conflict("session is %s", sess.Status)
	}
	return claims, sess, nil
}

// SendLink issues a guest token and hands the link to the notifier.
func (s *Service) SendLink(ctx context.Context, id uuid.UUID) (*Join, error) {
	if s.notify == nil {
		return nil, apperr.Invalid("link delivery is not configured")
	}
	join, err := s.IssueJoin(ctx, id, RoleGuest)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	appt, err := s.appts.Get(ctx, sess.AppointmentID)
	if err != nil {
		return nil, err
	}
	if err := s.notify(ctx, sess, appt, join.URL); err != nil {
		return nil, err
	}
	return join, nil
}

func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == StatusLive {
		return sess, nil
	}
	if sess.Status != StatusCreated {
		return nil, apperr.Conflict("session is %s", sess.Status)
	}
	now := s.now()
	sess.Status = StatusLive
	sess.StartedAt = &now
	if err := s.sessions.Update(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// End closes a live session and records how long it lasted.
func (s *Service) End(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusLive {
		return nil, apperr.Conflict("only live sessions can end, session is %s", sess.Status)
	}
	now := s.now()
	secs := int(now.Sub(*sess.StartedAt).Seconds())
	if secs < 0 {
		secs = 0
	}
	sess.Status = StatusEnded
	sess.EndedAt = &now
	sess.DurationSeconds = &secs
	if err := s.sessions.Update(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info().Str("session_id", sess.ID.String()).Int("duration_seconds", secs).Msg("telemedicine session ended")
	return sess, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusCreated {
		return nil, apperr.Conflict("only sessions that have not started can be cancelled, session is %s", sess.Status)
	}
	sess.Status = StatusCancelled
	if err := s.sessions.Update(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}
