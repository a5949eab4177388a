package nps

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/db"
	"github.com/fisioclinic/clinic/internal/platform/notification"
)

const maxCommentLen = 2000

// Notifier delivers a templated message to a patient.
type Notifier interface {
	Notify(ctx context.Context, patientID uuid.UUID, templateID string, data map[string]string) error
}

// AnswerHook runs after a survey is answered. Errors are logged only.
type AnswerHook func(ctx context.Context, s *Survey) error

type Service struct {
	surveys  SurveyRepository
	notifier Notifier
	baseURL  string
	hooks    []AnswerHook
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService builds survey links under baseURL, the public origin of the API.
func NewService(surveys SurveyRepository, notifier Notifier, baseURL string) *Service {
	return &Service{
		surveys:  surveys,
		notifier: notifier,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

func (s *Service) AddAnswerHook(fn AnswerHook) { s.hooks = append(s.hooks, fn) }

func newToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Link is the public answer URL of a survey.
func (s *Service) Link(ctx context.Context, sv *Survey) string {
	link := s.baseURL + "/public/nps/" + sv.Token
	if tenant := db.TenantFromContext(ctx); tenant != "" {
		link += "?tenant_id=" + url.QueryEscape(tenant)
	}
	return link
}

// Dispatch creates the survey of an appointment and sends its link. It is
// idempotent per appointment: created is false when one already exists. A
// failed delivery is logged and the survey is kept.
func (s *Service) Dispatch(ctx context.Context, patientID, appointmentID uuid.UUID) (*Survey, bool, error) {
	if existing, err := s.surveys.GetByAppointment(ctx, appointmentID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, err
	}
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}
	sv := &Survey{
		PatientID:     patientID,
		AppointmentID: appointmentID,
		Token:         token,
		SentAt:        s.now(),
	}
	if err := s.surveys.Create(ctx, sv); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			existing, getErr := s.surveys.GetByAppointment(ctx, appointmentID)
			if getErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	if s.notifier != nil {
		err := s.notifier.Notify(ctx, patientID, notification.TemplateNPSSurvey, map[string]string{"link": s.Link(ctx, sv)})
		if err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", appointmentID.String()).Msg("nps survey delivery failed")
		}
	}
	return sv, true, nil
}

// Lookup returns the survey behind a public token.
func (s *Service) Lookup(ctx context.Context, token string) (*Survey, error) {
	if token == "" {
		return nil, apperr.NotFound("survey not found")
	}
	return s.surveys.GetByToken(ctx, token)
}

// Answer records the patient's score. A survey takes one answer only.
func (s *Service) Answer(ctx context.Context, token string, score int, comment string) (*Survey, error) {
	if score < 0 || score > 10 {
		return nil, apperr.Invalid("score must be between 0 and 10")
	}
	comment = strings.TrimSpace(comment)
	if len(comment) > maxCommentLen {
		return nil, apperr.Invalid("comment is too long")
	}
	sv, err := s.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if sv.Answered() {
		return nil, apperr.Conflict("survey already answered")
	}
	now := s.now()
	sv.AnsweredAt = &now
	sv.Score = &score
	if comment != "" {
		sv.Comment = &comment
	}
	if err := s.surveys.Answer(ctx, sv); err != nil {
		return nil, err
	}
	for _, hook := range s.hooks {
		if err := hook(ctx, sv); err != nil {
			s.logger.Error().Err(err).Str("survey_id", sv.ID.String()).Msg("nps answer hook failed")
		}
	}
	return sv, nil
}

// Summary reports NPS over surveys sent in [from, to).
func (s *Service) Summary(ctx context.Context, from, to time.Time) (*Summary, error) {
	if !from.Before(to) {
		return nil, apperr.Invalid("from must be before to")
	}
	c, err := s.surveys.Counts(ctx, from, to)
	if err != nil {
		return nil, err
	}
	sum := &Summary{
		From:       from,
		To:         to,
		Sent:       c.Sent,
		Answered:   c.Answered,
		Promoters:  c.Promoters,
		Passives:   c.Passives,
		Detractors: c.Detractors,
		Score:      Score(*c),
	}
	if c.Sent > 0 {
		sum.ResponseRate = float64(c.Answered) / float64(c.Sent)
	}
	return sum, nil
}

func (s *Service) ListResponses(ctx context.Context, from, to time.Time, limit, offset int) ([]*Survey, int, error) {
	if !from.Before(to) {
		return nil, 0, apperr.Invalid("from must be before to")
	}
	return s.surveys.ListAnswered(ctx, from, to, limit, offset)
}
