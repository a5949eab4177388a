package staff

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/auth"
	"github.com/fisioclinic/clinic/internal/platform/db"
	"github.com/fisioclinic/clinic/pkg/textnorm"
)

const minPasswordLen = 8

// ErrInvalidCredentials is returned by Authenticate for an unknown email or a
// wrong password, without telling the two apart.
var ErrInvalidCredentials = errors.New("invalid email or password")

// SessionRevoker ends issued staff sessions before their expiry.
type SessionRevoker interface {
	RevokeUser(ctx context.Context, tenantID, userID string) error
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
}

type Service struct {
	repo     Repository
	cost     int
	sessions SessionRevoker
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, cost: bcrypt.DefaultCost}
}

// SetSessionRevoker makes Deactivate and Logout end open sessions.
func (s *Service) SetSessionRevoker(r SessionRevoker) { s.sessions = r }

func (s *Service) validate(p *Professional) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return apperr.Invalid("name is required")
	}
	p.Email = textnorm.Email(p.Email)
	if _, err := mail.ParseAddress(p.Email); err != nil {
		return apperr.Invalid("invalid email %q", p.Email)
	}
	if !auth.ValidRole(p.Role) {
		return apperr.Invalid("invalid role %q", p.Role)
	}
	if p.Role == auth.RolePhysiotherapist && (p.Crefito == nil || strings.TrimSpace(*p.Crefito) == "") {
		return apperr.Invalid("crefito is required for physiotherapists")
	}
	return nil
}

func (s *Service) hash(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", apperr.Invalid("password must have at least %d characters", minPasswordLen)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (s *Service) Create(ctx context.Context, p *Professional, password string) error {
	if err := s.validate(p); err != nil {
		return err
	}
	h, err := s.hash(password)
	if err != nil {
		return err
	}
	p.PasswordHash = h
	p.Active = true
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Professional, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Professional, int, error) {
	if f.Role != "" && !auth.ValidRole(f.Role) {
		return nil, 0, apperr.Invalid("invalid role %q", f.Role)
	}
	return s.repo.List(ctx, f, limit, offset)
}

// Update replaces the editable fields. Password and active flag are kept.
func (s *Service) Update(ctx context.Context, p *Professional) error {
	existing, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if err := s.validate(p); err != nil {
		return err
	}
	p.Active = existing.Active
	p.PasswordHash = existing.PasswordHash
	p.CreatedAt = existing.CreatedAt
	return s.repo.Update(ctx, p)
}

func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	p.Active = false
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	if s.sessions == nil {
		return nil
	}
	return s.sessions.RevokeUser(ctx, db.TenantFromContext(ctx), id.String())
}

// Logout revokes the session token identified by jti.
func (s *Service) Logout(ctx context.Context, jti string, expiresAt time.Time) error {
	if s.sessions == nil || jti == "" {
		return nil
	}
	return s.sessions.RevokeToken(ctx, jti, expiresAt)
}

func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, current, next string) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(current)) != nil {
		return apperr.Forbidden("current password does not match")
	}
	h, err := s.hash(next)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, id, h)
}

func (s *Service) Authenticate(ctx context.Context, email, password string) (*Professional, error) {
	p, err := s.repo.GetByEmail(ctx, textnorm.Email(email))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if !p.Active {
		return nil, apperr.Forbidden("professional %s is inactive", p.Email)
	}
	return p, nil
}
