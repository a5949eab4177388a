package staff

import (
	"time"

	"github.com/google/uuid"
)

// Professional is a clinic staff member who can sign in.
type Professional struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	Role         string    `db:"role" json:"role"`
	Crefito      *string   `db:"crefito" json:"crefito,omitempty"`
	Specialty    *string   `db:"specialty" json:"specialty,omitempty"`
	Phone        *string   `db:"phone" json:"phone,omitempty"`
	Active       bool      `db:"active" json:"active"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	Role   string
	Active *bool
}
