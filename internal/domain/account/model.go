package account

import (
	"time"

	"github.com/medicheck/medicheck/internal/domain/profile"
)

// Account holds the password credentials of an identity in standalone mode.
type Account struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"`
	Role         profile.Role `json:"role"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// RegisterRequest mirrors the sign-up form.
type RegisterRequest struct {
	Email          string       `json:"email"`
	Password       string       `json:"password"`
	Role           profile.Role `json:"role"`
	DisplayName    string       `json:"displayName"`
	PhoneNumber    string       `json:"phoneNumber,omitempty"`
	Specialization string       `json:"specialization,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
