package account

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/medicheck/medicheck/internal/domain/profile"
	"github.com/medicheck/medicheck/internal/platform/apperr"
	"github.com/medicheck/medicheck/internal/platform/auth"
	"github.com/medicheck/medicheck/internal/platform/db"
)

const minPasswordLength = 6

// Profiles creates and loads the profile that goes with an account.
type Profiles interface {
	Validate(p *profile.Profile) error
	Register(ctx context.Context, p *profile.Profile) error
	Get(ctx context.Context, id string) (*profile.Profile, error)
}

// Revoker invalidates a token before it expires.
type Revoker interface {
	Revoke(jti string, expiresAt time.Time)
}

// Session is returned on registration and login.
type Session struct {
	*auth.Token
	Profile *profile.Profile `json:"profile,omitempty"`
	UserID  string           `json:"user_id"`
	Role    profile.Role     `json:"role"`
}

type Service struct {
	repo     Repository
	profiles Profiles
	tx       db.Transactor
	issuer   *auth.TokenIssuer
	revoker  Revoker
	cost     int
	now      func() time.Time
}

func NewService(repo Repository, profiles Profiles, tx db.Transactor, issuer *auth.TokenIssuer, revoker Revoker) *Service {
	return &Service{
		repo:     repo,
		profiles: profiles,
		tx:       tx,
		issuer:   issuer,
		revoker:  revoker,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
}

// Register creates the account and its profile together and signs the
// caller in.
func (s *Service) Register(ctx context.Context, in RegisterRequest) (*Session, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if len(in.Password) < minPasswordLength {
		return nil, apperr.Invalid("password must be at least %d characters", minPasswordLength)
	}
	role, ok := profile.ParseRole(string(in.Role))
	if !ok {
		return nil, apperr.Invalid("role must be PATIENT, DOCTOR or CLINIC")
	}
	p := &profile.Profile{
		ID:          uuid.NewString(),
		Role:        role,
		DisplayName: in.DisplayName,
		Email:       email,
		PhoneNumber: in.PhoneNumber,
	}
	if role == profile.RoleDoctor {
		p.Doctor = &profile.DoctorCredentials{Specialization: in.Specialization}
	}
	if err := s.profiles.Validate(p); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, err
	}

	acct := &Account{ID: p.ID, Email: email, PasswordHash: string(hash), Role: role, CreatedAt: s.now().UTC()}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, acct); err != nil {
			return err
		}
		if err := s.profiles.Register(ctx, p); err != nil {
			// Without a transaction the account row would outlive the failure.
			if db.TxFromContext(ctx) == nil {
				if derr := s.repo.Delete(ctx, acct.ID); derr != nil {
					zerolog.Ctx(ctx).Error().Err(derr).Str("user_id", acct.ID).Msg("remove account after failed profile")
				}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("user_id", acct.ID).Str("role", string(role)).Msg("account registered")
	return s.session(acct, p)
}

// Login checks the password and issues a token. Unknown emails and wrong
// passwords fail the same way.
func (s *Service) Login(ctx context.Context, in LoginRequest) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	acct, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.Unauthenticated("invalid email or password")
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(in.Password)) != nil {
		return nil, apperr.Unauthenticated("invalid email or password")
	}
	p, err := s.profiles.Get(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	return s.session(acct, p)
}

// Logout revokes the token the request was made with.
func (s *Service) Logout(ctx context.Context) error {
	jti, exp := auth.TokenIDFromContext(ctx)
	if jti == "" {
		return apperr.Invalid("no token to revoke")
	}
	if s.revoker != nil {
		s.revoker.Revoke(jti, exp)
	}
	return nil
}

func (s *Service) session(acct *Account, p *profile.Profile) (*Session, error) {
	tok, err := s.issuer.Issue(acct.ID, string(acct.Role), p.DisplayName)
	if err != nil {
		return nil, err
	}
	return &Session{Token: tok, Profile: p, UserID: acct.ID, Role: acct.Role}, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperr.Invalid("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Invalid("email is not valid")
	}
	return email, nil
}
