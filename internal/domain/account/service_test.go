package account

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/medicheck/medicheck/internal/domain/profile"
	"github.com/medicheck/medicheck/internal/platform/apperr"
	"github.com/medicheck/medicheck/internal/platform/auth"
	"github.com/medicheck/medicheck/internal/platform/changefeed"
	"github.com/medicheck/medicheck/internal/platform/db"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type revokeRecorder struct {
	jti string
	exp time.Time
}

func (r *revokeRecorder) Revoke(jti string, exp time.Time) {
	r.jti, r.exp = jti, exp
}

func newTestService() (*Service, *profile.Service, *revokeRecorder) {
	profiles := profile.NewService(profile.NewRepoMem(), changefeed.Discard{})
	rev := &revokeRecorder{}
	issuer := auth.NewTokenIssuer(testKey, "medicheck", "", time.Hour)
	svc := NewService(NewRepoMem(), profiles, db.NoTx{}, issuer, rev)
	svc.cost = bcrypt.MinCost
	return svc, profiles, rev
}

func parse(t *testing.T, token string) *auth.Claims {
	t.Helper()
	claims := &auth.Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) { return testKey, nil })
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	return claims
}

func TestRegister_CreatesAccountAndProfile(t *testing.T) {
	svc, profiles, _ := newTestService()
	ctx := context.Background()

	sess, err := svc.Register(ctx, RegisterRequest{
		Email:          " Rao@Example.com ",
		Password:       "secret1",
		Role:           "doctor",
		DisplayName:    "Dr. Rao",
		Specialization: "Cardiology",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if sess.Role != profile.RoleDoctor || sess.TokenType != "Bearer" {
		t.Errorf("unexpected session %+v", sess)
	}
	claims := parse(t, sess.AccessToken)
	if claims.Subject != sess.UserID || len(claims.Roles) != 1 || claims.Roles[0] != "DOCTOR" {
		t.Errorf("unexpected claims %+v", claims)
	}

	p, err := profiles.Get(ctx, sess.UserID)
	if err != nil {
		t.Fatalf("profile not created: %v", err)
	}
	if p.Email != "rao@example.com" || p.Doctor == nil || p.Doctor.Specialization != "Cardiology" {
		t.Errorf("unexpected profile %+v", p)
	}
}

func TestRegister_ClinicGetsEmptyDetails(t *testing.T) {
	svc, profiles, _ := newTestService()
	sess, err := svc.Register(context.Background(), RegisterRequest{Email: "c@x.test", Password: "secret1", Role: "CLINIC", DisplayName: "Sunrise"})
	if err != nil {
		t.Fatal(err)
	}
	p, _ := profiles.Get(context.Background(), sess.UserID)
	if p.Clinic == nil || p.Clinic.Facilities == nil {
		t.Errorf("expected empty clinic details, got %+v", p.Clinic)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name string
		in   RegisterRequest
		want error
	}{
		{"missing email", RegisterRequest{Password: "secret1", Role: "PATIENT", DisplayName: "A"}, apperr.ErrInvalid},
		{"bad email", RegisterRequest{Email: "not-an-email", Password: "secret1", Role: "PATIENT", DisplayName: "A"}, apperr.ErrInvalid},
		{"short password", RegisterRequest{Email: "a@x.test", Password: "12345", Role: "PATIENT", DisplayName: "A"}, apperr.ErrInvalid},
		{"bad role", RegisterRequest{Email: "a@x.test", Password: "secret1", Role: "NURSE", DisplayName: "A"}, apperr.ErrInvalid},
		{"missing name", RegisterRequest{Email: "a@x.test", Password: "secret1", Role: "PATIENT"}, apperr.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRegister_InvalidProfileLeavesNoAccount(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	in := RegisterRequest{Email: "a@x.test", Password: "secret1", Role: "PATIENT", DisplayName: strings.Repeat("a", 300)}
	if _, err := svc.Register(ctx, in); !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("expected Invalid for a long name, got %v", err)
	}

	in.DisplayName = "Asha"
	if _, err := svc.Register(ctx, in); err != nil {
		t.Fatalf("Register after a rejected attempt: %v", err)
	}
	if _, err := svc.Login(ctx, LoginRequest{Email: "a@x.test", Password: "secret1"}); err != nil {
		t.Errorf("Login: %v", err)
	}
}

type failingProfiles struct {
	*profile.Service
}

func (failingProfiles) Register(context.Context, *profile.Profile) error {
	return errors.New("profile store unavailable")
}

func TestRegister_ProfileStoreFailureRemovesAccount(t *testing.T) {
	svc, profiles, _ := newTestService()
	svc.profiles = failingProfiles{profiles}
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterRequest{Email: "a@x.test", Password: "secret1", Role: "PATIENT", DisplayName: "Asha"}); err == nil {
		t.Fatal("expected the profile failure to surface")
	}
	if _, err := svc.repo.GetByEmail(ctx, "a@x.test"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected no account to remain, got %v", err)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	in := RegisterRequest{Email: "a@x.test", Password: "secret1", Role: "PATIENT", DisplayName: "Asha"}
	if _, err := svc.Register(ctx, in); err != nil {
		t.Fatal(err)
	}
	in.Email = "A@X.test"
	if _, err := svc.Register(ctx, in); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected Conflict, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	reg, err := svc.Register(ctx, RegisterRequest{Email: "a@x.test", Password: "secret1", Role: "PATIENT", DisplayName: "Asha"})
	if err != nil {
		t.Fatal(err)
	}

	sess, err := svc.Login(ctx, LoginRequest{Email: "A@x.test", Password: "secret1"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.UserID != reg.UserID || sess.Profile.DisplayName != "Asha" {
		t.Errorf("unexpected session %+v", sess)
	}

	for _, in := range []LoginRequest{
		{Email: "a@x.test", Password: "wrong-password"},
		{Email: "nobody@x.test", Password: "secret1"},
	} {
		if _, err := svc.Login(ctx, in); !errors.Is(err, apperr.ErrUnauthenticated) {
			t.Errorf("%s: expected Unauthenticated, got %v", in.Email, err)
		}
	}
}

func TestLogout_RevokesToken(t *testing.T) {
	svc, _, rev := newTestService()
	exp := time.Now().Add(time.Hour)
	ctx := context.WithValue(context.Background(), auth.TokenIDKey, "jti-1")
	ctx = context.WithValue(ctx, auth.ExpiresAtKey, exp)

	if err := svc.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if rev.jti != "jti-1" {
		t.Errorf("expected jti-1 to be revoked, got %q", rev.jti)
	}
	if err := svc.Logout(context.Background()); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected Invalid without a token, got %v", err)
	}
}
