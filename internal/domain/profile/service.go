package profile

import (
	"context"
	"strings"
	"time"

	"github.com/medicheck/medicheck/internal/platform/apperr"
	"github.com/medicheck/medicheck/internal/platform/changefeed"
)

const (
	maxClinicImages = 10
	maxNameLength   = 255
)

type Service struct {
	repo Repository
	feed changefeed.Publisher
	now  func() time.Time
}

func NewService(repo Repository, feed changefeed.Publisher) *Service {
	return &Service{repo: repo, feed: feed, now: time.Now}
}

// Register creates the profile for a new identity. Clinics start with empty
// clinic details; doctors keep the specialization given at sign-up.
func (s *Service) Register(ctx context.Context, p *Profile) error {
	if err := s.Validate(p); err != nil {
		return err
	}
	now := s.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}
	changefeed.Notify(ctx, s.feed, changefeed.NewChange(changefeed.Profiles, changefeed.OpInsert, p.ID, "id", p.ID, "role", string(p.Role)))
	return nil
}

// Validate normalizes p and checks it could be registered, without storing
// anything.
func (s *Service) Validate(p *Profile) error {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return apperr.Invalid("id is required")
	}
	if !ValidID(p.ID) {
		return apperr.Invalid("id may not contain %q", IDSeparator)
	}
	role, ok := ParseRole(string(p.Role))
	if !ok {
		return apperr.Invalid("role must be PATIENT, DOCTOR or CLINIC")
	}
	p.Role = role
	return s.normalize(p)
}

// CreateSelf registers the caller's own profile. Used when identities come
// from an external provider and the profile is created on first login.
func (s *Service) CreateSelf(ctx context.Context, caller Caller, p *Profile) error {
	if caller.Role != "" && p.Role != "" && !strings.EqualFold(string(p.Role), string(caller.Role)) {
		return apperr.Invalid("role %s does not match the authenticated role %s", p.Role, caller.Role)
	}
	if p.Role == "" {
		p.Role = caller.Role
	}
	p.ID = caller.ID
	return s.Register(ctx, p)
}

func (s *Service) Get(ctx context.Context, id string) (*Profile, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateSelf replaces the caller's profile payload. The role and creation
// time are kept from the stored record.
func (s *Service) UpdateSelf(ctx context.Context, caller Caller, p *Profile) error {
	existing, err := s.repo.GetByID(ctx, caller.ID)
	if err != nil {
		return err
	}
	if p.ID != "" && p.ID != caller.ID {
		return apperr.Unauthorized("profiles can only be edited by their owner")
	}
	if p.Role != "" && p.Role != existing.Role {
		return apperr.Invalid("role cannot be changed")
	}
	p.ID = existing.ID
	p.Role = existing.Role
	p.CreatedAt = existing.CreatedAt
	if p.Email == "" {
		p.Email = existing.Email
	}
	if err := s.normalize(p); err != nil {
		return err
	}
	p.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	changefeed.Notify(ctx, s.feed, changefeed.NewChange(changefeed.Profiles, changefeed.OpUpdate, p.ID, "id", p.ID, "role", string(p.Role)))
	return nil
}

// Directory lists doctors or clinics for browsing.
func (s *Service) Directory(ctx context.Context, role Role, limit, offset int) ([]*Profile, int, error) {
	if _, ok := ParseRole(string(role)); !ok {
		return nil, 0, apperr.Invalid("role must be PATIENT, DOCTOR or CLINIC")
	}
	return s.repo.ListByRole(ctx, role, limit, offset)
}

// RequireRole loads id and checks that it holds role.
func (s *Service) RequireRole(ctx context.Context, id string, role Role) (*Profile, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Role != role {
		return nil, apperr.Invalid("%s is not a %s", id, strings.ToLower(string(role)))
	}
	return p, nil
}

func (s *Service) normalize(p *Profile) error {
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	if p.DisplayName == "" {
		return apperr.Invalid("displayName is required")
	}
	if len(p.DisplayName) > maxNameLength {
		return apperr.Invalid("displayName is too long")
	}
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.PhoneNumber = strings.TrimSpace(p.PhoneNumber)

	switch p.Role {
	case RolePatient:
		if p.Doctor != nil || p.Clinic != nil {
			return apperr.Invalid("a patient profile only carries medicalProfile")
		}
	case RoleDoctor:
		if p.Medical != nil || p.Clinic != nil {
			return apperr.Invalid("a doctor profile only carries doctorProfile")
		}
		if p.Doctor != nil {
			if p.Doctor.Experience < 0 {
				return apperr.Invalid("experience cannot be negative")
			}
			p.Doctor.Specialization = strings.TrimSpace(p.Doctor.Specialization)
			p.Doctor.SmallClinics = compact(p.Doctor.SmallClinics)
		}
	case RoleClinic:
		if p.Medical != nil || p.Doctor != nil {
			return apperr.Invalid("a clinic profile only carries clinicDetails")
		}
		if p.Clinic != nil {
			if len(p.Clinic.Images) > maxClinicImages {
				return apperr.Invalid("at most %d clinic images", maxClinicImages)
			}
			p.Clinic.Facilities = compact(p.Clinic.Facilities)
			p.Clinic.Staff = compact(p.Clinic.Staff)
		}
	}
	p.withDefaults()
	return nil
}

// compact trims entries and drops empty ones.
func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
