package connection

import (
	"strings"
	"time"

	"github.com/medicheck/medicheck/internal/domain/profile"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	// StatusRejected is reported to callers but never stored; rejecting
	// deletes the request.
	StatusRejected Status = "REJECTED"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusAccepted:
		return st, true
	}
	return "", false
}

const (
	DefaultStaffTag = "Staff"
	maxTagLength    = 64
	clinicIDPrefix  = "DR_TO_CLINIC_"
)

// KnownStaffTags are offered by the clinic dashboard. Any other short label
// is accepted too.
var KnownStaffTags = []string{"Owner", "Lead Doctor", "Consultant", "Nurse", "Admin", "Intern"}

// adminTags let a doctor act for the clinic on association requests.
var adminTags = map[string]bool{"Owner": true, "Admin": true}

// Request is a directed relationship proposal, patient to doctor or doctor
// to clinic.
type Request struct {
	ID        string       `json:"id"`
	FromID    string       `json:"fromId"`
	FromName  string       `json:"fromName"`
	FromRole  profile.Role `json:"fromRole"`
	ToID      string       `json:"toId"`
	ToName    string       `json:"toName"`
	ToRole    profile.Role `json:"toRole"`
	Status    Status       `json:"status"`
	MemberTag string       `json:"memberTag,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// IsClinicEdge reports whether the request associates a doctor with a clinic.
func (r *Request) IsClinicEdge() bool {
	return r.ToRole == profile.RoleClinic
}

// RequestID derives the id for a proposal, so that the same ordered pair
// always maps to the same record.
func RequestID(fromRole profile.Role, fromID, toID string) string {
	if fromRole == profile.RoleDoctor {
		return clinicIDPrefix + fromID + profile.IDSeparator + toID
	}
	return fromID + profile.IDSeparator + toID
}

// allowedTarget returns the role a proposal from role must address.
func allowedTarget(from profile.Role) (profile.Role, bool) {
	switch from {
	case profile.RolePatient:
		return profile.RoleDoctor, true
	case profile.RoleDoctor:
		return profile.RoleClinic, true
	}
	return "", false
}

// Filter narrows a list. Zero values match everything.
type Filter struct {
	ToRole profile.Role
	Status Status
}

func (f Filter) match(r *Request) bool {
	if f.ToRole != "" && r.ToRole != f.ToRole {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}
