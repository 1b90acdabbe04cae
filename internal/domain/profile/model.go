package profile

import (
	"strings"
	"time"
)

type Role string

const (
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "DOCTOR"
	RoleClinic  Role = "CLINIC"
)

func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RolePatient, RoleDoctor, RoleClinic:
		return r, true
	}
	return "", false
}

// IDSeparator joins identity ids in composite record ids, so identity ids
// may not contain it.
const IDSeparator = "_"

// ValidID reports whether id can name an identity.
func ValidID(id string) bool {
	return id != "" && !strings.Contains(id, IDSeparator)
}

// Caller is the authenticated identity an operation runs on behalf of.
type Caller struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Profile is one identity. Exactly one of Medical, Doctor and Clinic is set,
// the one matching Role.
type Profile struct {
	ID          string             `json:"id" bson:"_id"`
	Role        Role               `json:"role" bson:"role"`
	DisplayName string             `json:"displayName" bson:"displayName"`
	Email       string             `json:"email" bson:"email"`
	PhoneNumber string             `json:"phoneNumber,omitempty" bson:"phoneNumber,omitempty"`
	Medical     *MedicalProfile    `json:"medicalProfile,omitempty" bson:"medicalProfile,omitempty"`
	Doctor      *DoctorCredentials `json:"doctorProfile,omitempty" bson:"doctorProfile,omitempty"`
	Clinic      *ClinicDetails     `json:"clinicDetails,omitempty" bson:"clinicDetails,omitempty"`
	CreatedAt   time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt" bson:"updatedAt"`
}

type MedicalProfile struct {
	DOB               string `json:"dob,omitempty" bson:"dob,omitempty"`
	Gender            string `json:"gender,omitempty" bson:"gender,omitempty"`
	BloodGroup        string `json:"bloodGroup,omitempty" bson:"bloodGroup,omitempty"`
	Allergies         string `json:"allergies,omitempty" bson:"allergies,omitempty"`
	ChronicConditions string `json:"chronicConditions,omitempty" bson:"chronicConditions,omitempty"`
}

type DoctorCredentials struct {
	Specialization string   `json:"specialization" bson:"specialization"`
	Education      string   `json:"education,omitempty" bson:"education,omitempty"`
	Experience     int      `json:"experience" bson:"experience"`
	Hospital       string   `json:"hospital,omitempty" bson:"hospital,omitempty"`
	SmallClinics   []string `json:"smallClinics" bson:"smallClinics"`
}

type ClinicDetails struct {
	Facilities  []string `json:"facilities" bson:"facilities"`
	Staff       []string `json:"staff" bson:"staff"`
	Images      []string `json:"images" bson:"images"`
	Location    string   `json:"location" bson:"location"`
	Description string   `json:"description" bson:"description"`
}

// Details returns the variant matching the role, for storage as one document.
func (p *Profile) Details() interface{} {
	switch p.Role {
	case RolePatient:
		return p.Medical
	case RoleDoctor:
		return p.Doctor
	case RoleClinic:
		return p.Clinic
	}
	return nil
}

// withDefaults fills in the empty payload for the role and clears the others.
func (p *Profile) withDefaults() {
	switch p.Role {
	case RolePatient:
		if p.Medical == nil {
			p.Medical = &MedicalProfile{}
		}
		p.Doctor, p.Clinic = nil, nil
	case RoleDoctor:
		if p.Doctor == nil {
			p.Doctor = &DoctorCredentials{}
		}
		if p.Doctor.SmallClinics == nil {
			p.Doctor.SmallClinics = []string{}
		}
		p.Medical, p.Clinic = nil, nil
	case RoleClinic:
		if p.Clinic == nil {
			p.Clinic = &ClinicDetails{}
		}
		c := p.Clinic
		if c.Facilities == nil {
			c.Facilities = []string{}
		}
		if c.Staff == nil {
			c.Staff = []string{}
		}
		if c.Images == nil {
			c.Images = []string{}
		}
		p.Medical, p.Doctor = nil, nil
	}
}

// Summary is the directory entry shown when browsing doctors or clinics.
type Summary struct {
	ID             string `json:"id"`
	Role           Role   `json:"role"`
	DisplayName    string `json:"displayName"`
	Specialization string `json:"specialization,omitempty"`
	Location       string `json:"location,omitempty"`
}

func (p *Profile) Summary() Summary {
	s := Summary{ID: p.ID, Role: p.Role, DisplayName: p.DisplayName}
	if p.Doctor != nil {
		s.Specialization = p.Doctor.Specialization
	}
	if p.Clinic != nil {
		s.Location = p.Clinic.Location
	}
	return s
}
