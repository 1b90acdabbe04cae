package exchange

import (
	"strings"
	"time"
)

type Urgency string

const (
	UrgencyLow      Urgency = "Low"
	UrgencyMedium   Urgency = "Medium"
	UrgencyHigh     Urgency = "High"
	UrgencyCritical Urgency = "Critical"
)

// ParseUrgency accepts the four levels case-insensitively.
func ParseUrgency(s string) (Urgency, bool) {
	for _, u := range []Urgency{UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical} {
		if strings.EqualFold(strings.TrimSpace(s), string(u)) {
			return u, true
		}
	}
	return "", false
}

// Assessment is the outcome of a symptom analysis, filed as part of a report.
type Assessment struct {
	Analysis           string   `json:"analysis"`
	PossibleConditions []string `json:"possibleConditions"`
	Urgency            Urgency  `json:"urgency"`
	Advice             string   `json:"advice"`
}

// Report is a patient's diagnostic report. SharedWith is fixed when the
// report is filed; only ReadBy grows afterwards.
type Report struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patientId"`
	PatientName string    `json:"patientName"`
	Symptoms    string    `json:"symptoms"`
	Assessment
	Timestamp  time.Time `json:"timestamp"`
	SharedWith []string  `json:"sharedWith"`
	ReadBy     []string  `json:"readBy"`
}

func (r *Report) SharedWithDoctor(doctorID string) bool {
	return contains(r.SharedWith, doctorID)
}

func (r *Report) ReadByDoctor(doctorID string) bool {
	return contains(r.ReadBy, doctorID)
}

// Message is advice sent by a doctor to a patient.
type Message struct {
	ID          string    `json:"id"`
	DoctorID    string    `json:"doctorId"`
	DoctorName  string    `json:"doctorName"`
	PatientID   string    `json:"patientId"`
	PatientName string    `json:"patientName"`
	Content     string    `json:"content"`
	ReportID    string    `json:"reportId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Read        bool      `json:"read"`
}

// History is what a doctor sees about one patient.
type History struct {
	PatientID  string     `json:"patientId"`
	WindowDays int        `json:"windowDays"`
	Reports    []*Report  `json:"reports"`
	Advice     []*Message `json:"advice"`
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
