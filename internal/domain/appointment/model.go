package appointment

import (
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return st, true
	}
	return "", false
}

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Appointment is a patient's booking request at a clinic.
type Appointment struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patientId"`
	PatientName string    `json:"patientName"`
	ClinicID    string    `json:"clinicId"`
	ClinicName  string    `json:"clinicName"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	Reason      string    `json:"reason"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// BookRequest is the input to Book.
type BookRequest struct {
	ClinicID string `json:"clinicId"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Reason   string `json:"reason"`
}
