package realtime

import (
	"github.com/medicheck/medicheck/internal/domain/appointment"
	"github.com/medicheck/medicheck/internal/domain/connection"
	"github.com/medicheck/medicheck/internal/domain/exchange"
	"github.com/medicheck/medicheck/internal/domain/profile"
)

// badges derives the counters from the latest snapshot of each section.
func (d *Dashboard) badges() map[string]int {
	id := d.sess.Caller.ID
	switch d.sess.Caller.Role {
	case profile.RolePatient:
		requests := itemsOf[*connection.Request](d, SectionRequests)
		return map[string]int{
			"unreadMessages": count(itemsOf[*exchange.Message](d, SectionInbox), func(m *exchange.Message) bool { return !m.Read }),
			"connectedDoctors": count(requests, func(r *connection.Request) bool {
				return r.Status == connection.StatusAccepted && r.ToRole == profile.RoleDoctor
			}),
			"pendingRequests":     count(requests, func(r *connection.Request) bool { return r.Status == connection.StatusPending }),
			"pendingAppointments": count(itemsOf[*appointment.Appointment](d, SectionAppointments), pendingAppointment),
		}
	case profile.RoleDoctor:
		return map[string]int{
			"unreadReports":   count(itemsOf[*exchange.Report](d, SectionShared), func(r *exchange.Report) bool { return !r.ReadByDoctor(id) }),
			"pendingRequests": len(itemsOf[*connection.Request](d, SectionPending)),
			"connectedPatients": count(itemsOf[*connection.Request](d, SectionPatients), func(r *connection.Request) bool {
				return r.FromRole == profile.RolePatient
			}),
			"clinicAffiliations": count(itemsOf[*connection.Request](d, SectionClinics), func(r *connection.Request) bool {
				return r.Status == connection.StatusAccepted
			}),
		}
	case profile.RoleClinic:
		assoc := itemsOf[*connection.Request](d, SectionAssociations)
		return map[string]int{
			"pendingAppointments": count(itemsOf[*appointment.Appointment](d, SectionAppointments), pendingAppointment),
			"pendingAssociations": count(assoc, func(r *connection.Request) bool { return r.Status == connection.StatusPending }),
			"activeStaff":         count(assoc, func(r *connection.Request) bool { return r.Status == connection.StatusAccepted }),
		}
	}
	return map[string]int{}
}

func pendingAppointment(a *appointment.Appointment) bool {
	return a.Status == appointment.StatusPending
}

func count[T any](items []T, pred func(T) bool) int {
	n := 0
	for _, it := range items {
		if pred(it) {
			n++
		}
	}
	return n
}
