package connection

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medicheck/medicheck/internal/domain/profile"
	"github.com/medicheck/medicheck/internal/platform/apperr"
	"github.com/medicheck/medicheck/internal/platform/changefeed"
)

// Profiles resolves the parties of a proposal.
type Profiles interface {
	Get(ctx context.Context, id string) (*profile.Profile, error)
	RequireRole(ctx context.Context, id string, role profile.Role) (*profile.Profile, error)
}

type Service struct {
	repo     Repository
	profiles Profiles
	feed     changefeed.Publisher
	now      func() time.Time
}

func NewService(repo Repository, profiles Profiles, feed changefeed.Publisher) *Service {
	return &Service{repo: repo, profiles: profiles, feed: feed, now: time.Now}
}

// Propose creates a PENDING request from the caller to toID. Proposing again
// while the request is pending returns the existing record.
func (s *Service) Propose(ctx context.Context, caller profile.Caller, toID string) (*Request, error) {
	toID = strings.TrimSpace(toID)
	if toID == "" {
		return nil, apperr.Invalid("toId is required")
	}
	if toID == caller.ID {
		return nil, apperr.Invalid("cannot connect to yourself")
	}
	if !profile.ValidID(caller.ID) || !profile.ValidID(toID) {
		return nil, apperr.Invalid("identity ids may not contain %q", profile.IDSeparator)
	}
	target, ok := allowedTarget(caller.Role)
	if !ok {
		return nil, apperr.Invalid("a %s cannot send connection requests", strings.ToLower(string(caller.Role)))
	}
	to, err := s.profiles.RequireRole(ctx, toID, target)
	if err != nil {
		return nil, err
	}
	from, err := s.profiles.Get(ctx, caller.ID)
	if err != nil {
		return nil, err
	}

	req := &Request{
		ID:        RequestID(caller.Role, caller.ID, toID),
		FromID:    caller.ID,
		FromName:  from.DisplayName,
		FromRole:  caller.Role,
		ToID:      to.ID,
		ToName:    to.DisplayName,
		ToRole:    to.Role,
		Status:    StatusPending,
		Timestamp: s.now().UTC(),
	}

	// A concurrent reject can delete the existing record between the insert
	// and the read, so retry once.
	for attempt := 0; attempt < 2; attempt++ {
		err := s.repo.Insert(ctx, req)
		if err == nil {
			s.publish(ctx, changefeed.OpInsert, req)
			zerolog.Ctx(ctx).Info().Str("request_id", req.ID).Str("to_role", string(req.ToRole)).Msg("connection proposed")
			return req, nil
		}
		if !errors.Is(err, ErrExists) {
			return nil, err
		}
		existing, err := s.repo.FindPair(ctx, req.FromID, req.ToID)
		if errors.Is(err, ErrNotFound) {
			if other, gerr := s.repo.Get(ctx, req.ID); gerr == nil && (other.FromID != req.FromID || other.ToID != req.ToID) {
				return nil, apperr.Conflict("request id %s belongs to another pair", req.ID)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if existing.Status == StatusAccepted {
			return nil, apperr.InvalidTransition("already connected")
		}
		return existing, nil
	}
	return nil, apperr.Conflict("connection request %s is changing, retry", req.ID)
}

// Accept moves a PENDING request to ACCEPTED. Clinic associations get tag,
// or the default staff tag.
func (s *Service) Accept(ctx context.Context, caller profile.Caller, id, tag string) (*Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRecipient(ctx, caller, req); err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, apperr.InvalidTransition("request %s is %s, not PENDING", id, req.Status)
	}

	tag = strings.TrimSpace(tag)
	if req.IsClinicEdge() {
		if tag == "" {
			tag = DefaultStaffTag
		}
		if err := validateTag(tag); err != nil {
			return nil, err
		}
	} else if tag != "" {
		return nil, apperr.Invalid("member tags only apply to clinic associations")
	}

	updated, err := s.repo.Transition(ctx, id, StatusPending, StatusAccepted, tag, s.now().UTC())
	if err != nil {
		return nil, s.mapWriteErr(err, id)
	}
	s.publish(ctx, changefeed.OpUpdate, updated)
	return updated, nil
}

// Reject deletes a PENDING request. The pair may propose again afterwards.
func (s *Service) Reject(ctx context.Context, caller profile.Caller, id string) error {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorizeRecipient(ctx, caller, req); err != nil {
		return err
	}
	if req.Status != StatusPending {
		return apperr.InvalidTransition("request %s is %s, not PENDING", id, req.Status)
	}
	deleted, err := s.repo.DeleteIf(ctx, id, StatusPending)
	if err != nil {
		return s.mapWriteErr(err, id)
	}
	s.publish(ctx, changefeed.OpDelete, deleted)
	return nil
}

// Revoke deletes an ACCEPTED connection. Either party may disconnect;
// authorized clinic staff may remove other staff.
func (s *Service) Revoke(ctx context.Context, caller profile.Caller, id string) error {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if caller.ID != req.FromID {
		if err := s.authorizeRecipient(ctx, caller, req); err != nil {
			return err
		}
	}
	if req.Status != StatusAccepted {
		return apperr.InvalidTransition("request %s is %s, not ACCEPTED", id, req.Status)
	}
	deleted, err := s.repo.DeleteIf(ctx, id, StatusAccepted)
	if err != nil {
		return s.mapWriteErr(err, id)
	}
	s.publish(ctx, changefeed.OpDelete, deleted)
	return nil
}

// Retag changes the member tag of an accepted clinic association.
func (s *Service) Retag(ctx context.Context, caller profile.Caller, id, tag string) (*Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.IsClinicEdge() {
		return nil, apperr.Invalid("member tags only apply to clinic associations")
	}
	if err := s.authorizeRecipient(ctx, caller, req); err != nil {
		return nil, err
	}
	tag = strings.TrimSpace(tag)
	if err := validateTag(tag); err != nil {
		return nil, err
	}
	if req.Status != StatusAccepted {
		return nil, apperr.InvalidTransition("request %s is %s, not ACCEPTED", id, req.Status)
	}
	updated, err := s.repo.SetTag(ctx, id, tag, s.now().UTC())
	if err != nil {
		return nil, s.mapWriteErr(err, id)
	}
	s.publish(ctx, changefeed.OpUpdate, updated)
	return updated, nil
}

// Get returns a request visible to either of its parties.
func (s *Service) Get(ctx context.Context, caller profile.Caller, id string) (*Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller.ID == req.FromID {
		return req, nil
	}
	if err := s.authorizeRecipient(ctx, caller, req); err != nil {
		return nil, apperr.Unauthorized("not a party to request %s", id)
	}
	return req, nil
}

// ListIncoming returns requests addressed to the caller, newest first.
func (s *Service) ListIncoming(ctx context.Context, caller profile.Caller, f Filter) ([]*Request, error) {
	return s.repo.ListTo(ctx, caller.ID, f)
}

// ListOutgoing returns requests sent by the caller, newest first.
func (s *Service) ListOutgoing(ctx context.Context, caller profile.Caller, f Filter) ([]*Request, error) {
	return s.repo.ListFrom(ctx, caller.ID, f)
}

// ListActiveStaff returns the accepted associations of the caller's clinic.
func (s *Service) ListActiveStaff(ctx context.Context, caller profile.Caller) ([]*Request, error) {
	if caller.Role != profile.RoleClinic {
		return nil, apperr.Unauthorized("only clinics have staff")
	}
	return s.repo.ListTo(ctx, caller.ID, Filter{ToRole: profile.RoleClinic, Status: StatusAccepted})
}

// ListForClinic returns the association requests addressed to clinicID,
// newest first, optionally narrowed to one status. The clinic itself and its
// Owner/Admin staff may list them.
func (s *Service) ListForClinic(ctx context.Context, caller profile.Caller, clinicID string, status Status) ([]*Request, error) {
	if caller.ID != clinicID {
		ok := false
		if caller.Role == profile.RoleDoctor {
			var err error
			if ok, err = s.isClinicAdmin(ctx, caller.ID, clinicID); err != nil {
				return nil, err
			}
		}
		if !ok {
			return nil, apperr.Unauthorized("not authorized to manage clinic %s", clinicID)
		}
	}
	return s.repo.ListTo(ctx, clinicID, Filter{ToRole: profile.RoleClinic, Status: status})
}

// ConnectedDoctorIDs returns the sorted ids of doctors that accepted the
// patient.
func (s *Service) ConnectedDoctorIDs(ctx context.Context, patientID string) ([]string, error) {
	reqs, err := s.repo.ListFrom(ctx, patientID, Filter{ToRole: profile.RoleDoctor, Status: StatusAccepted})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(reqs))
	ids := make([]string, 0, len(reqs))
	for _, r := range reqs {
		if !seen[r.ToID] {
			seen[r.ToID] = true
			ids = append(ids, r.ToID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// HasConnection reports whether the patient ever proposed to the doctor and
// the request still exists, in any status.
func (s *Service) HasConnection(ctx context.Context, patientID, doctorID string) (bool, error) {
	_, err := s.repo.FindPair(ctx, patientID, doctorID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// authorizeRecipient allows the addressed party, and for clinic associations
// a doctor tagged Owner or Admin at that clinic.
func (s *Service) authorizeRecipient(ctx context.Context, caller profile.Caller, req *Request) error {
	if caller.ID == req.ToID {
		return nil
	}
	if req.IsClinicEdge() && caller.Role == profile.RoleDoctor && caller.ID != req.FromID {
		ok, err := s.isClinicAdmin(ctx, caller.ID, req.ToID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return apperr.Unauthorized("not authorized to act on request %s", req.ID)
}

func (s *Service) isClinicAdmin(ctx context.Context, doctorID, clinicID string) (bool, error) {
	assoc, err := s.repo.FindPair(ctx, doctorID, clinicID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return assoc.Status == StatusAccepted && adminTags[assoc.MemberTag], nil
}

func (s *Service) mapWriteErr(err error, id string) error {
	if errors.Is(err, ErrStatusMismatch) {
		return apperr.InvalidTransition("request %s changed concurrently", id)
	}
	return err
}

func (s *Service) publish(ctx context.Context, op changefeed.Op, r *Request) {
	changefeed.Notify(ctx, s.feed, changefeed.NewChange(changefeed.ConnectionRequests, op, r.ID,
		"fromId", r.FromID, "toId", r.ToID))
}

func validateTag(tag string) error {
	if tag == "" {
		return apperr.Invalid("tag is required")
	}
	if len(tag) > maxTagLength {
		return apperr.Invalid("tag must be at most %d characters", maxTagLength)
	}
	return nil
}
