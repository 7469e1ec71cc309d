package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/irisballot/backend/internal/biometric"
	"github.com/irisballot/backend/internal/matcher"
	"github.com/irisballot/backend/internal/models"
)

// KioskService is what the shell talks to: it runs match sessions and turns
// their outcomes into access logs, ballots and enrollments.
type KioskService struct {
	sessions *matcher.Manager
	identity *IdentityService
	votes    *VoteService
	audit    Auditor
	log      zerolog.Logger
}

func NewKioskService(sessions *matcher.Manager, identity *IdentityService, votes *VoteService, audit Auditor, log zerolog.Logger) *KioskService {
	k := &KioskService{
		sessions: sessions,
		identity: identity,
		votes:    votes,
		audit:    audit,
		log:      log.With().Str("component", "kiosk").Logger(),
	}
	sessions.OnOutcome(k.recordOutcome)
	return k
}

func (k *KioskService) StartSession(ctx context.Context, actor string, mode matcher.Mode, target *int64) (string, error) {
	id, err := k.sessions.StartSession(ctx, mode, target)
	if err != nil {
		return "", err
	}
	k.log.Info().Str("session_id", id).Str("actor", actor).Str("mode", string(mode)).Msg("session requested")
	return id, nil
}

func (k *KioskService) Status(id string) (matcher.Status, error) {
	return k.sessions.Status(id)
}

func (k *KioskService) Cancel(id string) error {
	return k.sessions.Cancel(id)
}

func (k *KioskService) Wait(ctx context.Context, id string) (matcher.Outcome, error) {
	return k.sessions.Wait(ctx, id)
}

// recordOutcome audits every terminal session and logs access for the
// person it concerned.
func (k *KioskService) recordOutcome(ctx context.Context, out matcher.Outcome) {
	details := fmt.Sprintf("mode=%s state=%s frames=%d", out.Mode, out.State, out.Frames)
	if out.PersonID != 0 {
		details += fmt.Sprintf(" person=%d confidence=%.4f", out.PersonID, out.Confidence)
	}
	if out.Err != nil {
		details += " error=" + out.Err.Error()
	}
	record(ctx, k.audit, k.log, SystemActor, ActionSessionOutcome, "session:"+out.SessionID, details)

	var (
		personID int64
		result   models.AccessResult
	)
	switch {
	case out.State == matcher.StateVerified:
		personID, result = out.PersonID, models.AccessGranted
	case out.State == matcher.StateRejected && out.PersonID != 0:
		personID, result = out.PersonID, models.AccessDenied
	case out.State == matcher.StateRejected && out.TargetPersonID != nil:
		personID, result = *out.TargetPersonID, models.AccessDenied
	default:
		return
	}

	method := out.Method
	if method == "" {
		method = matcher.MethodIris
	}
	logID, err := k.identity.RecordAccess(ctx, personID, method, out.Confidence, result)
	if err != nil {
		k.log.Warn().Err(err).Int64("person_id", personID).Str("session_id", out.SessionID).Msg("access not recorded")
		return
	}
	record(ctx, k.audit, k.log, SystemActor, ActionAccessRecorded, fmt.Sprintf("person:%d", personID),
		fmt.Sprintf("access_log=%d result=%s", logID, result))
}

// CastVote casts a ballot for the person a session verified.
func (k *KioskService) CastVote(ctx context.Context, actor, sessionID, electionID string) (*models.VoteRecord, error) {
	out, done, err := k.sessions.Outcome(sessionID)
	if err != nil {
		return nil, err
	}
	if !done || out.State != matcher.StateVerified {
		return nil, ErrNotVerified
	}
	return k.votes.CastVote(ctx, actor, out.PersonID, electionID, out.Confidence, out.Method)
}

// EnrollFromSession enrolls a new person with the last crop a finished
// session captured.
func (k *KioskService) EnrollFromSession(ctx context.Context, actor, sessionID string, person *models.Person) (int64, error) {
	out, done, err := k.sessions.Outcome(sessionID)
	if err != nil {
		return 0, err
	}
	if !done || out.Crop.Empty() {
		return 0, ErrNoCapture
	}
	template, err := biometric.Encode(out.Crop.Image)
	if err != nil {
		return 0, errors.Join(ErrNoCapture, err)
	}
	return k.identity.Enroll(ctx, actor, person, template)
}
