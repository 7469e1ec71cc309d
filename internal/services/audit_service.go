package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/irisballot/backend/internal/metrics"
	"github.com/irisballot/backend/internal/models"
	"github.com/irisballot/backend/internal/store"
)

const (
	ActionLogin            = "auth.login"
	ActionLoginFailed      = "auth.login_failed"
	ActionAccountLocked    = "auth.account_locked"
	ActionUserRegister     = "user.register"
	ActionUserDelete       = "user.delete"
	ActionRoleChange       = "user.role_change"
	ActionPasswordReset    = "user.password_reset"
	ActionPersonLink       = "user.link_person"
	ActionPersonUnlink     = "user.unlink_person"
	ActionTOTPEnroll       = "user.totp_enroll"
	ActionPersonEnroll     = "person.enroll"
	ActionPersonUpdate     = "person.update"
	ActionPersonDeactivate = "person.deactivate"
	ActionPersonPurge      = "person.purge"
	ActionTemplateUpdate   = "person.template_update"
	ActionDuplicateEnroll  = "person.duplicate_rejected"
	ActionVoteCast         = "vote.cast"
	ActionVoteDuplicate    = "vote.duplicate_rejected"
	ActionSessionOutcome   = "session.outcome"
	ActionAccessRecorded   = "access.record"
	ActionChainVerified    = "audit.verify"

	SystemActor = "system"

	verifyPageSize = 500
)

// Auditor is the append side of the audit ledger.
type Auditor interface {
	Append(ctx context.Context, actor, action, resource, details string) (int64, error)
}

// ChainBreak describes the first event at which the chain fails to verify.
type ChainBreak struct {
	EventID  int64  `json:"eventId"`
	Reason   string `json:"reason"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (b *ChainBreak) Error() string {
	return fmt.Sprintf("audit chain broken at event %d: %s", b.EventID, b.Reason)
}

func (b *ChainBreak) Unwrap() error {
	return ErrChainBroken
}

// AuditLedger is the audit store plus the person lookup used to refuse
// events about persons that do not exist.
type AuditLedger interface {
	store.AuditStore
	GetPerson(ctx context.Context, id int64) (*models.Person, error)
}

type AuditService struct {
	store   AuditLedger
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewAuditService(st AuditLedger, log zerolog.Logger, m *metrics.Metrics) *AuditService {
	return &AuditService{
		store:   st,
		log:     log.With().Str("component", "audit").Logger(),
		metrics: m,
		now:     time.Now,
	}
}

// ComputeRecordHash is SHA-256 over the JSON array of the hashed fields.
// Event time is rendered in UTC at microsecond precision, the resolution
// Postgres stores.
func ComputeRecordHash(e *models.AuditEvent) string {
	canonical, _ := json.Marshal([]string{
		e.EventTime.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
		e.Actor,
		e.Action,
		e.Resource,
		e.Details,
		e.PrevHash,
	})
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Append links a new event onto the chain tail. The store holds its lock
// across reading the tail and inserting, so concurrent appends never fork.
func (s *AuditService) Append(ctx context.Context, actor, action, resource, details string) (int64, error) {
	if err := s.checkResource(ctx, action, resource); err != nil {
		return 0, err
	}
	at := s.now().UTC().Truncate(time.Microsecond)

	id, err := s.store.AppendChained(ctx, func(prev *models.AuditEvent) (*models.AuditEvent, error) {
		event := &models.AuditEvent{
			EventTime: at,
			Actor:     actor,
			Action:    action,
			Resource:  resource,
			Details:   details,
			PrevHash:  models.GenesisHash,
		}
		if prev != nil {
			event.PrevHash = prev.RecordHash
		}
		event.RecordHash = ComputeRecordHash(event)
		return event, nil
	})
	if err != nil {
		s.log.Error().Err(err).Str("action", action).Str("resource", resource).Msg("audit append failed")
		return 0, fmt.Errorf("append audit event: %w", err)
	}
	return id, nil
}

// checkResource refuses person:<id> resources without a person row. The
// purge event is written after the row is gone and is exempt.
func (s *AuditService) checkResource(ctx context.Context, action, resource string) error {
	raw, ok := strings.CutPrefix(resource, "person:")
	if !ok || action == ActionPersonPurge {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("audit resource %q: %w", resource, ErrPersonNotFound)
	}
	if _, err := s.store.GetPerson(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("audit resource %q: %w", resource, ErrPersonNotFound)
		}
		return fmt.Errorf("check audit resource: %w", err)
	}
	return nil
}

// VerifyChain walks the log from the first event. Breaks are reported,
// never repaired.
func (s *AuditService) VerifyChain(ctx context.Context) (bool, *ChainBreak, error) {
	expectedPrev := models.GenesisHash
	var afterID int64

	for {
		page, err := s.store.ListAuditEvents(ctx, afterID, verifyPageSize)
		if err != nil {
			return false, nil, fmt.Errorf("read audit events: %w", err)
		}

		for i := range page {
			e := &page[i]
			if e.PrevHash != expectedPrev {
				return s.broken(&ChainBreak{EventID: e.ID, Reason: "prev_hash mismatch", Expected: expectedPrev, Actual: e.PrevHash})
			}
			if computed := ComputeRecordHash(e); computed != e.RecordHash {
				return s.broken(&ChainBreak{EventID: e.ID, Reason: "record_hash mismatch", Expected: computed, Actual: e.RecordHash})
			}
			expectedPrev = e.RecordHash
			afterID = e.ID
		}

		if len(page) < verifyPageSize {
			break
		}
	}

	s.metrics.IncChainVerification(true)
	return true, nil, nil
}

func (s *AuditService) broken(b *ChainBreak) (bool, *ChainBreak, error) {
	s.metrics.IncChainVerification(false)
	s.metrics.IncIntegrityViolation("chain_break")
	s.log.Error().
		Int64("event_id", b.EventID).
		Str("reason", b.Reason).
		Msg("audit chain verification failed")
	return false, b, nil
}

func (s *AuditService) List(ctx context.Context, afterID int64, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.store.ListAuditEvents(ctx, afterID, limit)
}

// record appends and logs failures. Callers whose primary write already
// committed use it so an audit outage does not undo their result.
func record(ctx context.Context, a Auditor, log zerolog.Logger, actor, action, resource, details string) {
	if a == nil {
		return
	}
	if _, err := a.Append(ctx, actor, action, resource, details); err != nil {
		log.Error().Err(err).Str("action", action).Msg("failed to record audit event")
	}
}
