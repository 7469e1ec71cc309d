package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/irisballot/backend/internal/metrics"
	"github.com/irisballot/backend/internal/models"
	"github.com/irisballot/backend/internal/store"
)

const maxElectionIDLength = 64

type VoteService struct {
	votes   store.VoteStore
	persons store.PersonStore
	audit   Auditor
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewVoteService(votes store.VoteStore, persons store.PersonStore, audit Auditor, m *metrics.Metrics, log zerolog.Logger) *VoteService {
	return &VoteService{
		votes:   votes,
		persons: persons,
		audit:   audit,
		metrics: m,
		log:     log.With().Str("component", "vote").Logger(),
		now:     time.Now,
	}
}

// ComputeVoteHash is hex SHA-256 of person id, election id and the vote
// timestamp joined by '|'.
func ComputeVoteHash(personID int64, electionID string, at time.Time) string {
	payload := strconv.FormatInt(personID, 10) + "|" + electionID + "|" + at.UTC().Format(time.RFC3339Nano)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// CastVote persists one ballot for an active person. The existence check and
// insert are a single store operation; a second ballot for the same election
// fails with ErrAlreadyVoted.
func (s *VoteService) CastVote(ctx context.Context, actor string, personID int64, electionID string, confidence float64, method string) (*models.VoteRecord, error) {
	if electionID == "" || len(electionID) > maxElectionIDLength {
		return nil, ErrInvalidElection
	}

	p, err := s.persons.GetPerson(ctx, personID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPersonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load person %d: %w", personID, err)
	}
	if !p.IsActive {
		return nil, ErrPersonInactive
	}

	at := s.now().UTC().Truncate(time.Microsecond)
	vote := &models.VoteRecord{
		PersonID:           personID,
		ElectionID:         electionID,
		ConfidenceScore:    confidence,
		VerificationMethod: method,
		VoteHash:           ComputeVoteHash(personID, electionID, at),
		VoteTime:           at,
	}

	resource := "election:" + electionID
	id, err := s.votes.InsertVote(ctx, vote)
	switch {
	case errors.Is(err, store.ErrAlreadyVoted):
		s.metrics.IncIntegrityViolation("duplicate_vote")
		s.log.Error().
			Int64("person_id", personID).
			Str("election_id", electionID).
			Msg("duplicate vote rejected")
		record(ctx, s.audit, s.log, actor, ActionVoteDuplicate, resource, "person="+strconv.FormatInt(personID, 10))
		return nil, ErrAlreadyVoted
	case errors.Is(err, store.ErrReferenceNotFound):
		return nil, ErrPersonNotFound
	case err != nil:
		return nil, fmt.Errorf("insert vote: %w", err)
	}
	vote.ID = id

	s.metrics.IncVote()
	s.log.Info().
		Int64("person_id", personID).
		Str("election_id", electionID).
		Str("method", method).
		Float64("confidence", confidence).
		Msg("vote cast")
	record(ctx, s.audit, s.log, actor, ActionVoteCast, resource,
		fmt.Sprintf("person=%d method=%s hash=%s", personID, method, vote.VoteHash))
	return vote, nil
}

func (s *VoteService) HasVoted(ctx context.Context, personID int64, electionID string) (bool, error) {
	return s.votes.HasVoted(ctx, personID, electionID)
}
