package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/irisballot/backend/internal/models"
	"github.com/irisballot/backend/internal/store"
)

// InsertVote locks the person row first; concurrent ballots for one person
// queue behind it, so the existence check and the insert see the same state.
func (s *Store) InsertVote(ctx context.Context, v *models.VoteRecord) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var locked int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM persons WHERE id = $1 FOR UPDATE`, v.PersonID).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrReferenceNotFound
		}
		if err != nil {
			return err
		}

		var voted bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM votes WHERE person_id = $1 AND election_id = $2)`,
			v.PersonID, v.ElectionID).Scan(&voted); err != nil {
			return err
		}
		if voted {
			return store.ErrAlreadyVoted
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO votes (person_id, election_id, confidence_score, verification_method, vote_hash, vote_time)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			v.PersonID, v.ElectionID, v.ConfidenceScore, v.VerificationMethod, v.VoteHash, v.VoteTime,
		).Scan(&id)
		if err != nil {
			mapped := mapError(err)
			if errors.Is(mapped, store.ErrDuplicate) {
				return store.ErrAlreadyVoted
			}
			return mapped
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) HasVoted(ctx context.Context, personID int64, electionID string) (bool, error) {
	var voted bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM votes WHERE person_id = $1 AND election_id = $2)`,
		personID, electionID).Scan(&voted)
	return voted, err
}
