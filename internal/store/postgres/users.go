package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/irisballot/backend/internal/models"
	"github.com/irisballot/backend/internal/store"
)

const userColumns = `id, username, password_hash, totp_secret, role, person_id,
	failed_attempts, lock_until, last_login, created_at`

func scanUser(row scanner) (*models.User, error) {
	var (
		u         models.User
		role      string
		personID  sql.NullInt64
		lockUntil sql.NullTime
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.TOTPSecret, &role, &personID,
		&u.FailedAttempts, &lockUntil, &lastLogin, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	u.PersonID = int64Ptr(personID)
	u.LockUntil = timePtr(lockUntil)
	u.LastLogin = timePtr(lastLogin)
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) (int64, error) {
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, totp_secret, role, person_id,
			failed_attempts, lock_until, last_login, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		u.Username, u.PasswordHash, u.TOTPSecret, string(u.Role), nullInt64(u.PersonID),
		u.FailedAttempts, nullTime(u.LockUntil), nullTime(u.LastLogin), createdAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create user %s: %w", u.Username, mapError(err))
	}
	return id, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

// UpdateUserWithLock loads the row FOR UPDATE so concurrent logins for the
// same account serialize on the lockout counters.
func (s *Store) UpdateUserWithLock(ctx context.Context, username string, fn store.UserMutation) (*models.User, error) {
	var updated *models.User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1 FOR UPDATE`, username)
		u, err := scanUser(row)
		if err != nil {
			return mapError(err)
		}

		if err := fn(u); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE users
			SET password_hash = $1, totp_secret = $2, role = $3, person_id = $4,
				failed_attempts = $5, lock_until = $6, last_login = $7
			WHERE id = $8`,
			u.PasswordHash, u.TOTPSecret, string(u.Role), nullInt64(u.PersonID),
			u.FailedAttempts, nullTime(u.LockUntil), nullTime(u.LastLogin), u.ID)
		if err != nil {
			return mapError(err)
		}
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return mapError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}
