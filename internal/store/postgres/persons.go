package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/irisballot/backend/internal/models"
	"github.com/irisballot/backend/internal/store"
)

const personColumns = `id, name, phone, address, voter_id, iris_template, face_template,
	is_active, enrollment_date, last_access`

func scanPerson(row scanner) (*models.Person, error) {
	var (
		p          models.Person
		lastAccess sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.Address, &p.VoterID, &p.IrisTemplate,
		&p.FaceTemplate, &p.IsActive, &p.EnrollmentDate, &lastAccess)
	if err != nil {
		return nil, err
	}
	p.LastAccess = timePtr(lastAccess)
	return &p, nil
}

// EnrollPerson takes a table lock that conflicts with itself, so two
// enrollments cannot both pass admission against the same population.
func (s *Store) EnrollPerson(ctx context.Context, p *models.Person, admit store.EnrollAdmission) (int64, error) {
	enrolledAt := p.EnrollmentDate
	if enrolledAt.IsZero() {
		enrolledAt = s.now().UTC()
	}

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `LOCK TABLE persons IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("lock persons: %w", err)
		}

		if admit != nil {
			active, err := listActive(ctx, tx)
			if err != nil {
				return err
			}
			if err := admit(active); err != nil {
				return err
			}
		}

		err := tx.QueryRowContext(ctx, `
			INSERT INTO persons (name, phone, address, voter_id, iris_template, face_template,
				is_active, enrollment_date)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
			RETURNING id`,
			p.Name, p.Phone, p.Address, p.VoterID, p.IrisTemplate, p.FaceTemplate, enrolledAt,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert person: %w", mapError(err))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) GetPerson(ctx context.Context, id int64) (*models.Person, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+personColumns+` FROM persons WHERE id = $1`, id)
	p, err := scanPerson(row)
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

func (s *Store) UpdatePerson(ctx context.Context, p *models.Person) error {
	return s.execOne(ctx, `
		UPDATE persons SET name = $1, phone = $2, address = $3, voter_id = $4
		WHERE id = $5`,
		p.Name, p.Phone, p.Address, p.VoterID, p.ID)
}

func (s *Store) SetPersonActive(ctx context.Context, id int64, active bool) error {
	return s.execOne(ctx, `UPDATE persons SET is_active = $1 WHERE id = $2`, active, id)
}

func (s *Store) SetIrisTemplate(ctx context.Context, id int64, template []byte) error {
	return s.execOne(ctx, `UPDATE persons SET iris_template = $1 WHERE id = $2`, template, id)
}

func (s *Store) ListActivePersons(ctx context.Context) ([]store.PersonRecord, error) {
	return listActive(ctx, s.db)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listActive(ctx context.Context, q querier) ([]store.PersonRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, iris_template FROM persons
		WHERE is_active = TRUE
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active persons: %w", err)
	}
	defer rows.Close()

	var out []store.PersonRecord
	for rows.Next() {
		var rec store.PersonRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.IrisTemplate); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordAccess inserts the log row and, for granted access, stamps
// persons.last_access in the same transaction.
func (s *Store) RecordAccess(ctx context.Context, entry *models.AccessLog) (int64, error) {
	at := entry.AccessTime
	if at.IsZero() {
		at = s.now().UTC()
	}

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO access_logs (person_id, access_time, method, confidence, result)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			entry.PersonID, at, entry.Method, entry.Confidence, string(entry.Result),
		).Scan(&id)
		if err != nil {
			return mapError(err)
		}

		if entry.Result == models.AccessGranted {
			if _, err := tx.ExecContext(ctx, `UPDATE persons SET last_access = $1 WHERE id = $2`, at, entry.PersonID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) ListAccessLogs(ctx context.Context, personID int64, limit int) ([]models.AccessLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person_id, access_time, method, confidence, result
		FROM access_logs
		WHERE person_id = $1
		ORDER BY access_time DESC, id DESC
		LIMIT $2`, personID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list access logs: %w", err)
	}
	defer rows.Close()

	var out []models.AccessLog
	for rows.Next() {
		var (
			entry  models.AccessLog
			result string
		)
		if err := rows.Scan(&entry.ID, &entry.PersonID, &entry.AccessTime, &entry.Method, &entry.Confidence, &result); err != nil {
			return nil, err
		}
		entry.Result = models.AccessResult(result)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// PurgePerson hard-deletes a person and everything that references it.
func (s *Store) PurgePerson(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var locked int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM persons WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
			return mapError(err)
		}

		steps := []string{
			`UPDATE users SET person_id = NULL WHERE person_id = $1`,
			`DELETE FROM access_logs WHERE person_id = $1`,
			`DELETE FROM votes WHERE person_id = $1`,
			`DELETE FROM persons WHERE id = $1`,
		}
		for _, stmt := range steps {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("purge person %d: %w", id, err)
			}
		}
		return nil
	})
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
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
