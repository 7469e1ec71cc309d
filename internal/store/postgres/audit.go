package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/irisballot/backend/internal/models"
	"github.com/irisballot/backend/internal/store"
)

const auditColumns = `id, event_time, actor, action, resource, details, prev_hash, record_hash`

func scanAuditEvent(row scanner) (*models.AuditEvent, error) {
	var e models.AuditEvent
	if err := row.Scan(&e.ID, &e.EventTime, &e.Actor, &e.Action, &e.Resource, &e.Details, &e.PrevHash, &e.RecordHash); err != nil {
		return nil, err
	}
	return &e, nil
}

// AppendChained reads the tail and inserts the successor under an exclusive
// table lock, so two writers can never link to the same predecessor.
func (s *Store) AppendChained(ctx context.Context, build store.ChainBuilder) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `LOCK TABLE audit_logs IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("lock audit_logs: %w", err)
		}

		prev, err := scanAuditEvent(tx.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_logs ORDER BY id DESC LIMIT 1`))
		if errors.Is(err, sql.ErrNoRows) {
			prev = nil
		} else if err != nil {
			return fmt.Errorf("read audit tail: %w", err)
		}

		event, err := build(prev)
		if err != nil {
			return err
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO audit_logs (event_time, actor, action, resource, details, prev_hash, record_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			event.EventTime, event.Actor, event.Action, event.Resource, event.Details, event.PrevHash, event.RecordHash,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert audit event: %w", mapError(err))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) ListAuditEvents(ctx context.Context, afterID int64, limit int) ([]models.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+auditColumns+` FROM audit_logs
		WHERE id > $1
		ORDER BY id
		LIMIT $2`, afterID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
