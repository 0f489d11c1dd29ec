package sqlite

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Inpuzah/stafftools/internal/db"
)

func (c *sqliteClient) UpsertBlock(ctx context.Context, entry *db.BlockEntry) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	_, err := c.db.NamedExecContext(ctx, `
		INSERT INTO connection_blocks (account_id, account_name, reason, source, created_at, expires_at)
		VALUES (:account_id, :account_name, :reason, :source, :created_at, :expires_at)
		ON CONFLICT(account_id) DO UPDATE SET
			account_name = excluded.account_name,
			reason = excluded.reason,
			source = excluded.source,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, entry)
	if err != nil {
		return errors.Wrap(err, "upsert block")
	}
	return nil
}

func (c *sqliteClient) GetBlock(ctx context.Context, accountID uuid.UUID) (*db.BlockEntry, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var entry db.BlockEntry
	err := c.db.GetContext(ctx, &entry, `
		SELECT account_id, account_name, reason, source, created_at, expires_at
		FROM connection_blocks
		WHERE account_id = ?
	`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get block")
	}
	return &entry, nil
}

func (c *sqliteClient) DeleteBlock(ctx context.Context, accountID uuid.UUID) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	res, err := c.db.ExecContext(ctx, `DELETE FROM connection_blocks WHERE account_id = ?`, accountID)
	if err != nil {
		return false, errors.Wrap(err, "delete block")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "delete block rows affected")
	}
	return n > 0, nil
}
