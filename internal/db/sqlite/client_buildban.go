package sqlite

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Inpuzah/stafftools/internal/db"
)

func (c *sqliteClient) GetBuildBanGroup(ctx context.Context, accountID uuid.UUID) (*db.BuildBanGroup, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var g db.BuildBanGroup
	err := c.db.GetContext(ctx, &g, `
		SELECT account_id, original_group, needs_restoration
		FROM buildban_groups
		WHERE account_id = ?
	`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get buildban group")
	}
	return &g, nil
}

// SaveOriginalGroup records the group to restore. An already recorded group is kept and only the
// restoration flag is cleared.
func (c *sqliteClient) SaveOriginalGroup(ctx context.Context, accountID uuid.UUID, group string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO buildban_groups (account_id, original_group, needs_restoration)
		VALUES (?, ?, 0)
		ON CONFLICT(account_id) DO UPDATE SET
			original_group = CASE
				WHEN buildban_groups.original_group = '' THEN excluded.original_group
				ELSE buildban_groups.original_group
			END,
			needs_restoration = 0
	`, accountID, group)
	if err != nil {
		return errors.Wrap(err, "save original group")
	}
	return nil
}

func (c *sqliteClient) MarkNeedsRestoration(ctx context.Context, accountID uuid.UUID) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO buildban_groups (account_id, original_group, needs_restoration)
		VALUES (?, '', 1)
		ON CONFLICT(account_id) DO UPDATE SET needs_restoration = 1
	`, accountID)
	if err != nil {
		return errors.Wrap(err, "mark needs restoration")
	}
	return nil
}

func (c *sqliteClient) DeleteBuildBanGroup(ctx context.Context, accountID uuid.UUID) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	if _, err := c.db.ExecContext(ctx, `DELETE FROM buildban_groups WHERE account_id = ?`, accountID); err != nil {
		return errors.Wrap(err, "delete buildban group")
	}
	return nil
}
