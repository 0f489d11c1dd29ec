package sqlite

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Inpuzah/stafftools/internal/db"
)

func (c *sqliteClient) UpsertAccount(ctx context.Context, account *db.Account) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	_, err := c.db.NamedExecContext(ctx, `
		INSERT INTO accounts (id, name, last_address, last_seen)
		VALUES (:id, :name, :last_address, :last_seen)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			last_address = COALESCE(excluded.last_address, accounts.last_address),
			last_seen = excluded.last_seen
	`, account)
	if err != nil {
		return errors.Wrap(err, "upsert account")
	}
	return nil
}

func (c *sqliteClient) GetAccount(ctx context.Context, id uuid.UUID) (*db.Account, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var account db.Account
	err := c.db.GetContext(ctx, &account, `SELECT id, name, last_address, last_seen FROM accounts WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get account")
	}
	return &account, nil
}

// GetAccountByName matches case-insensitively and prefers the most recently seen account.
func (c *sqliteClient) GetAccountByName(ctx context.Context, name string) (*db.Account, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var account db.Account
	err := c.db.GetContext(ctx, &account, `
		SELECT id, name, last_address, last_seen FROM accounts
		WHERE LOWER(name) = LOWER(?)
		ORDER BY last_seen DESC
		LIMIT 1
	`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get account by name")
	}
	return &account, nil
}
