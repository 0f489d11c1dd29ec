package sqlite

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Inpuzah/stafftools/internal/db"
)

func (c *sqliteClient) GetPermissionUser(ctx context.Context, accountID uuid.UUID) (*db.PermissionUser, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	user := &db.PermissionUser{AccountID: accountID, Nodes: map[string]bool{}}
	err := c.db.GetContext(ctx, &user.PrimaryGroup, `SELECT primary_group FROM permission_users WHERE account_id = ?`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get permission user")
	}

	var nodes []struct {
		Node    string `db:"node"`
		Allowed bool   `db:"allowed"`
	}
	if err := c.db.SelectContext(ctx, &nodes, `SELECT node, allowed FROM permission_nodes WHERE account_id = ?`, accountID); err != nil {
		return nil, errors.Wrap(err, "get permission nodes")
	}
	for _, n := range nodes {
		user.Nodes[n.Node] = n.Allowed
	}
	return user, nil
}

// SavePermissionUser replaces the stored group and node set in one transaction.
func (c *sqliteClient) SavePermissionUser(ctx context.Context, user *db.PermissionUser) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin permission tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO permission_users (account_id, primary_group) VALUES (?, ?)
		ON CONFLICT(account_id) DO UPDATE SET primary_group = excluded.primary_group
	`, user.AccountID, user.PrimaryGroup); err != nil {
		return errors.Wrap(err, "upsert permission user")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM permission_nodes WHERE account_id = ?`, user.AccountID); err != nil {
		return errors.Wrap(err, "clear permission nodes")
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO permission_nodes (account_id, node, allowed) VALUES (?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare permission node insert")
	}
	defer stmt.Close()
	for node, allowed := range user.Nodes {
		if _, err := stmt.ExecContext(ctx, user.AccountID, node, allowed); err != nil {
			return errors.Wrapf(err, "insert permission node %s", node)
		}
	}
	return errors.Wrap(tx.Commit(), "commit permission tx")
}
