package sqlite

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Inpuzah/stafftools/internal/db"
)

func (c *sqliteClient) InsertAuditEntry(ctx context.Context, entry *db.AuditEntry) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	res, err := c.db.NamedExecContext(ctx, `
		INSERT INTO audit_log (actor_id, actor_name, action, target_id, target_name, details, created_at, server_name)
		VALUES (:actor_id, :actor_name, :action, :target_id, :target_name, :details, :created_at, :server_name)
	`, entry)
	if err != nil {
		return 0, errors.Wrap(err, "insert audit entry")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "get audit entry id")
	}
	return id, nil
}

func (c *sqliteClient) GetRecentAuditEntries(ctx context.Context, limit int) ([]*db.AuditEntry, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var entries []*db.AuditEntry
	err := c.db.SelectContext(ctx, &entries, `
		SELECT id, actor_id, actor_name, action, target_id, target_name, details, created_at, server_name
		FROM audit_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "get recent audit entries")
	}
	return entries, nil
}

// DeleteAuditEntriesBefore drops entries created before the cutoff, in epoch milliseconds.
func (c *sqliteClient) DeleteAuditEntriesBefore(ctx context.Context, cutoff int64) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	res, err := c.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "delete audit entries")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "delete audit rows affected")
	}
	return n, nil
}
