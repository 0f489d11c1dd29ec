package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/Inpuzah/stafftools/internal/db"
	errs "github.com/Inpuzah/stafftools/internal/errors"
)

const punishmentColumns = `id, account_id, account_name, staff_id, staff_name, type, reason,
	duration_minutes, issued_at, expires_at, active, removed_by, removed_by_name, removed_at,
	removed_reason, server_name, address`

func (c *sqliteClient) InsertPunishment(ctx context.Context, p *db.Punishment) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO punishments (
			account_id, account_name, staff_id, staff_name, type, reason, duration_minutes,
			issued_at, expires_at, active, server_name, address
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.AccountID,
		p.AccountName,
		p.StaffID,
		p.StaffName,
		p.Type,
		p.Reason,
		p.Duration,
		p.IssuedAt,
		p.ExpiresAt,
		p.Active,
		p.ServerName,
		p.Address,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, errors.Wrapf(errs.ErrAlreadyPunished, "insert %s for %s", p.Type, p.AccountID)
		}
		return 0, errors.Wrap(err, "insert punishment")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "get punishment id")
	}
	return id, nil
}

func (c *sqliteClient) GetPunishment(ctx context.Context, id int64) (*db.Punishment, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var p db.Punishment
	err := c.db.GetContext(ctx, &p, `SELECT `+punishmentColumns+` FROM punishments WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "get punishment %d", id)
	}
	return &p, nil
}

func (c *sqliteClient) GetPunishmentsByAccount(ctx context.Context, accountID uuid.UUID) ([]*db.Punishment, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var res []*db.Punishment
	err := c.db.SelectContext(ctx, &res, `
		SELECT `+punishmentColumns+` FROM punishments
		WHERE account_id = ?
		ORDER BY issued_at DESC, id DESC
	`, accountID)
	if err != nil {
		return nil, errors.Wrap(err, "get account punishments")
	}
	return res, nil
}

func (c *sqliteClient) CountPunishments(ctx context.Context, accountID uuid.UUID) (int, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var count int
	if err := c.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM punishments WHERE account_id = ?`, accountID); err != nil {
		return 0, errors.Wrap(err, "count account punishments")
	}
	return count, nil
}

func (c *sqliteClient) GetRecentPunishments(ctx context.Context, limit int) ([]*db.Punishment, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var res []*db.Punishment
	err := c.db.SelectContext(ctx, &res, `
		SELECT `+punishmentColumns+` FROM punishments
		ORDER BY issued_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "get recent punishments")
	}
	return res, nil
}

func (c *sqliteClient) GetActivePunishments(ctx context.Context, types ...db.PunishmentType) ([]*db.Punishment, error) {
	if len(types) == 0 {
		return nil, nil
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	query, args, err := sqlx.In(`
		SELECT `+punishmentColumns+` FROM punishments
		WHERE active = 1 AND type IN (?)
		ORDER BY issued_at ASC, id ASC
	`, names)
	if err != nil {
		return nil, errors.Wrap(err, "build active punishments query")
	}
	var res []*db.Punishment
	if err := c.db.SelectContext(ctx, &res, c.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "get active punishments")
	}
	return res, nil
}

// GetActivePunishment returns the newest active punishment of the type for the account.
func (c *sqliteClient) GetActivePunishment(ctx context.Context, accountID uuid.UUID, t db.PunishmentType) (*db.Punishment, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var p db.Punishment
	err := c.db.GetContext(ctx, &p, `
		SELECT `+punishmentColumns+` FROM punishments
		WHERE account_id = ? AND type = ? AND active = 1
		ORDER BY issued_at DESC, id DESC
		LIMIT 1
	`, accountID, t)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get active punishment")
	}
	return &p, nil
}

// FindActivePunishment resolves nameOrID as an account id first and as a case-insensitive name otherwise.
func (c *sqliteClient) FindActivePunishment(ctx context.Context, nameOrID string, t db.PunishmentType) (*db.Punishment, error) {
	nameOrID = strings.TrimSpace(nameOrID)
	if id, err := uuid.Parse(nameOrID); err == nil {
		return c.GetActivePunishment(ctx, id, t)
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var p db.Punishment
	err := c.db.GetContext(ctx, &p, `
		SELECT `+punishmentColumns+` FROM punishments
		WHERE LOWER(account_name) = LOWER(?) AND type = ? AND active = 1
		ORDER BY issued_at DESC, id DESC
		LIMIT 1
	`, nameOrID, t)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "find active punishment")
	}
	return &p, nil
}

// DeactivatePunishment reports whether this call flipped the row from active to inactive.
func (c *sqliteClient) DeactivatePunishment(ctx context.Context, id int64, removal db.Removal) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	res, err := c.db.ExecContext(ctx, `
		UPDATE punishments
		SET active = 0, removed_by = ?, removed_by_name = ?, removed_at = ?, removed_reason = ?
		WHERE id = ? AND active = 1
	`, removal.By, removal.ByName, removal.At, removal.Reason, id)
	if err != nil {
		return false, errors.Wrapf(err, "deactivate punishment %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "deactivate rows affected")
	}
	return n > 0, nil
}
