package sqlite

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Inpuzah/stafftools/internal/db"
	errs "github.com/Inpuzah/stafftools/internal/errors"
)

const appealColumns = `id, punishment_id, account_id, account_name, text, created_at, status,
	reviewed_by, reviewed_by_name, reviewed_at, review_note`

// InsertAppeal stores a pending appeal. A second pending appeal for the same punishment fails
// with ErrAlreadyAppealed.
func (c *sqliteClient) InsertAppeal(ctx context.Context, a *db.Appeal) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO punishment_appeals (punishment_id, account_id, account_name, text, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.PunishmentID, a.AccountID, a.AccountName, a.Text, a.CreatedAt, a.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, errors.Wrapf(errs.ErrAlreadyAppealed, "insert appeal for punishment %d", a.PunishmentID)
		}
		return 0, errors.Wrap(err, "insert appeal")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "get appeal id")
	}
	return id, nil
}

func (c *sqliteClient) GetAppeal(ctx context.Context, id int64) (*db.Appeal, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var a db.Appeal
	err := c.db.GetContext(ctx, &a, `SELECT `+appealColumns+` FROM punishment_appeals WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "get appeal %d", id)
	}
	return &a, nil
}

// GetAppeals lists the newest appeals, optionally filtered by status.
func (c *sqliteClient) GetAppeals(ctx context.Context, status db.AppealStatus, limit int) ([]*db.Appeal, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var (
		res []*db.Appeal
		err error
	)
	if status == "" {
		err = c.db.SelectContext(ctx, &res, `
			SELECT `+appealColumns+` FROM punishment_appeals
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`, limit)
	} else {
		err = c.db.SelectContext(ctx, &res, `
			SELECT `+appealColumns+` FROM punishment_appeals
			WHERE status = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`, status, limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get appeals")
	}
	return res, nil
}

func (c *sqliteClient) GetAppealsByAccount(ctx context.Context, accountID uuid.UUID) ([]*db.Appeal, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var res []*db.Appeal
	err := c.db.SelectContext(ctx, &res, `
		SELECT `+appealColumns+` FROM punishment_appeals
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
	`, accountID)
	if err != nil {
		return nil, errors.Wrap(err, "get account appeals")
	}
	return res, nil
}

// LatestAppealAt returns when the account last appealed, or 0 if it never did.
func (c *sqliteClient) LatestAppealAt(ctx context.Context, accountID uuid.UUID) (int64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var latest sql.NullInt64
	err := c.db.GetContext(ctx, &latest, `SELECT MAX(created_at) FROM punishment_appeals WHERE account_id = ?`, accountID)
	if err != nil {
		return 0, errors.Wrap(err, "get latest appeal")
	}
	return latest.Int64, nil
}

// ReviewAppeal closes a pending appeal. It reports false when the appeal is missing or already reviewed.
func (c *sqliteClient) ReviewAppeal(ctx context.Context, id int64, review db.Review) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	res, err := c.db.ExecContext(ctx, `
		UPDATE punishment_appeals
		SET status = ?, reviewed_by = ?, reviewed_by_name = ?, reviewed_at = ?, review_note = ?
		WHERE id = ? AND status = ?
	`, review.Status, review.By, review.ByName, review.At, review.Note, id, db.AppealPending)
	if err != nil {
		return false, errors.Wrapf(err, "review appeal %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "get affected rows")
	}
	return n > 0, nil
}
