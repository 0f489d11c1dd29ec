package moderation

import (
	"context"

	"github.com/google/uuid"

	"github.com/Inpuzah/stafftools/internal/db"
)

// Active returns the active punishment of type t for the account from the cache. An expired entry
// is reported as absent and expired in the background. It leaves the cache only once the store
// has deactivated it, so a failed expiry is picked up again by the sweep.
func (e *Engine) Active(accountID uuid.UUID, t db.PunishmentType) (*db.Punishment, bool) {
	p, ok := e.cache.get(accountID, t)
	if !ok {
		return nil, false
	}
	if p.IsExpired(e.now()) {
		e.expireLater(p)
		return nil, false
	}
	return p.Clone(), true
}

// expireLater schedules at most one background expiry per punishment.
func (e *Engine) expireLater(p *db.Punishment) {
	if _, pending := e.expiring.LoadOrStore(p.ID, struct{}{}); pending {
		return
	}
	e.scheduler.RunAsync(func(ctx context.Context) {
		defer e.expiring.Delete(p.ID)
		if _, err := e.expire(ctx, p); err != nil {
			e.getLogEntry().WithError(err).WithField("id", p.ID).Warn("lazy expiry failed")
		}
	})
}

func (e *Engine) IsActive(accountID uuid.UUID, t db.PunishmentType) bool {
	_, ok := e.Active(accountID, t)
	return ok
}

// ActiveFor lists the account's live enforceable punishments.
func (e *Engine) ActiveFor(accountID uuid.UUID) []*db.Punishment {
	var res []*db.Punishment
	for _, t := range db.EnforceableTypes() {
		if p, ok := e.Active(accountID, t); ok {
			res = append(res, p)
		}
	}
	return res
}

func (e *Engine) Get(ctx context.Context, id int64) (*db.Punishment, error) {
	p, err := e.store.GetPunishment(ctx, id)
	if err != nil {
		return nil, storeError("get punishment", err)
	}
	return p, nil
}

// History returns every punishment of the account, newest first.
func (e *Engine) History(ctx context.Context, accountID uuid.UUID) ([]*db.Punishment, error) {
	res, err := e.store.GetPunishmentsByAccount(ctx, accountID)
	if err != nil {
		return nil, storeError("get history", err)
	}
	return res, nil
}

func (e *Engine) CountHistory(ctx context.Context, accountID uuid.UUID) (int, error) {
	n, err := e.store.CountPunishments(ctx, accountID)
	if err != nil {
		return 0, storeError("count history", err)
	}
	return n, nil
}

func (e *Engine) Recent(ctx context.Context, limit int) ([]*db.Punishment, error) {
	if limit <= 0 {
		limit = 10
	}
	res, err := e.store.GetRecentPunishments(ctx, limit)
	if err != nil {
		return nil, storeError("get recent", err)
	}
	return res, nil
}
