package moderation

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Inpuzah/stafftools/internal/audit"
	"github.com/Inpuzah/stafftools/internal/db"
	"github.com/Inpuzah/stafftools/internal/i18n"
	"github.com/Inpuzah/stafftools/internal/observability"
)

// applyBuildBan records the account's original group and restricts it. Failures are logged;
// the next join re-applies the restriction.
func (e *Engine) applyBuildBan(ctx context.Context, accountID uuid.UUID) {
	if e.groups == nil {
		return
	}
	entry := e.getLogEntry().WithField("method", "applyBuildBan").WithField("account", accountID)
	opts := e.opts.BuildBan

	current, err := e.groups.PrimaryGroup(ctx, accountID)
	if err != nil {
		e.sideEffectFailed(entry.WithError(err), "groups", "cant read primary group")
		return
	}

	if opts.UseGroups {
		if current != opts.DemotedGroup {
			if err := e.store.SaveOriginalGroup(ctx, accountID, current); err != nil {
				e.sideEffectFailed(entry.WithError(err), "store", "cant save original group")
				return
			}
			e.hints.remember(accountID, current)
		}
		if err := e.groups.SetPrimaryGroup(ctx, accountID, opts.DemotedGroup); err != nil {
			e.sideEffectFailed(entry.WithError(err), "groups", "cant set demoted group")
		}
		return
	}

	if err := e.store.SaveOriginalGroup(ctx, accountID, current); err != nil {
		e.sideEffectFailed(entry.WithError(err), "store", "cant save original group")
		return
	}
	if err := e.groups.DenyPermissions(ctx, accountID, opts.Permissions); err != nil {
		e.sideEffectFailed(entry.WithError(err), "groups", "cant deny build permissions")
	}
}

// liftBuildBan flags the account for restoration, then restores a connected account right away.
// The flag stays set until a restore succeeds, so a failed attempt is retried on the next join.
func (e *Engine) liftBuildBan(ctx context.Context, accountID uuid.UUID) {
	if err := e.store.MarkNeedsRestoration(ctx, accountID); err != nil {
		e.sideEffectFailed(e.getLogEntry().WithError(err).WithField("account", accountID), "store", "cant flag buildban restoration")
	}
	if _, online := e.directory.Online(accountID); online {
		e.restoreBuildBan(ctx, accountID, nil)
	}
}

// restoreBuildBan puts the account back to its original group, or re-allows the denied nodes,
// and clears the side table row. It reports whether the restore completed.
func (e *Engine) restoreBuildBan(ctx context.Context, accountID uuid.UUID, row *db.BuildBanGroup) bool {
	entry := e.getLogEntry().WithField("method", "restoreBuildBan").WithField("account", accountID)
	opts := e.opts.BuildBan

	if row == nil {
		var err error
		row, err = e.store.GetBuildBanGroup(ctx, accountID)
		if err != nil {
			e.sideEffectFailed(entry.WithError(err), "store", "cant load buildban group")
			return false
		}
	}

	if e.groups != nil {
		if opts.UseGroups {
			original, ok := e.hints.peek(accountID)
			if !ok && row != nil {
				original = row.OriginalGroup
			}
			if original == "" || original == opts.DemotedGroup {
				original = opts.DefaultGroup
			}
			current, err := e.groups.PrimaryGroup(ctx, accountID)
			if err != nil {
				e.sideEffectFailed(entry.WithError(err), "groups", "cant read primary group")
				return false
			}
			if current == opts.DemotedGroup {
				if err := e.groups.SetPrimaryGroup(ctx, accountID, original); err != nil {
					e.sideEffectFailed(entry.WithError(err), "groups", "cant restore original group")
					return false
				}
			}
		} else if err := e.groups.AllowPermissions(ctx, accountID, opts.Permissions); err != nil {
			e.sideEffectFailed(entry.WithError(err), "groups", "cant allow build permissions")
			return false
		}
	}

	if err := e.store.DeleteBuildBanGroup(ctx, accountID); err != nil {
		e.sideEffectFailed(entry.WithError(err), "store", "cant clear buildban group")
		return false
	}
	e.hints.forget(accountID)
	if e.audit != nil {
		e.audit.LogAction(ctx, db.SystemID, db.SystemName, audit.ActionBuildBanRestore, accountID, "", "build restriction lifted")
	}
	text := e.messages.Render(i18n.BuildBanLifted, nil)
	e.scheduler.RunOnMainLoop(func() {
		if s, ok := e.directory.Online(accountID); ok {
			s.Conn.SendMessage(text)
		}
	})
	entry.Info("build restriction restored")
	return true
}

// HandleJoin reconciles the build restriction of a joining account. It must run off the main loop
// and before the session is published.
func (e *Engine) HandleJoin(ctx context.Context, accountID uuid.UUID) error {
	if p, ok := e.cache.get(accountID, db.BuildBan); ok {
		if !p.IsExpired(e.now()) {
			e.applyBuildBan(ctx, accountID)
			return nil
		}
		if _, err := e.expire(ctx, p); err != nil {
			return err
		}
	}

	row, err := e.store.GetBuildBanGroup(ctx, accountID)
	if err != nil {
		return storeError("get buildban group", err)
	}
	if row != nil && row.NeedsRestoration {
		e.restoreBuildBan(ctx, accountID, row)
	}
	return nil
}

func (e *Engine) sideEffectFailed(entry *log.Entry, collaborator, msg string) {
	observability.RecordSideEffectFailure(collaborator)
	entry.Error(msg)
}
