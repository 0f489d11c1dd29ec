package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Inpuzah/stafftools/internal/audit"
	"github.com/Inpuzah/stafftools/internal/db"
	errs "github.com/Inpuzah/stafftools/internal/errors"
	"github.com/Inpuzah/stafftools/internal/i18n"
	"github.com/Inpuzah/stafftools/internal/observability"
)

const defaultRemoveReason = "Removed by staff"

// RemoveByID deactivates punishment id. It reports false when the record is missing or already inactive.
func (e *Engine) RemoveByID(ctx context.Context, id int64, actorID uuid.UUID, actorName, reason string) (removed bool, err error) {
	ctx, span := e.tracer.Start(ctx, "remove_by_id")
	span.SetAttributes(attribute.Int64("punishment.id", id))
	done := observability.StartOperation("remove")
	defer func() { e.finishRemove(span, done, err) }()

	p, err := e.store.GetPunishment(ctx, id)
	if err != nil {
		return false, storeError("get punishment", err)
	}
	if p == nil || !p.Active {
		return false, nil
	}
	return e.deactivate(ctx, p, e.removal(actorID, actorName, reason), audit.ActionRemoved)
}

// RemoveByAccountNameOrID deactivates the active punishment of type t for the account named by nameOrID.
// A ban without a matching record still pardons a block-list entry when one exists.
func (e *Engine) RemoveByAccountNameOrID(ctx context.Context, nameOrID string, t db.PunishmentType, actorID uuid.UUID, actorName, reason string) (removed bool, err error) {
	ctx, span := e.tracer.Start(ctx, "remove_by_account")
	span.SetAttributes(attribute.String("punishment.type", string(t)), attribute.String("account", nameOrID))
	done := observability.StartOperation("remove")
	defer func() { e.finishRemove(span, done, err) }()

	nameOrID = strings.TrimSpace(nameOrID)
	if nameOrID == "" {
		return false, fmt.Errorf("%w: empty account", errs.ErrInvalidInput)
	}
	if !t.Valid() {
		return false, fmt.Errorf("%w: unknown punishment type %q", errs.ErrInvalidInput, t)
	}

	p, err := e.store.FindActivePunishment(ctx, nameOrID, t)
	if err != nil {
		return false, storeError("find active punishment", err)
	}
	if p != nil {
		return e.deactivate(ctx, p, e.removal(actorID, actorName, reason), audit.ActionRemoved)
	}
	if t != db.Ban || e.blockList == nil {
		return false, nil
	}
	return e.pardonOrphan(ctx, nameOrID, actorID, actorName)
}

func (e *Engine) RemoveByIDAsync(id int64, actorID uuid.UUID, actorName, reason string) <-chan RemoveResult {
	ch := make(chan RemoveResult, 1)
	e.scheduler.RunAsync(func(ctx context.Context) {
		removed, err := e.RemoveByID(ctx, id, actorID, actorName, reason)
		ch <- RemoveResult{Removed: removed, Err: err}
		close(ch)
	})
	return ch
}

func (e *Engine) RemoveByAccountNameOrIDAsync(nameOrID string, t db.PunishmentType, actorID uuid.UUID, actorName, reason string) <-chan RemoveResult {
	ch := make(chan RemoveResult, 1)
	e.scheduler.RunAsync(func(ctx context.Context) {
		removed, err := e.RemoveByAccountNameOrID(ctx, nameOrID, t, actorID, actorName, reason)
		ch <- RemoveResult{Removed: removed, Err: err}
		close(ch)
	})
	return ch
}

func (e *Engine) pardonOrphan(ctx context.Context, nameOrID string, actorID uuid.UUID, actorName string) (bool, error) {
	account, err := e.directory.Resolve(ctx, nameOrID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if account == nil {
		return false, nil
	}
	pardoned, err := e.blockList.Pardon(ctx, account.ID)
	if err != nil {
		return false, storeError("pardon", err)
	}
	if pardoned && e.audit != nil {
		e.audit.LogAction(ctx, actorID, actorName, audit.ActionBlockPardoned, account.ID, account.Name, "block entry without punishment record")
	}
	return pardoned, nil
}

func (e *Engine) removal(actorID uuid.UUID, actorName, reason string) db.Removal {
	if strings.TrimSpace(reason) == "" {
		reason = defaultRemoveReason
	}
	return db.Removal{By: actorID, ByName: actorName, At: e.now().UnixMilli(), Reason: reason}
}

func (e *Engine) finishRemove(span trace.Span, done func(string), err error) {
	status := "ok"
	if err != nil {
		status = "error"
		span.SetStatus(codes.Error, err.Error())
	}
	done(status)
	span.End()
}

// expire deactivates p on behalf of the system.
func (e *Engine) expire(ctx context.Context, p *db.Punishment) (bool, error) {
	return e.deactivate(ctx, p, e.system(reasonExpired), audit.ActionExpired)
}

// deactivate flips p to inactive and reverses its side effects. Only the caller whose update
// changed the row runs the reversal, so concurrent removals and the sweep never double up.
func (e *Engine) deactivate(ctx context.Context, p *db.Punishment, removal db.Removal, action string) (bool, error) {
	entry := e.getLogEntry().WithField("method", "deactivate").WithField("id", p.ID).WithField("type", p.Type)

	changed, err := e.store.DeactivatePunishment(ctx, p.ID, removal)
	if err != nil {
		entry.WithError(err).Error("cant deactivate punishment")
		return false, storeError("deactivate punishment", err)
	}
	e.cache.removeIf(p.AccountID, p.Type, p.ID)
	if !changed {
		return false, nil
	}

	p = p.Clone()
	p.MarkRemoved(removal)
	cause := "manual"
	if action == audit.ActionExpired {
		cause = "expired"
	}
	observability.RecordRemoved(string(p.Type), cause)
	entry.WithField("cause", cause).Info("punishment removed")

	e.reverse(ctx, p)
	e.notifyStaff(i18n.StaffRemoved, e.removalVars(p, removal))
	if e.audit != nil {
		e.audit.LogAction(ctx, removal.By, removal.ByName, action, p.AccountID, p.AccountName, fmt.Sprintf("%s #%d: %s", p.Type, p.ID, removal.Reason))
	}
	if e.notifier != nil {
		if err := e.notifier.NotifyRemoved(ctx, p); err != nil {
			observability.RecordSideEffectFailure("notifier")
			entry.WithError(err).Warn("removal notification failed")
		}
	}
	return true, nil
}
