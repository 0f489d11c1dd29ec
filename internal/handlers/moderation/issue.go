package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Inpuzah/stafftools/internal/audit"
	"github.com/Inpuzah/stafftools/internal/db"
	errs "github.com/Inpuzah/stafftools/internal/errors"
	"github.com/Inpuzah/stafftools/internal/i18n"
	"github.com/Inpuzah/stafftools/internal/observability"
)

type IssueResult struct {
	Punishment *db.Punishment
	Err        error
}

type RemoveResult struct {
	Removed bool
	Err     error
}

// Issue persists p and schedules its enforcement. Enforceable types are rejected with
// ErrAlreadyPunished while the account already has an active one. Store failures wrap ErrStore.
// Enforcement runs on the worker pool after Issue returns.
func (e *Engine) Issue(ctx context.Context, p *db.Punishment) (res *db.Punishment, err error) {
	ctx, span := e.tracer.Start(ctx, "issue")
	done := observability.StartOperation("issue")
	defer func() {
		status := "ok"
		switch {
		case errors.Is(err, errs.ErrAlreadyPunished):
			status = "duplicate"
		case err != nil:
			status = "error"
			span.SetStatus(codes.Error, err.Error())
		}
		done(status)
		span.End()
	}()

	if err := validate(p); err != nil {
		return nil, err
	}
	p = p.Clone()
	span.SetAttributes(
		attribute.String("punishment.type", string(p.Type)),
		attribute.String("account.id", p.AccountID.String()),
	)

	entry := e.getLogEntry().WithField("method", "Issue").WithField("type", p.Type).WithField("account", p.AccountID)
	now := e.now()
	p.Stamp(now)
	if p.ServerName == "" {
		p.ServerName = e.opts.ServerName
	}
	p.Active = p.Type.Enforceable()

	if p.Active {
		unlock := e.locks.lock(p.AccountID, p.Type)
		defer unlock()

		if cached, ok := e.cache.get(p.AccountID, p.Type); ok {
			if !cached.IsExpired(now) {
				observability.RecordDuplicate(string(p.Type))
				return nil, fmt.Errorf("%w: %s #%d is active", errs.ErrAlreadyPunished, p.Type, cached.ID)
			}
			if _, err := e.expire(ctx, cached); err != nil {
				entry.WithError(err).Warn("cant expire lapsed cached punishment")
			}
		}

		existing, err := e.store.GetActivePunishment(ctx, p.AccountID, p.Type)
		if err != nil {
			entry.WithError(err).Error("duplicate check failed")
			return nil, storeError("duplicate check", err)
		}
		if existing != nil {
			if !existing.IsExpired(now) {
				observability.RecordDuplicate(string(p.Type))
				return nil, fmt.Errorf("%w: %s #%d is active", errs.ErrAlreadyPunished, p.Type, existing.ID)
			}
			if _, err := e.expire(ctx, existing); err != nil {
				return nil, err
			}
		}
	}

	id, err := e.store.InsertPunishment(ctx, p)
	if err != nil {
		if errors.Is(err, errs.ErrAlreadyPunished) {
			observability.RecordDuplicate(string(p.Type))
			return nil, err
		}
		entry.WithError(err).Error("cant insert punishment")
		return nil, storeError("insert punishment", err)
	}
	p.ID = id
	if p.Active {
		e.cache.put(p)
	}
	observability.RecordIssued(string(p.Type))
	entry.WithField("id", id).Info("punishment issued")

	issued := p.Clone()
	e.scheduler.RunAsync(func(ctx context.Context) {
		e.afterIssue(ctx, issued)
	})
	return p, nil
}

// IssueAsync runs Issue on the worker pool. The channel yields exactly one result.
func (e *Engine) IssueAsync(p *db.Punishment) <-chan IssueResult {
	ch := make(chan IssueResult, 1)
	p = p.Clone()
	e.scheduler.RunAsync(func(ctx context.Context) {
		res, err := e.Issue(ctx, p)
		ch <- IssueResult{Punishment: res, Err: err}
		close(ch)
	})
	return ch
}

func (e *Engine) afterIssue(ctx context.Context, p *db.Punishment) {
	e.enforce(ctx, p)
	e.notifyStaff(i18n.StaffIssued, e.vars(p))
	if e.audit != nil {
		e.audit.LogAction(ctx, p.StaffID, p.StaffName, audit.ActionIssued, p.AccountID, p.AccountName, describe(p))
	}
	if e.notifier != nil {
		if err := e.notifier.NotifyIssued(ctx, p); err != nil {
			observability.RecordSideEffectFailure("notifier")
			e.getLogEntry().WithError(err).WithField("id", p.ID).Warn("issue notification failed")
		}
	}
}

func validate(p *db.Punishment) error {
	switch {
	case p == nil:
		return fmt.Errorf("%w: nil punishment", errs.ErrInvalidInput)
	case !p.Type.Valid():
		return fmt.Errorf("%w: unknown punishment type %q", errs.ErrInvalidInput, p.Type)
	case p.AccountID == uuid.Nil:
		return fmt.Errorf("%w: missing account id", errs.ErrInvalidInput)
	case p.Duration < 0:
		return fmt.Errorf("%w: negative duration %d", errs.ErrInvalidInput, p.Duration)
	case strings.TrimSpace(p.Reason) == "":
		return fmt.Errorf("%w: empty reason", errs.ErrInvalidInput)
	}
	return nil
}

func describe(p *db.Punishment) string {
	return fmt.Sprintf("%s #%d (%d min): %s", p.Type, p.ID, p.Duration, p.Reason)
}
