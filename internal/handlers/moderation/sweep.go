package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Inpuzah/stafftools/internal/db"
	"github.com/Inpuzah/stafftools/internal/observability"
)

// Sweep expires every cached punishment whose expiry has passed and returns how many it removed.
// A failed row does not stop the pass; failures are joined into the returned error.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	ctx, span := e.tracer.Start(ctx, "sweep")
	defer span.End()

	lapsed := e.cache.expired(e.now())
	if len(lapsed) == 0 {
		return 0, nil
	}

	var (
		count    atomic.Int64
		errMutex sync.Mutex
		failures error
	)
	var g errgroup.Group
	g.SetLimit(sweepParallelism)
	for _, p := range lapsed {
		p := p
		g.Go(func() error {
			removed, err := e.expire(ctx, p)
			if err != nil {
				errMutex.Lock()
				failures = errors.Join(failures, fmt.Errorf("expire punishment #%d: %w", p.ID, err))
				errMutex.Unlock()
				return nil
			}
			if removed {
				count.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	n := int(count.Load())
	if n > 0 {
		e.getLogEntry().WithField("method", "Sweep").WithField("expired", n).Info("expired punishments")
	}
	return n, failures
}

// rebuild loads active rows for every enforceable type. Rows that lapsed while the process was down
// are expired so their side effects are reversed.
func (e *Engine) rebuild(ctx context.Context) error {
	entry := e.getLogEntry().WithField("method", "rebuild")
	now := e.now()

	var lapsed []*db.Punishment
	g, gctx := errgroup.WithContext(ctx)
	results := make([][]*db.Punishment, len(db.EnforceableTypes()))
	for i, t := range db.EnforceableTypes() {
		i, t := i, t
		g.Go(func() error {
			rows, err := e.store.GetActivePunishments(gctx, t)
			if err != nil {
				return storeError("load active "+string(t), err)
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		entry.WithError(err).Error("cant rebuild active cache")
		return err
	}

	for _, rows := range results {
		for _, p := range rows {
			if p.IsExpired(now) {
				lapsed = append(lapsed, p)
				continue
			}
			e.cache.put(p)
		}
	}
	for _, t := range db.EnforceableTypes() {
		observability.SetActive(string(t), e.cache.size(t))
	}

	for _, p := range lapsed {
		if _, err := e.expire(ctx, p); err != nil {
			entry.WithError(err).WithField("id", p.ID).Warn("cant expire lapsed punishment")
		}
	}
	entry.WithField("lapsed", len(lapsed)).Info("active cache rebuilt")
	return nil
}
