package adapters

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/Inpuzah/stafftools/internal/db"
)

// Notifier delivers punishment events to something outside the game server.
type Notifier interface {
	Name() string
	NotifyIssued(ctx context.Context, p *db.Punishment) error
	NotifyRemoved(ctx context.Context, p *db.Punishment) error
}

// Fanout forwards every event to all notifiers and joins their errors.
type Fanout []Notifier

func (f Fanout) Name() string {
	return "fanout"
}

func (f Fanout) NotifyIssued(ctx context.Context, p *db.Punishment) error {
	return f.each(func(n Notifier) error { return n.NotifyIssued(ctx, p) })
}

func (f Fanout) NotifyRemoved(ctx context.Context, p *db.Punishment) error {
	return f.each(func(n Notifier) error { return n.NotifyRemoved(ctx, p) })
}

func (f Fanout) each(call func(n Notifier) error) error {
	var errs error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := call(n); err != nil {
			log.WithField("object", "Fanout").WithField("notifier", n.Name()).WithError(err).Warn("notification failed")
			errs = errors.Join(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errs
}
