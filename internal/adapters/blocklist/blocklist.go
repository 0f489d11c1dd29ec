// Package blocklist is the connection-block list consulted by the network layer before login.
package blocklist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Inpuzah/stafftools/internal/db"
)

type store interface {
	UpsertBlock(ctx context.Context, entry *db.BlockEntry) error
	GetBlock(ctx context.Context, accountID uuid.UUID) (*db.BlockEntry, error)
	DeleteBlock(ctx context.Context, accountID uuid.UUID) (bool, error)
}

type List struct {
	store store
	now   func() time.Time
}

func New(store store) *List {
	return &List{store: store, now: time.Now}
}

func (l *List) Add(ctx context.Context, entry *db.BlockEntry) error {
	if entry.CreatedAt == 0 {
		entry.CreatedAt = l.now().UnixMilli()
	}
	if err := l.store.UpsertBlock(ctx, entry); err != nil {
		return fmt.Errorf("add block for %s: %w", entry.AccountID, err)
	}
	return nil
}

// Pardon removes the entry and reports whether one existed.
func (l *List) Pardon(ctx context.Context, accountID uuid.UUID) (bool, error) {
	removed, err := l.store.DeleteBlock(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("pardon %s: %w", accountID, err)
	}
	return removed, nil
}

// Lookup returns the live entry for the account. Lapsed entries are dropped and reported as absent.
func (l *List) Lookup(ctx context.Context, accountID uuid.UUID) (*db.BlockEntry, error) {
	entry, err := l.store.GetBlock(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("lookup block for %s: %w", accountID, err)
	}
	if entry == nil {
		return nil, nil
	}
	if entry.IsExpired(l.now()) {
		if _, err := l.store.DeleteBlock(ctx, accountID); err != nil {
			return nil, fmt.Errorf("drop lapsed block for %s: %w", accountID, err)
		}
		return nil, nil
	}
	return entry, nil
}

func (l *List) IsBlocked(ctx context.Context, accountID uuid.UUID) (bool, error) {
	entry, err := l.Lookup(ctx, accountID)
	return entry != nil, err
}
