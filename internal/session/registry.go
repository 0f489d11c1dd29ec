// Package session tracks connected accounts and resolves names to account ids.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"

	"github.com/Inpuzah/stafftools/internal/db"
)

const defaultNameCacheSize = 4096

// Conn is the host's handle on a live connection. Calls must come from the main loop.
type Conn interface {
	SendMessage(text string)
	Disconnect(reason string)
}

type Session struct {
	AccountID   uuid.UUID
	Name        string
	Address     string
	Permissions map[string]bool
	JoinedAt    time.Time
	Conn        Conn
}

func (s *Session) HasPermission(node string) bool {
	return s.Permissions[node]
}

type accountStore interface {
	UpsertAccount(ctx context.Context, account *db.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*db.Account, error)
	GetAccountByName(ctx context.Context, name string) (*db.Account, error)
}

type Registry struct {
	store  accountStore
	online *xsync.MapOf[uuid.UUID, *Session]
	names  *lru.Cache
	now    func() time.Time
}

func NewRegistry(store accountStore, nameCacheSize int) (*Registry, error) {
	if nameCacheSize <= 0 {
		nameCacheSize = defaultNameCacheSize
	}
	names, err := lru.New(nameCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create name cache: %w", err)
	}
	return &Registry{
		store:  store,
		online: xsync.NewMapOf[uuid.UUID, *Session](),
		names:  names,
		now:    time.Now,
	}, nil
}

func (r *Registry) getLogEntry() *log.Entry {
	return log.WithField("object", "SessionRegistry")
}

// Join records the account and marks the session online.
func (r *Registry) Join(ctx context.Context, s *Session) error {
	if s.JoinedAt.IsZero() {
		s.JoinedAt = r.now()
	}
	account := &db.Account{ID: s.AccountID, Name: s.Name, LastSeen: s.JoinedAt.UnixMilli()}
	if s.Address != "" {
		addr := s.Address
		account.LastAddress = &addr
	}
	if err := r.store.UpsertAccount(ctx, account); err != nil {
		r.getLogEntry().WithError(err).WithField("account", s.AccountID).Warn("cant record account")
	}
	r.names.Add(strings.ToLower(s.Name), s.AccountID)
	r.online.Store(s.AccountID, s)
	return nil
}

func (r *Registry) Leave(accountID uuid.UUID) {
	r.online.Delete(accountID)
}

func (r *Registry) Online(accountID uuid.UUID) (*Session, bool) {
	return r.online.Load(accountID)
}

func (r *Registry) OnlineSessions() []*Session {
	sessions := make([]*Session, 0, r.online.Size())
	r.online.Range(func(_ uuid.UUID, s *Session) bool {
		sessions = append(sessions, s)
		return true
	})
	return sessions
}

// Resolve finds an account by id string or by case-insensitive name. It returns nil when unknown.
func (r *Registry) Resolve(ctx context.Context, nameOrID string) (*db.Account, error) {
	nameOrID = strings.TrimSpace(nameOrID)
	if id, err := uuid.Parse(nameOrID); err == nil {
		if s, ok := r.Online(id); ok {
			return &db.Account{ID: s.AccountID, Name: s.Name}, nil
		}
		return r.store.GetAccount(ctx, id)
	}

	key := strings.ToLower(nameOrID)
	if cached, ok := r.names.Get(key); ok {
		if id, ok := cached.(uuid.UUID); ok {
			if s, online := r.Online(id); online {
				return &db.Account{ID: s.AccountID, Name: s.Name}, nil
			}
		}
	}
	account, err := r.store.GetAccountByName(ctx, nameOrID)
	if err != nil {
		return nil, err
	}
	if account != nil {
		r.names.Add(key, account.ID)
	}
	return account, nil
}
