// Package groups is a store-backed permission-group service: one primary group per account
// plus explicit permission node overrides.
package groups

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Inpuzah/stafftools/internal/db"
)

type store interface {
	GetPermissionUser(ctx context.Context, accountID uuid.UUID) (*db.PermissionUser, error)
	SavePermissionUser(ctx context.Context, user *db.PermissionUser) error
}

type Service struct {
	store        store
	defaultGroup string
	mutex        sync.Mutex
}

func NewService(store store, defaultGroup string) *Service {
	return &Service{store: store, defaultGroup: defaultGroup}
}

func (s *Service) load(ctx context.Context, accountID uuid.UUID) (*db.PermissionUser, error) {
	user, err := s.store.GetPermissionUser(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load permission user: %w", err)
	}
	if user == nil {
		user = &db.PermissionUser{AccountID: accountID, PrimaryGroup: s.defaultGroup}
	}
	if user.Nodes == nil {
		user.Nodes = map[string]bool{}
	}
	return user, nil
}

func (s *Service) update(ctx context.Context, accountID uuid.UUID, fn func(user *db.PermissionUser)) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	user, err := s.load(ctx, accountID)
	if err != nil {
		return err
	}
	fn(user)
	if err := s.store.SavePermissionUser(ctx, user); err != nil {
		return fmt.Errorf("save permission user: %w", err)
	}
	return nil
}

// PrimaryGroup returns the account's group, or the default group for unknown accounts.
func (s *Service) PrimaryGroup(ctx context.Context, accountID uuid.UUID) (string, error) {
	user, err := s.load(ctx, accountID)
	if err != nil {
		return "", err
	}
	return user.PrimaryGroup, nil
}

func (s *Service) SetPrimaryGroup(ctx context.Context, accountID uuid.UUID, group string) error {
	return s.update(ctx, accountID, func(user *db.PermissionUser) {
		user.PrimaryGroup = group
	})
}

func (s *Service) DenyPermissions(ctx context.Context, accountID uuid.UUID, nodes []string) error {
	return s.update(ctx, accountID, func(user *db.PermissionUser) {
		for _, node := range nodes {
			user.Nodes[node] = false
		}
	})
}

// AllowPermissions drops deny overrides so the nodes fall back to group defaults.
func (s *Service) AllowPermissions(ctx context.Context, accountID uuid.UUID, nodes []string) error {
	return s.update(ctx, accountID, func(user *db.PermissionUser) {
		for _, node := range nodes {
			if allowed, ok := user.Nodes[node]; ok && !allowed {
				delete(user.Nodes, node)
			}
		}
	})
}

// Denied reports whether node carries an explicit deny override.
func (s *Service) Denied(ctx context.Context, accountID uuid.UUID, node string) (bool, error) {
	user, err := s.load(ctx, accountID)
	if err != nil {
		return false, err
	}
	allowed, ok := user.Nodes[node]
	return ok && !allowed, nil
}
