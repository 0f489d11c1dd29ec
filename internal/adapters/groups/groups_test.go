package groups

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/Inpuzah/stafftools/internal/db"
)

type memoryStore struct {
	users map[uuid.UUID]*db.PermissionUser
}

func (m *memoryStore) GetPermissionUser(_ context.Context, id uuid.UUID) (*db.PermissionUser, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	nodes := make(map[string]bool, len(u.Nodes))
	for k, v := range u.Nodes {
		nodes[k] = v
	}
	return &db.PermissionUser{AccountID: u.AccountID, PrimaryGroup: u.PrimaryGroup, Nodes: nodes}, nil
}

func (m *memoryStore) SavePermissionUser(_ context.Context, u *db.PermissionUser) error {
	m.users[u.AccountID] = u
	return nil
}

func TestGroupSwapAndPermissionOverrides(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewService(&memoryStore{users: map[uuid.UUID]*db.PermissionUser{}}, "default")
	id := uuid.New()

	group, err := svc.PrimaryGroup(ctx, id)
	if err != nil || group != "default" {
		t.Fatalf("unexpected default group: %q, %v", group, err)
	}
	if err := svc.SetPrimaryGroup(ctx, id, "buildbanned"); err != nil {
		t.Fatalf("set group: %v", err)
	}
	if group, _ := svc.PrimaryGroup(ctx, id); group != "buildbanned" {
		t.Fatalf("group not persisted: %q", group)
	}

	nodes := []string{"world.build", "world.break"}
	if err := svc.DenyPermissions(ctx, id, nodes); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if denied, _ := svc.Denied(ctx, id, "world.build"); !denied {
		t.Fatalf("expected world.build to be denied")
	}
	if err := svc.AllowPermissions(ctx, id, nodes); err != nil {
		t.Fatalf("allow: %v", err)
	}
	if denied, _ := svc.Denied(ctx, id, "world.break"); denied {
		t.Fatalf("expected world.break override to be removed")
	}
}
