package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Inpuzah/stafftools/internal/db"
)

type memoryStore struct {
	mu      sync.Mutex
	entries []*db.AuditEntry
	kv      map[string]string
}

func (m *memoryStore) InsertAuditEntry(_ context.Context, e *db.AuditEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	e.ID = int64(len(m.entries))
	return e.ID, nil
}

func (m *memoryStore) GetRecentAuditEntries(_ context.Context, limit int) ([]*db.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*db.AuditEntry
	for i := len(m.entries) - 1; i >= 0 && len(res) < limit; i-- {
		res = append(res, m.entries[i])
	}
	return res, nil
}

func (m *memoryStore) DeleteAuditEntriesBefore(_ context.Context, cutoff int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	var n int64
	for _, e := range m.entries {
		if e.CreatedAt < cutoff {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return n, nil
}

func (m *memoryStore) GetKV(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kv[key], nil
}

func (m *memoryStore) SetKV(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kv == nil {
		m.kv = map[string]string{}
	}
	m.kv[key] = value
	return nil
}

func TestActionFilter(t *testing.T) {
	t.Parallel()

	store := &memoryStore{}
	l, err := New(store, Options{Enabled: true, Actions: []string{"punishment_issued"}, ServerName: "hub"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	target := uuid.New()
	l.LogAction(ctx, uuid.New(), "Mod", ActionIssued, target, "Kim", "BAN #1")
	l.LogAction(ctx, db.SystemID, db.SystemName, ActionExpired, target, "Kim", "BAN #1")

	entries, _ := l.Recent(ctx, 10)
	if len(entries) != 1 || entries[0].Action != ActionIssued || entries[0].ServerName != "hub" {
		t.Fatalf("unexpected entries: %#v", entries)
	}
	if !entries[0].TargetID.Valid || entries[0].TargetID.UUID != target {
		t.Fatalf("target not recorded: %#v", entries[0].TargetID)
	}

	disabled, _ := New(store, Options{Enabled: false})
	if disabled.Enabled(ActionIssued) {
		t.Fatalf("disabled logger must not accept actions")
	}
}

func TestRetentionCleanup(t *testing.T) {
	t.Parallel()

	store := &memoryStore{}
	l, err := New(store, Options{Enabled: true, RetentionDays: 90})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	now := time.Now()
	l.now = func() time.Time { return now.Add(-100 * 24 * time.Hour) }
	l.LogAction(context.Background(), uuid.New(), "Mod", ActionIssued, uuid.New(), "old", "")
	l.now = func() time.Time { return now }
	l.LogAction(context.Background(), uuid.New(), "Mod", ActionIssued, uuid.New(), "new", "")

	n, err := l.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 || len(store.entries) != 1 || store.entries[0].TargetName != "new" {
		t.Fatalf("unexpected cleanup result: n=%d entries=%d", n, len(store.entries))
	}
	if store.kv[kvKeyLastCleanup] == "" {
		t.Fatalf("cleanup time not recorded")
	}
}

func TestMirrorWritesJSONLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := New(&memoryStore{}, Options{Enabled: true, MirrorFile: path})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	l.LogAction(context.Background(), uuid.New(), "Mod", ActionRemoved, uuid.New(), "Leo", "MUTE #4")
	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open mirror: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatalf("mirror file is empty")
	}
	var line map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
		t.Fatalf("decode mirror line: %v", err)
	}
	if line["action"] != ActionRemoved || line["target"] != "Leo" {
		t.Fatalf("unexpected mirror line: %v", line)
	}
}
