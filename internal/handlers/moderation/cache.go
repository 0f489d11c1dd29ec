package moderation

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Inpuzah/stafftools/internal/db"
	"github.com/Inpuzah/stafftools/internal/observability"
)

// activeCache holds one record per (account, enforceable type). Stored records are private
// copies and are never mutated after insertion.
type activeCache struct {
	byType map[db.PunishmentType]*xsync.MapOf[uuid.UUID, *db.Punishment]
}

func newActiveCache() *activeCache {
	c := &activeCache{byType: make(map[db.PunishmentType]*xsync.MapOf[uuid.UUID, *db.Punishment])}
	for _, t := range db.EnforceableTypes() {
		c.byType[t] = xsync.NewMapOf[uuid.UUID, *db.Punishment]()
	}
	return c
}

func (c *activeCache) get(accountID uuid.UUID, t db.PunishmentType) (*db.Punishment, bool) {
	m, ok := c.byType[t]
	if !ok {
		return nil, false
	}
	return m.Load(accountID)
}

func (c *activeCache) put(p *db.Punishment) {
	m, ok := c.byType[p.Type]
	if !ok {
		return
	}
	m.Store(p.AccountID, p.Clone())
	observability.SetActive(string(p.Type), m.Size())
}

// removeIf drops the entry only while it still holds punishment id, so a newer record is never evicted
// by a stale removal.
func (c *activeCache) removeIf(accountID uuid.UUID, t db.PunishmentType, id int64) bool {
	m, ok := c.byType[t]
	if !ok {
		return false
	}
	removed := false
	m.Compute(accountID, func(old *db.Punishment, loaded bool) (*db.Punishment, bool) {
		if !loaded {
			return nil, true
		}
		if old.ID != id {
			return old, false
		}
		removed = true
		return nil, true
	})
	if removed {
		observability.SetActive(string(t), m.Size())
	}
	return removed
}

func (c *activeCache) expired(now time.Time) []*db.Punishment {
	var res []*db.Punishment
	for _, m := range c.byType {
		m.Range(func(_ uuid.UUID, p *db.Punishment) bool {
			if p.IsExpired(now) {
				res = append(res, p)
			}
			return true
		})
	}
	return res
}

func (c *activeCache) forAccount(accountID uuid.UUID) []*db.Punishment {
	var res []*db.Punishment
	for _, t := range db.EnforceableTypes() {
		if p, ok := c.get(accountID, t); ok {
			res = append(res, p)
		}
	}
	return res
}

func (c *activeCache) size(t db.PunishmentType) int {
	m, ok := c.byType[t]
	if !ok {
		return 0
	}
	return m.Size()
}

type lockKey struct {
	accountID uuid.UUID
	kind      db.PunishmentType
}

type keyedLock struct {
	mutex sync.Mutex
	refs  int
}

// keyedLocks serializes issuance per (account, type). Entries are dropped once no caller holds
// or waits for them.
type keyedLocks struct {
	mutex sync.Mutex
	locks map[lockKey]*keyedLock
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[lockKey]*keyedLock)}
}

func (k *keyedLocks) lock(accountID uuid.UUID, t db.PunishmentType) func() {
	key := lockKey{accountID: accountID, kind: t}

	k.mutex.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mutex.Unlock()

	l.mutex.Lock()
	return func() {
		l.mutex.Unlock()

		k.mutex.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mutex.Unlock()
	}
}

func (k *keyedLocks) size() int {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	return len(k.locks)
}

// groupHints remembers original groups captured during this process lifetime.
type groupHints struct {
	groups *xsync.MapOf[uuid.UUID, string]
}

func newGroupHints() *groupHints {
	return &groupHints{groups: xsync.NewMapOf[uuid.UUID, string]()}
}

func (h *groupHints) remember(accountID uuid.UUID, group string) {
	h.groups.LoadOrStore(accountID, group)
}

func (h *groupHints) peek(accountID uuid.UUID) (string, bool) {
	return h.groups.Load(accountID)
}

func (h *groupHints) forget(accountID uuid.UUID) {
	h.groups.Delete(accountID)
}
