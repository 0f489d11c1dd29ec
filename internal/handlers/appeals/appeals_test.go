package appeals

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Inpuzah/stafftools/internal/audit"
	"github.com/Inpuzah/stafftools/internal/db"
	"github.com/Inpuzah/stafftools/internal/db/sqlite"
	errs "github.com/Inpuzah/stafftools/internal/errors"
	"github.com/Inpuzah/stafftools/internal/i18n"
	"github.com/Inpuzah/stafftools/internal/policy/permissions"
	"github.com/Inpuzah/stafftools/internal/session"
)

type inlineScheduler struct{}

func (inlineScheduler) RunOnMainLoop(fn func()) { fn() }

type recordingConn struct {
	mutex    sync.Mutex
	messages []string
}

func (c *recordingConn) SendMessage(text string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.messages = append(c.messages, text)
}

func (c *recordingConn) Disconnect(string) {}

func (c *recordingConn) Messages() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]string(nil), c.messages...)
}

type fakeDirectory struct {
	mutex    sync.Mutex
	sessions map[uuid.UUID]*session.Session
}

func (d *fakeDirectory) connect(id uuid.UUID, perms map[string]bool) *recordingConn {
	conn := &recordingConn{}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.sessions[id] = &session.Session{AccountID: id, Permissions: perms, Conn: conn}
	return conn
}

func (d *fakeDirectory) Online(id uuid.UUID) (*session.Session, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	s, ok := d.sessions[id]
	return s, ok
}

func (d *fakeDirectory) OnlineSessions() []*session.Session {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	res := make([]*session.Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		res = append(res, s)
	}
	return res
}

// storePunishments removes punishments straight in the store and remembers the reasons.
type storePunishments struct {
	store   db.Client
	fail    error
	mutex   sync.Mutex
	reasons []string
}

func (p *storePunishments) Get(ctx context.Context, id int64) (*db.Punishment, error) {
	return p.store.GetPunishment(ctx, id)
}

func (p *storePunishments) RemoveByID(ctx context.Context, id int64, actorID uuid.UUID, actorName, reason string) (bool, error) {
	if p.fail != nil {
		return false, p.fail
	}
	p.mutex.Lock()
	p.reasons = append(p.reasons, reason)
	p.mutex.Unlock()
	return p.store.DeactivatePunishment(ctx, id, db.Removal{By: actorID, ByName: actorName, At: time.Now().UnixMilli(), Reason: reason})
}

type fakeAuditor struct {
	mutex   sync.Mutex
	actions []string
}

func (a *fakeAuditor) LogAction(_ context.Context, _ uuid.UUID, _, action string, _ uuid.UUID, _, _ string) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.actions = append(a.actions, action)
}

func (a *fakeAuditor) count(action string) int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	n := 0
	for _, got := range a.actions {
		if got == action {
			n++
		}
	}
	return n
}

type testClock struct {
	mutex sync.Mutex
	now   time.Time
}

func (c *testClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	service     *Service
	store       db.Client
	punishments *storePunishments
	directory   *fakeDirectory
	audit       *fakeAuditor
	clock       *testClock
}

func newHarness(t *testing.T, configure func(*Options)) *harness {
	t.Helper()

	store, err := sqlite.NewSQLiteClient(context.Background(), t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	catalog, err := i18n.NewCatalog("en")
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}

	h := &harness{
		store:       store,
		punishments: &storePunishments{store: store},
		directory:   &fakeDirectory{sessions: map[uuid.UUID]*session.Session{}},
		audit:       &fakeAuditor{},
		clock:       &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	opts := Options{
		Enabled:     true,
		Types:       []db.PunishmentType{db.Ban, db.Mute},
		Cooldown:    24 * time.Hour,
		NotifyStaff: true,
		Now:         h.clock.Now,
	}
	if configure != nil {
		configure(&opts)
	}
	h.service, err = New(Deps{
		Store:       store,
		Punishments: h.punishments,
		Directory:   h.directory,
		Scheduler:   inlineScheduler{},
		Messages:    catalog,
		Audit:       h.audit,
	}, opts)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return h
}

func (h *harness) punish(t *testing.T, account uuid.UUID, kind db.PunishmentType) int64 {
	t.Helper()
	p := &db.Punishment{
		AccountID:   account,
		AccountName: "Alice",
		StaffID:     uuid.New(),
		StaffName:   "Moderator",
		Type:        kind,
		Reason:      "griefing",
		Active:      kind.Enforceable(),
	}
	p.Stamp(h.clock.Now())
	id, err := h.store.InsertPunishment(context.Background(), p)
	if err != nil {
		t.Fatalf("insert punishment: %v", err)
	}
	return id
}

func appeal(account uuid.UUID, punishmentID int64) *db.Appeal {
	return &db.Appeal{PunishmentID: punishmentID, AccountID: account, AccountName: "Alice", Text: "  it was my brother  "}
}

func TestSubmitAndApprove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	alice := uuid.New()
	aliceConn := h.directory.connect(alice, nil)
	staffConn := h.directory.connect(uuid.New(), map[string]bool{permissions.NodeAppealNotify: true})

	pid := h.punish(t, alice, db.Ban)
	a, err := h.service.Submit(ctx, appeal(alice, pid))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if a.ID == 0 || a.Status != db.AppealPending || a.Text != "it was my brother" {
		t.Fatalf("unexpected appeal: %+v", a)
	}
	if msgs := staffConn.Messages(); len(msgs) != 1 || !strings.Contains(msgs[0], "appealed BAN") {
		t.Fatalf("expected staff notice, got %v", msgs)
	}
	if h.audit.count(audit.ActionAppealCreated) != 1 {
		t.Fatalf("expected creation audit entry")
	}

	reviewer := uuid.New()
	reviewed, err := h.service.Review(ctx, a.ID, reviewer, "Admin", true, "fair enough")
	if err != nil || !reviewed {
		t.Fatalf("review: reviewed=%v err=%v", reviewed, err)
	}
	if len(h.punishments.reasons) != 1 || h.punishments.reasons[0] != "Appeal approved: fair enough" {
		t.Fatalf("unexpected removal reasons: %v", h.punishments.reasons)
	}
	p, err := h.store.GetPunishment(ctx, pid)
	if err != nil || p.Active {
		t.Fatalf("expected punishment removed: %+v %v", p, err)
	}
	stored, err := h.service.Get(ctx, a.ID)
	if err != nil || stored.Status != db.AppealApproved || stored.ReviewedBy.UUID != reviewer {
		t.Fatalf("unexpected stored appeal: %+v %v", stored, err)
	}
	if msgs := aliceConn.Messages(); len(msgs) != 1 || !strings.Contains(msgs[0], "approved") {
		t.Fatalf("expected approval message, got %v", msgs)
	}
	if h.audit.count(audit.ActionAppealReviewed) != 1 {
		t.Fatalf("expected review audit entry")
	}

	again, err := h.service.Review(ctx, a.ID, reviewer, "Admin", false, "")
	if err != nil || again {
		t.Fatalf("closed appeal must not be reviewed twice: %v %v", again, err)
	}
}

func TestDenyKeepsPunishment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	alice := uuid.New()
	pid := h.punish(t, alice, db.Mute)

	a, err := h.service.Submit(ctx, appeal(alice, pid))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ok, err := h.service.Review(ctx, a.ID, uuid.New(), "Admin", false, "no"); err != nil || !ok {
		t.Fatalf("deny: %v %v", ok, err)
	}
	if len(h.punishments.reasons) != 0 {
		t.Fatalf("denial must not remove the punishment")
	}
	p, _ := h.store.GetPunishment(ctx, pid)
	if p == nil || !p.Active {
		t.Fatalf("expected punishment to stay active: %+v", p)
	}
}

func TestSubmitRules(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	alice := uuid.New()
	ban := h.punish(t, alice, db.Ban)
	buildBan := h.punish(t, alice, db.BuildBan)
	otherBan := h.punish(t, uuid.New(), db.Ban)

	cases := []struct {
		name   string
		appeal *db.Appeal
		want   error
	}{
		{"missing punishment", appeal(alice, 0), errs.ErrInvalidInput},
		{"blank text", &db.Appeal{PunishmentID: ban, AccountID: alice, Text: "  "}, errs.ErrInvalidInput},
		{"too long", &db.Appeal{PunishmentID: ban, AccountID: alice, Text: strings.Repeat("x", maxTextLength+1)}, errs.ErrInvalidInput},
		{"unknown punishment", appeal(alice, 9999), errs.ErrNotFound},
		{"someone else's punishment", appeal(alice, otherBan), errs.ErrNotFound},
		{"type not appealable", appeal(alice, buildBan), errs.ErrNotAppealable},
	}
	for _, tc := range cases {
		if _, err := h.service.Submit(ctx, tc.appeal); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestCooldownAndPendingLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, func(o *Options) { o.Cooldown = time.Hour })
	alice := uuid.New()
	pid := h.punish(t, alice, db.Ban)

	if _, err := h.service.Submit(ctx, appeal(alice, pid)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := h.service.Submit(ctx, appeal(alice, pid)); !errors.Is(err, errs.ErrCooldown) {
		t.Fatalf("expected ErrCooldown, got %v", err)
	}

	h.clock.Advance(2 * time.Hour)
	if _, err := h.service.Submit(ctx, appeal(alice, pid)); !errors.Is(err, errs.ErrAlreadyAppealed) {
		t.Fatalf("expected ErrAlreadyAppealed, got %v", err)
	}

	pending, err := h.service.List(ctx, db.AppealPending, 0)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending appeal: %d %v", len(pending), err)
	}
	mine, err := h.service.ForAccount(ctx, alice)
	if err != nil || len(mine) != 1 {
		t.Fatalf("expected one account appeal: %d %v", len(mine), err)
	}
}

func TestApprovalFailureLeavesAppealPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	alice := uuid.New()
	pid := h.punish(t, alice, db.Ban)
	a, err := h.service.Submit(ctx, appeal(alice, pid))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	h.punishments.fail = errs.ErrStore
	if ok, err := h.service.Review(ctx, a.ID, uuid.New(), "Admin", true, ""); ok || !errors.Is(err, errs.ErrStore) {
		t.Fatalf("expected removal failure: %v %v", ok, err)
	}
	stored, _ := h.service.Get(ctx, a.ID)
	if stored == nil || stored.Status != db.AppealPending {
		t.Fatalf("appeal should stay pending: %+v", stored)
	}

	h.punishments.fail = nil
	if ok, err := h.service.Review(ctx, a.ID, uuid.New(), "Admin", true, ""); err != nil || !ok {
		t.Fatalf("retry: %v %v", ok, err)
	}
	if h.punishments.reasons[0] != "Appeal approved" {
		t.Fatalf("unexpected reason: %q", h.punishments.reasons[0])
	}
}

func TestDisabledAppeals(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(o *Options) { o.Enabled = false })
	if _, err := h.service.Submit(context.Background(), appeal(uuid.New(), 1)); !errors.Is(err, errs.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
