package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/Inpuzah/stafftools/internal/db"
	errs "github.com/Inpuzah/stafftools/internal/errors"
	"github.com/Inpuzah/stafftools/internal/session"
)

type fakeGate struct {
	mutex  sync.Mutex
	banned map[uuid.UUID]bool
	joined map[uuid.UUID]*session.Session
	quits  []uuid.UUID
}

func newFakeGate() *fakeGate {
	return &fakeGate{banned: map[uuid.UUID]bool{}, joined: map[uuid.UUID]*session.Session{}}
}

func (g *fakeGate) Login(id uuid.UUID) (bool, string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.banned[id] {
		return false, "You are banned"
	}
	return true, ""
}

func (g *fakeGate) Join(_ context.Context, s *session.Session) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.joined[s.AccountID] = s
	s.Conn.SendMessage("welcome " + s.Name)
	return nil
}

func (g *fakeGate) session(id uuid.UUID) *session.Session {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.joined[id]
}

func (g *fakeGate) Chat(uuid.UUID) (bool, string)  { return false, "You are muted" }
func (g *fakeGate) Build(uuid.UUID) (bool, string) { return true, "" }

func (g *fakeGate) Quit(id uuid.UUID) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.quits = append(g.quits, id)
	delete(g.joined, id)
}

type fakeLoop struct {
	mutex sync.Mutex
	calls int
	err   error
}

func (l *fakeLoop) Call(_ context.Context, fn func()) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.err != nil {
		return l.err
	}
	l.calls++
	fn()
	return nil
}

type fakeModeration struct {
	mutex  sync.Mutex
	issued []*db.Punishment
}

func (m *fakeModeration) Issue(_ context.Context, p *db.Punishment) (*db.Punishment, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if p.Reason == "" {
		return nil, fmt.Errorf("%w: empty reason", errs.ErrInvalidInput)
	}
	for _, existing := range m.issued {
		if existing.AccountID == p.AccountID && existing.Type == p.Type && p.Type.Enforceable() {
			return nil, fmt.Errorf("%w: %s", errs.ErrAlreadyPunished, p.Type)
		}
	}
	res := *p
	res.ID = int64(len(m.issued) + 1)
	res.Active = p.Type.Enforceable()
	m.issued = append(m.issued, &res)
	return &res, nil
}

func (m *fakeModeration) RemoveByID(_ context.Context, id int64, _ uuid.UUID, _, _ string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, p := range m.issued {
		if p.ID == id && p.Active {
			p.Active = false
			return true, nil
		}
	}
	return false, nil
}

func (m *fakeModeration) RemoveByAccountNameOrID(_ context.Context, nameOrID string, t db.PunishmentType, _ uuid.UUID, _, _ string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, p := range m.issued {
		if (p.AccountName == nameOrID || p.AccountID.String() == nameOrID) && p.Type == t && p.Active {
			p.Active = false
			return true, nil
		}
	}
	return false, nil
}

func (m *fakeModeration) Get(_ context.Context, id int64) (*db.Punishment, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, p := range m.issued {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (m *fakeModeration) History(_ context.Context, accountID uuid.UUID) ([]*db.Punishment, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var res []*db.Punishment
	for _, p := range m.issued {
		if p.AccountID == accountID {
			res = append(res, p)
		}
	}
	return res, nil
}

func (m *fakeModeration) ActiveFor(accountID uuid.UUID) []*db.Punishment {
	history, _ := m.History(context.Background(), accountID)
	var res []*db.Punishment
	for _, p := range history {
		if p.Active {
			res = append(res, p)
		}
	}
	return res
}

func (m *fakeModeration) Recent(context.Context, int) ([]*db.Punishment, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]*db.Punishment(nil), m.issued...), nil
}

type fakeAppeals struct {
	mutex   sync.Mutex
	appeals []*db.Appeal
}

func (a *fakeAppeals) Submit(_ context.Context, in *db.Appeal) (*db.Appeal, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	for _, existing := range a.appeals {
		if existing.AccountID == in.AccountID {
			return nil, fmt.Errorf("%w: next appeal allowed in 24h", errs.ErrCooldown)
		}
	}
	res := *in
	res.ID = int64(len(a.appeals) + 1)
	res.Status = db.AppealPending
	a.appeals = append(a.appeals, &res)
	return &res, nil
}

func (a *fakeAppeals) Review(_ context.Context, id int64, _ uuid.UUID, _ string, approve bool, _ string) (bool, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	for _, existing := range a.appeals {
		if existing.ID == id && existing.Status == db.AppealPending {
			existing.Status = db.AppealDenied
			if approve {
				existing.Status = db.AppealApproved
			}
			return true, nil
		}
	}
	return false, nil
}

func (a *fakeAppeals) Get(_ context.Context, id int64) (*db.Appeal, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	for _, existing := range a.appeals {
		if existing.ID == id {
			return existing, nil
		}
	}
	return nil, nil
}

func (a *fakeAppeals) List(_ context.Context, status db.AppealStatus, _ int) ([]*db.Appeal, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	var res []*db.Appeal
	for _, existing := range a.appeals {
		if status == "" || existing.Status == status {
			res = append(res, existing)
		}
	}
	return res, nil
}

func (a *fakeAppeals) ForAccount(_ context.Context, accountID uuid.UUID) ([]*db.Appeal, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	var res []*db.Appeal
	for _, existing := range a.appeals {
		if existing.AccountID == accountID {
			res = append(res, existing)
		}
	}
	return res, nil
}

type harness struct {
	server     *Server
	gate       *fakeGate
	loop       *fakeLoop
	moderation *fakeModeration
	appeals    *fakeAppeals
}

func newHarness(token string) *harness {
	h := &harness{
		gate:       newFakeGate(),
		loop:       &fakeLoop{},
		moderation: &fakeModeration{},
		appeals:    &fakeAppeals{},
	}
	h.server = NewServer(":0", token, Deps{
		Gate:       h.gate,
		Moderation: h.moderation,
		Appeals:    h.appeals,
		Loop:       h.loop,
	})
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var res T
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return res
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness("")
	alice := uuid.New()
	base := "/v1/sessions/" + alice.String()

	rec := h.do(t, http.MethodPost, base+"/login", nil)
	if got := decodeBody[verdict](t, rec); rec.Code != http.StatusOK || !got.Allowed {
		t.Fatalf("unexpected login verdict: %d %+v", rec.Code, got)
	}

	rec = h.do(t, http.MethodPut, base, joinRequest{Name: "Alice", Address: "10.0.0.1", Permissions: map[string]bool{"world.build": true}})
	if rec.Code != http.StatusOK {
		t.Fatalf("join: %d %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[outboxView](t, rec); len(got.Messages) != 1 || got.Messages[0] != "welcome Alice" {
		t.Fatalf("expected welcome in join response: %+v", got)
	}
	s := h.gate.session(alice)
	if s == nil || s.Address != "10.0.0.1" || !s.HasPermission("world.build") {
		t.Fatalf("unexpected published session: %+v", s)
	}

	s.Conn.SendMessage("You have been warned")
	s.Conn.Disconnect("kicked")
	rec = h.do(t, http.MethodGet, base+"/outbox", nil)
	got := decodeBody[outboxView](t, rec)
	if len(got.Messages) != 1 || got.Disconnect == nil || *got.Disconnect != "kicked" {
		t.Fatalf("unexpected outbox: %+v", got)
	}
	if again := decodeBody[outboxView](t, h.do(t, http.MethodGet, base+"/outbox", nil)); len(again.Messages) != 0 || again.Disconnect != nil {
		t.Fatalf("outbox must drain: %+v", again)
	}

	rec = h.do(t, http.MethodPost, base+"/chat", nil)
	if v := decodeBody[verdict](t, rec); v.Allowed || v.Message != "You are muted" {
		t.Fatalf("unexpected chat verdict: %+v", v)
	}

	rec = h.do(t, http.MethodDelete, base, nil)
	if rec.Code != http.StatusOK || h.loop.calls != 1 || len(h.gate.quits) != 1 {
		t.Fatalf("quit: code=%d calls=%d quits=%v", rec.Code, h.loop.calls, h.gate.quits)
	}
	if rec := h.do(t, http.MethodGet, base+"/outbox", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected outbox gone after quit, got %d", rec.Code)
	}
}

func TestBannedLoginAndBadAccount(t *testing.T) {
	t.Parallel()

	h := newHarness("")
	banned := uuid.New()
	h.gate.banned[banned] = true

	rec := h.do(t, http.MethodPost, "/v1/sessions/"+banned.String()+"/login", nil)
	if v := decodeBody[verdict](t, rec); v.Allowed || v.Message != "You are banned" {
		t.Fatalf("unexpected verdict: %+v", v)
	}
	if rec := h.do(t, http.MethodPost, "/v1/sessions/not-a-uuid/login", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
}

func TestQuitWhenLoopStopped(t *testing.T) {
	t.Parallel()

	h := newHarness("")
	h.loop.err = errors.New("host loop stopped")
	rec := h.do(t, http.MethodDelete, "/v1/sessions/"+uuid.New().String(), nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestIssueAndRemove(t *testing.T) {
	t.Parallel()

	h := newHarness("")
	alice := uuid.New()
	req := issueRequest{AccountID: alice, AccountName: "Alice", StaffName: "Mod", Type: "mute", Reason: "spam", Duration: "1h30m"}

	rec := h.do(t, http.MethodPost, "/v1/punishments", req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("issue: %d %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[punishmentView](t, rec)
	if created.Type != "MUTE" || !created.Active || h.moderation.issued[0].Duration != 90 {
		t.Fatalf("unexpected punishment: %+v", created)
	}

	if rec := h.do(t, http.MethodPost, "/v1/punishments", req); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rec.Code)
	}
	bad := req
	bad.Duration = "soon"
	if rec := h.do(t, http.MethodPost, "/v1/punishments", bad); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad duration, got %d", rec.Code)
	}
	bad = req
	bad.Type = "JAIL"
	if rec := h.do(t, http.MethodPost, "/v1/punishments", bad); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad type, got %d", rec.Code)
	}

	active := decodeBody[[]punishmentView](t, h.do(t, http.MethodGet, "/v1/accounts/"+alice.String()+"/active", nil))
	if len(active) != 1 {
		t.Fatalf("expected one active punishment, got %+v", active)
	}

	path := fmt.Sprintf("/v1/punishments/%d/removal", created.ID)
	removal := removalRequest{StaffName: "Admin", Reason: "served"}
	if got := decodeBody[removalResponse](t, h.do(t, http.MethodPost, path, removal)); !got.Removed {
		t.Fatalf("expected removal")
	}
	if got := decodeBody[removalResponse](t, h.do(t, http.MethodPost, path, removal)); got.Removed {
		t.Fatalf("second removal must report false")
	}
	if rec := h.do(t, http.MethodGet, "/v1/punishments/999", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRemoveByAccountName(t *testing.T) {
	t.Parallel()

	h := newHarness("")
	req := issueRequest{AccountID: uuid.New(), AccountName: "Alice", StaffName: "Mod", Type: "BAN", Reason: "cheating", Duration: "perm"}
	if rec := h.do(t, http.MethodPost, "/v1/punishments", req); rec.Code != http.StatusCreated {
		t.Fatalf("issue: %d", rec.Code)
	}
	rec := h.do(t, http.MethodPost, "/v1/accounts/Alice/punishments/ban/removal", removalRequest{StaffName: "Admin"})
	if got := decodeBody[removalResponse](t, rec); !got.Removed {
		t.Fatalf("expected removal by name: %s", rec.Body.String())
	}
}

func TestAppealRoutes(t *testing.T) {
	t.Parallel()

	h := newHarness("")
	alice := uuid.New()
	submit := appealRequest{PunishmentID: 1, AccountID: alice, AccountName: "Alice", Text: "sorry"}

	rec := h.do(t, http.MethodPost, "/v1/appeals", submit)
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[appealView](t, rec)
	if rec := h.do(t, http.MethodPost, "/v1/appeals", submit); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on cooldown, got %d", rec.Code)
	}

	if rec := h.do(t, http.MethodGet, "/v1/appeals?status=maybe", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
	pending := decodeBody[[]appealView](t, h.do(t, http.MethodGet, "/v1/appeals?status=pending", nil))
	if len(pending) != 1 || pending[0].ID != created.ID {
		t.Fatalf("unexpected pending list: %+v", pending)
	}

	path := fmt.Sprintf("/v1/appeals/%d/review", created.ID)
	if got := decodeBody[reviewResponse](t, h.do(t, http.MethodPost, path, reviewRequest{StaffName: "Admin", Approve: true})); !got.Reviewed {
		t.Fatalf("expected review to close the appeal")
	}
	stored := decodeBody[appealView](t, h.do(t, http.MethodGet, fmt.Sprintf("/v1/appeals/%d", created.ID), nil))
	if stored.Status != string(db.AppealApproved) {
		t.Fatalf("unexpected status: %+v", stored)
	}
	mine := decodeBody[[]appealView](t, h.do(t, http.MethodGet, "/v1/accounts/"+alice.String()+"/appeals", nil))
	if len(mine) != 1 {
		t.Fatalf("unexpected account appeals: %+v", mine)
	}
}

func TestTokenRequired(t *testing.T) {
	t.Parallel()

	h := newHarness("secret")
	path := "/v1/sessions/" + uuid.New().String() + "/login"
	if rec := h.do(t, http.MethodPost, path, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}

func TestUnknownFieldsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness("")
	rec := h.do(t, http.MethodPut, "/v1/sessions/"+uuid.New().String(), map[string]any{"name": "Alice", "op": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}
