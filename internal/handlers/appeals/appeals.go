// Package appeals lets punished accounts contest an active punishment and lets staff approve or
// deny the request. Approval removes the punishment through the moderation engine.
package appeals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Inpuzah/stafftools/internal/audit"
	"github.com/Inpuzah/stafftools/internal/db"
	errs "github.com/Inpuzah/stafftools/internal/errors"
	"github.com/Inpuzah/stafftools/internal/i18n"
	"github.com/Inpuzah/stafftools/internal/policy/permissions"
	"github.com/Inpuzah/stafftools/internal/session"
)

const (
	maxTextLength     = 1000
	defaultListLimit  = 100
	approvedPrefix    = "Appeal approved"
	defaultCooldown   = 24 * time.Hour
	staffNoticeLength = 120
)

type store interface {
	InsertAppeal(ctx context.Context, a *db.Appeal) (int64, error)
	GetAppeal(ctx context.Context, id int64) (*db.Appeal, error)
	GetAppeals(ctx context.Context, status db.AppealStatus, limit int) ([]*db.Appeal, error)
	GetAppealsByAccount(ctx context.Context, accountID uuid.UUID) ([]*db.Appeal, error)
	LatestAppealAt(ctx context.Context, accountID uuid.UUID) (int64, error)
	ReviewAppeal(ctx context.Context, id int64, review db.Review) (bool, error)
}

type punishments interface {
	Get(ctx context.Context, id int64) (*db.Punishment, error)
	RemoveByID(ctx context.Context, id int64, actorID uuid.UUID, actorName, reason string) (bool, error)
}

type directory interface {
	Online(accountID uuid.UUID) (*session.Session, bool)
	OnlineSessions() []*session.Session
}

type scheduler interface {
	RunOnMainLoop(fn func())
}

type auditor interface {
	LogAction(ctx context.Context, actorID uuid.UUID, actorName, action string, targetID uuid.UUID, targetName, details string)
}

type messages interface {
	Render(key string, vars map[string]any) string
}

type Deps struct {
	Store       store
	Punishments punishments
	Directory   directory
	Scheduler   scheduler
	Messages    messages
	Audit       auditor
}

type Options struct {
	Enabled     bool
	Types       []db.PunishmentType
	Cooldown    time.Duration
	NotifyStaff bool
	Now         func() time.Time
}

type Service struct {
	store       store
	punishments punishments
	directory   directory
	scheduler   scheduler
	messages    messages
	audit       auditor

	enabled     bool
	types       map[db.PunishmentType]struct{}
	cooldown    time.Duration
	notifyStaff bool
	now         func() time.Time

	// reviewMutex keeps a decision and its punishment removal together.
	reviewMutex sync.Mutex
}

func New(deps Deps, opts Options) (*Service, error) {
	if deps.Store == nil || deps.Punishments == nil || deps.Directory == nil || deps.Scheduler == nil || deps.Messages == nil {
		return nil, fmt.Errorf("%w: store, punishments, directory, scheduler and messages are required", errs.ErrInvalidInput)
	}
	types := make(map[db.PunishmentType]struct{}, len(opts.Types))
	for _, t := range opts.Types {
		types[t] = struct{}{}
	}
	if opts.Cooldown < 0 {
		opts.Cooldown = defaultCooldown
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:       deps.Store,
		punishments: deps.Punishments,
		directory:   deps.Directory,
		scheduler:   deps.Scheduler,
		messages:    deps.Messages,
		audit:       deps.Audit,
		enabled:     opts.Enabled,
		types:       types,
		cooldown:    opts.Cooldown,
		notifyStaff: opts.NotifyStaff,
		now:         now,
	}, nil
}

func (s *Service) getLogEntry() *log.Entry {
	return log.WithField("object", "Appeals")
}

// Submit files an appeal against an active punishment owned by the appealing account.
// It fails with ErrCooldown while the account's previous appeal is too recent, with ErrNotAppealable
// for types staff do not accept appeals for and with ErrAlreadyAppealed while one is pending.
func (s *Service) Submit(ctx context.Context, a *db.Appeal) (*db.Appeal, error) {
	if !s.enabled {
		return nil, fmt.Errorf("%w: appeals are disabled", errs.ErrUnavailable)
	}
	if a == nil || a.PunishmentID <= 0 || a.AccountID == uuid.Nil {
		return nil, fmt.Errorf("%w: punishment and account are required", errs.ErrInvalidInput)
	}
	text := strings.TrimSpace(a.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: appeal text is required", errs.ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > maxTextLength {
		return nil, fmt.Errorf("%w: appeal text exceeds %d characters", errs.ErrInvalidInput, maxTextLength)
	}
	entry := s.getLogEntry().WithField("method", "Submit").WithField("account", a.AccountID).WithField("punishment", a.PunishmentID)
	now := s.now()

	if s.cooldown > 0 {
		last, err := s.store.LatestAppealAt(ctx, a.AccountID)
		if err != nil {
			return nil, fmt.Errorf("%w: latest appeal: %w", errs.ErrStore, err)
		}
		if last > 0 {
			if wait := time.UnixMilli(last).Add(s.cooldown).Sub(now); wait > 0 {
				return nil, fmt.Errorf("%w: next appeal allowed in %s", errs.ErrCooldown, wait.Round(time.Minute))
			}
		}
	}

	p, err := s.punishments.Get(ctx, a.PunishmentID)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.Active || p.AccountID != a.AccountID {
		return nil, fmt.Errorf("%w: no active punishment #%d for this account", errs.ErrNotFound, a.PunishmentID)
	}
	if _, ok := s.types[p.Type]; !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrNotAppealable, p.Type)
	}

	res := &db.Appeal{
		PunishmentID: p.ID,
		AccountID:    a.AccountID,
		AccountName:  a.AccountName,
		Text:         text,
		CreatedAt:    now.UnixMilli(),
		Status:       db.AppealPending,
	}
	if res.AccountName == "" {
		res.AccountName = p.AccountName
	}
	id, err := s.store.InsertAppeal(ctx, res)
	if err != nil {
		if errors.Is(err, errs.ErrAlreadyAppealed) {
			return nil, err
		}
		entry.WithError(err).Error("cant insert appeal")
		return nil, fmt.Errorf("%w: insert appeal: %w", errs.ErrStore, err)
	}
	res.ID = id
	entry.WithField("appeal", id).Info("appeal submitted")

	if s.audit != nil {
		s.audit.LogAction(ctx, res.AccountID, res.AccountName, audit.ActionAppealCreated, res.AccountID, res.AccountName, fmt.Sprintf("appeal #%d for %s #%d", id, p.Type, p.ID))
	}
	if s.notifyStaff {
		s.noticeStaff(res, p)
	}
	return res, nil
}

// Review closes a pending appeal. Approval removes the punishment first; the decision is only
// recorded once the removal went through. It reports false when the appeal is missing or closed.
func (s *Service) Review(ctx context.Context, id int64, reviewerID uuid.UUID, reviewerName string, approve bool, note string) (bool, error) {
	s.reviewMutex.Lock()
	defer s.reviewMutex.Unlock()

	entry := s.getLogEntry().WithField("method", "Review").WithField("appeal", id)
	a, err := s.store.GetAppeal(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%w: get appeal: %w", errs.ErrStore, err)
	}
	if a == nil || a.Status != db.AppealPending {
		return false, nil
	}

	note = strings.TrimSpace(note)
	status := db.AppealDenied
	if approve {
		status = db.AppealApproved
		reason := approvedPrefix
		if note != "" {
			reason += ": " + note
		}
		if _, err := s.punishments.RemoveByID(ctx, a.PunishmentID, reviewerID, reviewerName, reason); err != nil {
			entry.WithError(err).Error("cant remove appealed punishment")
			return false, err
		}
	}

	changed, err := s.store.ReviewAppeal(ctx, id, db.Review{
		Status: status,
		By:     reviewerID,
		ByName: reviewerName,
		At:     s.now().UnixMilli(),
		Note:   note,
	})
	if err != nil {
		entry.WithError(err).Error("cant record appeal decision")
		return false, fmt.Errorf("%w: review appeal: %w", errs.ErrStore, err)
	}
	if !changed {
		return false, nil
	}
	entry.WithField("status", status).Info("appeal reviewed")

	if s.audit != nil {
		s.audit.LogAction(ctx, reviewerID, reviewerName, audit.ActionAppealReviewed, a.AccountID, a.AccountName, fmt.Sprintf("appeal #%d %s: %s", id, status, note))
	}
	key := i18n.AppealDenied
	if approve {
		key = i18n.AppealApproved
	}
	text := s.messages.Render(key, map[string]any{"id": id, "note": note})
	s.scheduler.RunOnMainLoop(func() {
		if sess, ok := s.directory.Online(a.AccountID); ok {
			sess.Conn.SendMessage(text)
		}
	})
	return true, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*db.Appeal, error) {
	a, err := s.store.GetAppeal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: get appeal: %w", errs.ErrStore, err)
	}
	return a, nil
}

// List returns the newest appeals with the given status, or of every status when it is empty.
func (s *Service) List(ctx context.Context, status db.AppealStatus, limit int) ([]*db.Appeal, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	res, err := s.store.GetAppeals(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list appeals: %w", errs.ErrStore, err)
	}
	return res, nil
}

func (s *Service) ForAccount(ctx context.Context, accountID uuid.UUID) ([]*db.Appeal, error) {
	res, err := s.store.GetAppealsByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: account appeals: %w", errs.ErrStore, err)
	}
	return res, nil
}

func (s *Service) noticeStaff(a *db.Appeal, p *db.Punishment) {
	text := a.Text
	if utf8.RuneCountInString(text) > staffNoticeLength {
		text = string([]rune(text)[:staffNoticeLength]) + "..."
	}
	notice := s.messages.Render(i18n.StaffAppeal, map[string]any{
		"id":         a.ID,
		"account":    a.AccountName,
		"type":       p.Type,
		"punishment": p.ID,
		"text":       text,
	})
	s.scheduler.RunOnMainLoop(func() {
		for _, sess := range s.directory.OnlineSessions() {
			if permissions.ReceivesAppealNotifications(sess) {
				sess.Conn.SendMessage(notice)
			}
		}
	})
}
