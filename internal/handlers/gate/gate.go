// Package gate applies active punishments at the session boundaries: login, join, chat and build.
package gate

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Inpuzah/stafftools/internal/db"
	"github.com/Inpuzah/stafftools/internal/policy/permissions"
	"github.com/Inpuzah/stafftools/internal/session"
)

type moderationEngine interface {
	Active(accountID uuid.UUID, t db.PunishmentType) (*db.Punishment, bool)
	HandleJoin(ctx context.Context, accountID uuid.UUID) error
	CountHistory(ctx context.Context, accountID uuid.UUID) (int, error)
	BanScreen(p *db.Punishment) string
	MuteMessage(p *db.Punishment) string
	BuildDeniedMessage(p *db.Punishment) string
	JoinHistoryMessage(accountName string, count int) string
}

type sessionRegistry interface {
	Join(ctx context.Context, s *session.Session) error
	Leave(accountID uuid.UUID)
	OnlineSessions() []*session.Session
}

type scheduler interface {
	RunOnMainLoop(fn func())
}

type Gate struct {
	moderation    moderationEngine
	registry      sessionRegistry
	scheduler     scheduler
	joinThreshold int
}

// New builds a gate. A joinThreshold of zero disables the staff join notice.
func New(moderation moderationEngine, registry sessionRegistry, scheduler scheduler, joinThreshold int) *Gate {
	return &Gate{
		moderation:    moderation,
		registry:      registry,
		scheduler:     scheduler,
		joinThreshold: joinThreshold,
	}
}

func (g *Gate) getLogEntry() *log.Entry {
	return log.WithField("object", "Gate")
}

// Login reports whether the account may connect and, if not, the screen to show it.
func (g *Gate) Login(accountID uuid.UUID) (bool, string) {
	if p, ok := g.moderation.Active(accountID, db.Ban); ok {
		g.getLogEntry().WithField("account", accountID).WithField("id", p.ID).Info("banned account denied")
		return false, g.moderation.BanScreen(p)
	}
	return true, ""
}

// Join reconciles the account's restrictions, then publishes the session. It must run off the main loop.
func (g *Gate) Join(ctx context.Context, s *session.Session) error {
	entry := g.getLogEntry().WithField("method", "Join").WithField("account", s.AccountID)

	if err := g.moderation.HandleJoin(ctx, s.AccountID); err != nil {
		entry.WithError(err).Warn("join reconciliation failed")
	}
	if err := g.registry.Join(ctx, s); err != nil {
		return err
	}

	if g.joinThreshold <= 0 {
		return nil
	}
	count, err := g.moderation.CountHistory(ctx, s.AccountID)
	if err != nil {
		entry.WithError(err).Warn("cant count history")
		return nil
	}
	if count < g.joinThreshold {
		return nil
	}
	text := g.moderation.JoinHistoryMessage(s.Name, count)
	g.scheduler.RunOnMainLoop(func() {
		for _, staff := range g.registry.OnlineSessions() {
			if staff.AccountID != s.AccountID && permissions.ReceivesStaffNotifications(staff) {
				staff.Conn.SendMessage(text)
			}
		}
	})
	return nil
}

// Chat reports whether the account may chat, with the denial text for muted accounts.
func (g *Gate) Chat(accountID uuid.UUID) (bool, string) {
	if p, ok := g.moderation.Active(accountID, db.Mute); ok {
		return false, g.moderation.MuteMessage(p)
	}
	return true, ""
}

func (g *Gate) Build(accountID uuid.UUID) (bool, string) {
	if p, ok := g.moderation.Active(accountID, db.BuildBan); ok {
		return false, g.moderation.BuildDeniedMessage(p)
	}
	return true, ""
}

func (g *Gate) Quit(accountID uuid.UUID) {
	g.registry.Leave(accountID)
}
