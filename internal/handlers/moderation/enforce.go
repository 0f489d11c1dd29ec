package moderation

import (
	"context"

	"github.com/Inpuzah/stafftools/internal/db"
	"github.com/Inpuzah/stafftools/internal/i18n"
	"github.com/Inpuzah/stafftools/internal/observability"
	"github.com/Inpuzah/stafftools/internal/policy/permissions"
	"github.com/Inpuzah/stafftools/internal/utils/duration"
)

// enforce pushes a freshly issued punishment to the live session and the external systems.
// It runs on the worker pool; session access is handed to the main loop.
func (e *Engine) enforce(ctx context.Context, p *db.Punishment) {
	switch p.Type {
	case db.Warn:
		e.message(p, i18n.Warned)
	case db.Mute:
		e.message(p, i18n.Muted)
	case db.Kick:
		e.scheduler.RunOnMainLoop(func() {
			if s, ok := e.directory.Online(p.AccountID); ok {
				s.Conn.Disconnect(e.messages.Render(i18n.KickScreen, e.vars(p)))
			}
		})
	case db.Ban:
		e.enforceBan(ctx, p)
	case db.BuildBan:
		e.applyBuildBan(ctx, p.AccountID)
		e.message(p, i18n.BuildBanned)
	}
}

func (e *Engine) enforceBan(ctx context.Context, p *db.Punishment) {
	if e.opts.SyncBlockList && e.blockList != nil {
		err := e.blockList.Add(ctx, &db.BlockEntry{
			AccountID:   p.AccountID,
			AccountName: p.AccountName,
			Reason:      p.Reason,
			Source:      p.StaffName,
			CreatedAt:   p.IssuedAt,
			ExpiresAt:   p.ExpiresAt,
		})
		if err != nil {
			observability.RecordSideEffectFailure("blocklist")
			e.getLogEntry().WithError(err).WithField("id", p.ID).Error("cant add block entry")
		}
	}

	screen := e.BanScreen(p)
	e.scheduler.RunOnMainLoop(func() {
		s, ok := e.directory.Online(p.AccountID)
		if !ok {
			return
		}
		s.Conn.SendMessage(screen)
		e.scheduler.RunLater(func() {
			if s, ok := e.directory.Online(p.AccountID); ok {
				s.Conn.Disconnect(screen)
			}
		}, e.opts.KickDelay)
	})
}

// reverse undoes the side effects of a deactivated punishment.
func (e *Engine) reverse(ctx context.Context, p *db.Punishment) {
	switch p.Type {
	case db.Ban:
		if e.blockList == nil {
			return
		}
		if _, err := e.blockList.Pardon(ctx, p.AccountID); err != nil {
			observability.RecordSideEffectFailure("blocklist")
			e.getLogEntry().WithError(err).WithField("id", p.ID).Error("cant pardon block entry")
		}
	case db.BuildBan:
		e.liftBuildBan(ctx, p.AccountID)
	case db.Mute:
		e.message(p, i18n.Unmuted)
	}
}

func (e *Engine) message(p *db.Punishment, key string) {
	text := e.messages.Render(key, e.vars(p))
	e.scheduler.RunOnMainLoop(func() {
		if s, ok := e.directory.Online(p.AccountID); ok {
			s.Conn.SendMessage(text)
		}
	})
}

func (e *Engine) notifyStaff(key string, vars map[string]any) {
	if !e.opts.NotifyStaff {
		return
	}
	text := e.messages.Render(key, vars)
	e.scheduler.RunOnMainLoop(func() {
		for _, s := range e.directory.OnlineSessions() {
			if permissions.ReceivesStaffNotifications(s) {
				s.Conn.SendMessage(text)
			}
		}
	})
}

// removalVars describes a removal: staff and reason come from the removal, not the issuance.
func (e *Engine) removalVars(p *db.Punishment, removal db.Removal) map[string]any {
	vars := e.vars(p)
	vars["staff"] = removal.ByName
	vars["reason"] = removal.Reason
	return vars
}

func (e *Engine) vars(p *db.Punishment) map[string]any {
	now := e.now()
	staff := p.StaffName
	if staff == "" {
		staff = db.SystemName
	}
	return map[string]any{
		"id":        p.ID,
		"type":      string(p.Type),
		"account":   p.AccountName,
		"staff":     staff,
		"reason":    p.Reason,
		"duration":  duration.FormatMinutes(p.Duration),
		"remaining": duration.Format(p.Remaining(now)),
		"permanent": p.IsPermanent(),
		"date":      duration.FormatDate(p.IssuedTime()),
	}
}

// BanScreen renders the disconnect text shown to a banned account.
func (e *Engine) BanScreen(p *db.Punishment) string {
	return e.messages.Render(i18n.BanScreen, e.vars(p))
}

func (e *Engine) MuteMessage(p *db.Punishment) string {
	return e.messages.Render(i18n.MuteDenied, e.vars(p))
}

func (e *Engine) BuildDeniedMessage(p *db.Punishment) string {
	return e.messages.Render(i18n.BuildDenied, e.vars(p))
}

// JoinHistoryMessage renders the staff notice for an account joining with count records on file.
func (e *Engine) JoinHistoryMessage(accountName string, count int) string {
	return e.messages.Render(i18n.StaffJoinHistory, map[string]any{"account": accountName, "count": count})
}
