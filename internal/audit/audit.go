// Package audit records staff and system actions in the store, with an optional JSON-lines mirror.
package audit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/Inpuzah/stafftools/internal/db"
)

const (
	ActionIssued          = "PUNISHMENT_ISSUED"
	ActionRemoved         = "PUNISHMENT_REMOVED"
	ActionExpired         = "PUNISHMENT_EXPIRED"
	ActionBlockPardoned   = "BLOCK_PARDONED"
	ActionBuildBanRestore = "BUILDBAN_RESTORED"
	ActionAppealCreated   = "APPEAL_CREATED"
	ActionAppealReviewed  = "APPEAL_REVIEWED"

	kvKeyLastCleanup = "audit_last_cleanup"
	cleanupInterval  = 24 * time.Hour
)

type store interface {
	InsertAuditEntry(ctx context.Context, entry *db.AuditEntry) (int64, error)
	GetRecentAuditEntries(ctx context.Context, limit int) ([]*db.AuditEntry, error)
	DeleteAuditEntriesBefore(ctx context.Context, cutoff int64) (int64, error)
	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key string, value string) error
}

type Options struct {
	Enabled       bool
	Actions       []string
	RetentionDays int
	MirrorFile    string
	ServerName    string
}

type Logger struct {
	store      store
	enabled    bool
	actions    map[string]struct{}
	retention  time.Duration
	serverName string
	mirror     *zap.Logger
	now        func() time.Time

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workersWg sync.WaitGroup
}

func New(store store, opts Options) (*Logger, error) {
	l := &Logger{
		store:      store,
		enabled:    opts.Enabled,
		retention:  time.Duration(opts.RetentionDays) * 24 * time.Hour,
		serverName: opts.ServerName,
		now:        time.Now,
	}
	if len(opts.Actions) > 0 {
		l.actions = make(map[string]struct{}, len(opts.Actions))
		for _, a := range opts.Actions {
			l.actions[strings.ToUpper(strings.TrimSpace(a))] = struct{}{}
		}
	}
	if opts.MirrorFile != "" {
		cfg := zap.NewProductionConfig()
		cfg.OutputPaths = []string{opts.MirrorFile}
		cfg.Sampling = nil
		mirror, err := cfg.Build()
		if err != nil {
			return nil, err
		}
		l.mirror = mirror
	}
	return l, nil
}

func (l *Logger) getLogEntry() *log.Entry {
	return log.WithField("object", "AuditLogger")
}

func (l *Logger) Enabled(action string) bool {
	if !l.enabled {
		return false
	}
	if l.actions == nil {
		return true
	}
	_, ok := l.actions[action]
	return ok
}

// LogAction stores one audit entry. Failures are logged, never returned.
func (l *Logger) LogAction(ctx context.Context, actorID uuid.UUID, actorName, action string, targetID uuid.UUID, targetName, details string) {
	if !l.Enabled(action) {
		return
	}
	entry := &db.AuditEntry{
		ActorID:    actorID,
		ActorName:  actorName,
		Action:     action,
		TargetID:   uuid.NullUUID{UUID: targetID, Valid: targetID != uuid.Nil},
		TargetName: targetName,
		Details:    details,
		CreatedAt:  l.now().UnixMilli(),
		ServerName: l.serverName,
	}
	if _, err := l.store.InsertAuditEntry(ctx, entry); err != nil {
		l.getLogEntry().WithError(err).WithField("action", action).Warn("cant store audit entry")
	}
	if l.mirror != nil {
		l.mirror.Info("audit",
			zap.String("action", action),
			zap.String("actor_id", actorID.String()),
			zap.String("actor", actorName),
			zap.String("target_id", targetID.String()),
			zap.String("target", targetName),
			zap.String("details", details),
			zap.String("server", l.serverName),
		)
	}
}

func (l *Logger) Recent(ctx context.Context, limit int) ([]*db.AuditEntry, error) {
	return l.store.GetRecentAuditEntries(ctx, limit)
}

// Cleanup drops entries older than the retention window. Zero retention keeps everything.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	if l.retention <= 0 {
		return 0, nil
	}
	now := l.now()
	n, err := l.store.DeleteAuditEntriesBefore(ctx, now.Add(-l.retention).UnixMilli())
	if err != nil {
		return 0, err
	}
	if err := l.store.SetKV(ctx, kvKeyLastCleanup, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		l.getLogEntry().WithError(err).Warn("cant record audit cleanup time")
	}
	if n > 0 {
		l.getLogEntry().WithField("deleted", n).Info("audit retention cleanup")
	}
	return n, nil
}

func (l *Logger) cleanupIfDue(ctx context.Context) {
	last, err := l.store.GetKV(ctx, kvKeyLastCleanup)
	if err != nil {
		l.getLogEntry().WithError(err).Warn("cant read last audit cleanup")
	}
	if ms, err := strconv.ParseInt(last, 10, 64); err == nil && l.now().Sub(time.UnixMilli(ms)) < cleanupInterval {
		return
	}
	if _, err := l.Cleanup(ctx); err != nil && !errors.Is(err, context.Canceled) {
		l.getLogEntry().WithError(err).Error("audit retention cleanup failed")
	}
}

func (l *Logger) Start(ctx context.Context) error {
	l.runMutex.Lock()
	defer l.runMutex.Unlock()
	if l.started || !l.enabled {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.runCancel = cancel

	l.workersWg.Add(1)
	go func() {
		defer l.workersWg.Done()
		l.cleanupIfDue(runCtx)

		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				l.cleanupIfDue(runCtx)
			}
		}
	}()

	l.started = true
	return nil
}

func (l *Logger) Stop(ctx context.Context) error {
	l.runMutex.Lock()
	if !l.started {
		l.runMutex.Unlock()
		return l.syncMirror()
	}
	l.started = false
	cancel := l.runCancel
	l.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.workersWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return l.syncMirror()
	}
}

func (l *Logger) syncMirror() error {
	if l.mirror == nil {
		return nil
	}
	_ = l.mirror.Sync()
	return nil
}
