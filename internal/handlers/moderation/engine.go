// Package moderation is the punishment lifecycle engine: the active-state cache, issuance and
// removal, the expiry sweep and the build-restriction reconciler.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Inpuzah/stafftools/internal/db"
	errs "github.com/Inpuzah/stafftools/internal/errors"
	"github.com/Inpuzah/stafftools/internal/session"
)

const (
	tracerName           = "stafftools/moderation"
	defaultSweepInterval = 10 * time.Second
	defaultKickDelay     = 100 * time.Millisecond
	sweepParallelism     = 4
	reasonExpired        = "Expired"
)

type punishmentStore interface {
	InsertPunishment(ctx context.Context, p *db.Punishment) (int64, error)
	GetPunishment(ctx context.Context, id int64) (*db.Punishment, error)
	GetPunishmentsByAccount(ctx context.Context, accountID uuid.UUID) ([]*db.Punishment, error)
	CountPunishments(ctx context.Context, accountID uuid.UUID) (int, error)
	GetRecentPunishments(ctx context.Context, limit int) ([]*db.Punishment, error)
	GetActivePunishments(ctx context.Context, types ...db.PunishmentType) ([]*db.Punishment, error)
	GetActivePunishment(ctx context.Context, accountID uuid.UUID, t db.PunishmentType) (*db.Punishment, error)
	FindActivePunishment(ctx context.Context, nameOrID string, t db.PunishmentType) (*db.Punishment, error)
	DeactivatePunishment(ctx context.Context, id int64, removal db.Removal) (bool, error)

	GetBuildBanGroup(ctx context.Context, accountID uuid.UUID) (*db.BuildBanGroup, error)
	SaveOriginalGroup(ctx context.Context, accountID uuid.UUID, group string) error
	MarkNeedsRestoration(ctx context.Context, accountID uuid.UUID) error
	DeleteBuildBanGroup(ctx context.Context, accountID uuid.UUID) error
}

// Directory looks up connected sessions and known accounts.
type Directory interface {
	Online(accountID uuid.UUID) (*session.Session, bool)
	OnlineSessions() []*session.Session
	Resolve(ctx context.Context, nameOrID string) (*db.Account, error)
}

// Scheduler is the host's thread-affinity contract.
type Scheduler interface {
	RunOnMainLoop(fn func())
	RunAsync(fn func(ctx context.Context))
	RunLater(fn func(), delay time.Duration)
	RunRepeating(id string, interval time.Duration, fn func(ctx context.Context)) (cancel func())
}

type BlockList interface {
	Add(ctx context.Context, entry *db.BlockEntry) error
	Pardon(ctx context.Context, accountID uuid.UUID) (bool, error)
}

type GroupService interface {
	PrimaryGroup(ctx context.Context, accountID uuid.UUID) (string, error)
	SetPrimaryGroup(ctx context.Context, accountID uuid.UUID, group string) error
	DenyPermissions(ctx context.Context, accountID uuid.UUID, nodes []string) error
	AllowPermissions(ctx context.Context, accountID uuid.UUID, nodes []string) error
}

type Auditor interface {
	LogAction(ctx context.Context, actorID uuid.UUID, actorName, action string, targetID uuid.UUID, targetName, details string)
}

type Notifier interface {
	NotifyIssued(ctx context.Context, p *db.Punishment) error
	NotifyRemoved(ctx context.Context, p *db.Punishment) error
}

type Messages interface {
	Render(key string, vars map[string]any) string
}

// Deps are the engine collaborators. BlockList, Groups, Audit and Notifier are optional;
// a nil value switches the matching side effect off.
type Deps struct {
	Store     punishmentStore
	Directory Directory
	Scheduler Scheduler
	Messages  Messages
	BlockList BlockList
	Groups    GroupService
	Audit     Auditor
	Notifier  Notifier
}

type BuildBanOptions struct {
	// UseGroups swaps the primary group; otherwise Permissions are denied and re-allowed.
	UseGroups    bool
	DemotedGroup string
	DefaultGroup string
	Permissions  []string
}

type Options struct {
	ServerName    string
	SweepInterval time.Duration
	KickDelay     time.Duration
	SyncBlockList bool
	NotifyStaff   bool
	BuildBan      BuildBanOptions
	Now           func() time.Time
}

type Engine struct {
	store     punishmentStore
	directory Directory
	scheduler Scheduler
	messages  Messages
	blockList BlockList
	groups    GroupService
	audit     Auditor
	notifier  Notifier
	opts      Options
	now       func() time.Time
	tracer    trace.Tracer

	cache    *activeCache
	locks    *keyedLocks
	hints    *groupHints
	expiring *xsync.MapOf[int64, struct{}]

	runMutex  sync.Mutex
	started   bool
	stopSweep func()
}

func NewEngine(deps Deps, opts Options) (*Engine, error) {
	if deps.Store == nil || deps.Directory == nil || deps.Scheduler == nil || deps.Messages == nil {
		return nil, fmt.Errorf("%w: store, directory, scheduler and messages are required", errs.ErrInvalidInput)
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.KickDelay <= 0 {
		opts.KickDelay = defaultKickDelay
	}
	if opts.BuildBan.UseGroups && opts.BuildBan.DemotedGroup == "" {
		return nil, fmt.Errorf("%w: demoted group is required in group mode", errs.ErrInvalidInput)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:     deps.Store,
		directory: deps.Directory,
		scheduler: deps.Scheduler,
		messages:  deps.Messages,
		blockList: deps.BlockList,
		groups:    deps.Groups,
		audit:     deps.Audit,
		notifier:  deps.Notifier,
		opts:      opts,
		now:       now,
		tracer:    otel.Tracer(tracerName),
		cache:     newActiveCache(),
		locks:     newKeyedLocks(),
		hints:     newGroupHints(),
		expiring:  xsync.NewMapOf[int64, struct{}](),
	}, nil
}

func (e *Engine) getLogEntry() *log.Entry {
	return log.WithField("object", "Engine")
}

// Start rebuilds the active-state cache from the store and starts the expiry sweep.
func (e *Engine) Start(ctx context.Context) error {
	e.runMutex.Lock()
	defer e.runMutex.Unlock()
	if e.started {
		return nil
	}

	if err := e.rebuild(ctx); err != nil {
		return err
	}

	e.stopSweep = e.scheduler.RunRepeating("moderation_sweep", e.opts.SweepInterval, func(ctx context.Context) {
		if _, err := e.Sweep(ctx); err != nil && !errorsIsCanceled(err) {
			e.getLogEntry().WithError(err).Error("expiry sweep failed")
		}
	})

	e.started = true
	return nil
}

// Stop cancels the expiry sweep. A pass already running finishes on the host worker.
func (e *Engine) Stop(context.Context) error {
	e.runMutex.Lock()
	defer e.runMutex.Unlock()
	if !e.started {
		return nil
	}
	e.started = false
	if e.stopSweep != nil {
		e.stopSweep()
		e.stopSweep = nil
	}
	return nil
}

func (e *Engine) system(reason string) db.Removal {
	return db.Removal{By: db.SystemID, ByName: db.SystemName, At: e.now().UnixMilli(), Reason: reason}
}

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", errs.ErrStore, op, err)
}

func errorsIsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
