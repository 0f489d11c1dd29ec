package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/Inpuzah/stafftools/internal/adapters"
	"github.com/Inpuzah/stafftools/internal/adapters/blocklist"
	"github.com/Inpuzah/stafftools/internal/adapters/eventstream"
	"github.com/Inpuzah/stafftools/internal/adapters/groups"
	"github.com/Inpuzah/stafftools/internal/adapters/webhook"
	"github.com/Inpuzah/stafftools/internal/audit"
	"github.com/Inpuzah/stafftools/internal/config"
	"github.com/Inpuzah/stafftools/internal/db"
	"github.com/Inpuzah/stafftools/internal/db/sqlite"
	"github.com/Inpuzah/stafftools/internal/handlers/appeals"
	"github.com/Inpuzah/stafftools/internal/handlers/bridge"
	"github.com/Inpuzah/stafftools/internal/handlers/gate"
	"github.com/Inpuzah/stafftools/internal/handlers/moderation"
	"github.com/Inpuzah/stafftools/internal/host"
	"github.com/Inpuzah/stafftools/internal/i18n"
	"github.com/Inpuzah/stafftools/internal/infra"
	"github.com/Inpuzah/stafftools/internal/lifecycle"
	"github.com/Inpuzah/stafftools/internal/observability"
	"github.com/Inpuzah/stafftools/internal/session"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.WithError(err).Fatalln("cant load config")
	}
	log.SetFormatter(&config.ConsoleFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatalln("stafftools stopped with error")
	}
	os.Exit(0)
}

func run(ctx context.Context, cfg *config.Config) error {
	dataDir, err := infra.EnsureWorkDir(cfg.DotPath)
	if err != nil {
		return err
	}

	store, err := sqlite.NewSQLiteClient(ctx, dataDir, cfg.Database.File,
		sqlite.WithMaxOpenConns(cfg.Database.MaxOpenConns),
		sqlite.WithAcquireTimeout(cfg.Database.AcquireTimeout),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("cant close store")
		}
	}()

	catalog, err := i18n.NewCatalog(cfg.Language)
	if err != nil {
		return err
	}
	registry, err := session.NewRegistry(store, 0)
	if err != nil {
		return err
	}
	auditLog, err := audit.New(store, audit.Options{
		Enabled:       cfg.Audit.Enabled,
		Actions:       cfg.Audit.Actions,
		RetentionDays: cfg.Audit.RetentionDays,
		MirrorFile:    cfg.Audit.MirrorFile,
		ServerName:    cfg.ServerName,
	})
	if err != nil {
		return err
	}

	runtime := lifecycle.NewRuntime()

	var notifiers adapters.Fanout
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, webhook.New(cfg.Notify.WebhookURL, cfg.ServerName))
	}
	if len(cfg.Notify.KafkaBrokers) > 0 {
		publisher := eventstream.NewPublisher(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic)
		notifiers = append(notifiers, publisher)
		runtime.Register("eventstream", publisher)
	}

	loop := host.NewLoop(cfg.Host.QueueSize, cfg.Host.Workers)
	deps := moderation.Deps{
		Store:     store,
		Directory: registry,
		Scheduler: loop,
		Messages:  catalog,
		BlockList: blocklist.New(store),
		Groups:    groups.NewService(store, cfg.BuildBan.DefaultGroup),
		Audit:     auditLog,
	}
	if len(notifiers) > 0 {
		deps.Notifier = notifiers
	}
	engine, err := moderation.NewEngine(deps, moderation.Options{
		ServerName:    cfg.ServerName,
		SweepInterval: cfg.Punishment.SweepInterval,
		KickDelay:     cfg.Punishment.KickDelay,
		SyncBlockList: cfg.Punishment.SyncBlockList,
		NotifyStaff:   cfg.Punishment.NotifyStaff,
		BuildBan: moderation.BuildBanOptions{
			UseGroups:    cfg.BuildBan.RestoreOriginalGroup,
			DemotedGroup: cfg.BuildBan.DemotedGroup,
			DefaultGroup: cfg.BuildBan.DefaultGroup,
			Permissions:  cfg.BuildBan.RemovePermissions,
		},
	})
	if err != nil {
		return err
	}
	appealTypes := make([]db.PunishmentType, 0, len(cfg.Appeals.Types))
	for _, t := range cfg.Appeals.Types {
		kind, err := db.ParseType(t)
		if err != nil {
			return err
		}
		appealTypes = append(appealTypes, kind)
	}
	appealService, err := appeals.New(appeals.Deps{
		Store:       store,
		Punishments: engine,
		Directory:   registry,
		Scheduler:   loop,
		Messages:    catalog,
		Audit:       auditLog,
	}, appeals.Options{
		Enabled:     cfg.Appeals.Enabled,
		Types:       appealTypes,
		Cooldown:    cfg.Appeals.Cooldown,
		NotifyStaff: cfg.Appeals.NotifyStaff,
	})
	if err != nil {
		return err
	}

	runtime.Register("host", loop)
	runtime.Register("audit", auditLog)
	runtime.Register("moderation", engine)

	if cfg.Bridge.Enabled {
		bridgeServer := bridge.NewServer(cfg.Bridge.Addr, cfg.Bridge.Token, bridge.Deps{
			Gate:       gate.New(engine, registry, loop, cfg.Punishment.JoinNotifyThreshold),
			Moderation: engine,
			Appeals:    appealService,
			Loop:       loop,
		})
		runtime.Register("bridge", bridgeServer)
	}

	shutdownTracing := observability.InitTracing()
	runtime.Register("tracing", lifecycle.Func{OnStop: shutdownTracing})

	if cfg.Metrics.Enabled {
		if err := observability.Register(prometheus.DefaultRegisterer); err != nil {
			return err
		}
		server := observability.NewServer(cfg.Metrics.Addr, prometheus.DefaultGatherer, map[string]observability.HealthCheck{
			"store": store.Ping,
		})
		runtime.Register("metrics", server)
	}

	if err := runtime.Start(ctx); err != nil {
		return err
	}
	log.WithField("server", cfg.ServerName).Info("stafftools started")

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case <-infra.MonitorExecutable(ctx, 0):
		log.Errorln("executable file was modified")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return runtime.Stop(stopCtx)
}
