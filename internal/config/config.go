package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/Inpuzah/stafftools/internal/db"
)

const EnvPrefix = "ST_"

type (
	Config struct {
		LogLevel   int    `env:"LOG_LEVEL,default=4"`
		DotPath    string `env:"DOT_PATH,default=~/.stafftools"`
		ServerName string `env:"SERVER_NAME,default=survival"`
		Language   string `env:"LANG,default=en"`
		Database   Database
		Punishment Punishment
		BuildBan   BuildBan
		Audit      Audit
		Appeals    Appeals
		Bridge     Bridge
		Notify     Notify
		Metrics    Metrics
		Host       Host
	}

	Database struct {
		File           string        `env:"DB_FILE,default=stafftools.db"`
		MaxOpenConns   int           `env:"DB_MAX_OPEN_CONNS,default=3"`
		AcquireTimeout time.Duration `env:"DB_ACQUIRE_TIMEOUT,default=10s"`
	}

	Punishment struct {
		SweepInterval       time.Duration `env:"SWEEP_INTERVAL,default=10s"`
		KickDelay           time.Duration `env:"KICK_DELAY,default=100ms"`
		SyncBlockList       bool          `env:"SYNC_BLOCK_LIST,default=true"`
		NotifyStaff         bool          `env:"NOTIFY_STAFF,default=true"`
		JoinNotifyThreshold int           `env:"JOIN_NOTIFY_THRESHOLD,default=3"`
	}

	BuildBan struct {
		RestoreOriginalGroup bool     `env:"BUILDBAN_RESTORE_ORIGINAL_GROUP,default=true"`
		DemotedGroup         string   `env:"BUILDBAN_DEMOTED_GROUP,default=buildbanned"`
		DefaultGroup         string   `env:"BUILDBAN_DEFAULT_GROUP,default=default"`
		RemovePermissions    []string `env:"BUILDBAN_REMOVE_PERMISSIONS"`
	}

	Audit struct {
		Enabled       bool     `env:"AUDIT_ENABLED,default=true"`
		Actions       []string `env:"AUDIT_ACTIONS"`
		RetentionDays int      `env:"AUDIT_RETENTION_DAYS,default=90"`
		MirrorFile    string   `env:"AUDIT_MIRROR_FILE"`
	}

	Appeals struct {
		Enabled     bool          `env:"APPEALS_ENABLED,default=true"`
		Types       []string      `env:"APPEALS_TYPES,default=BAN,MUTE"`
		Cooldown    time.Duration `env:"APPEALS_COOLDOWN,default=24h"`
		NotifyStaff bool          `env:"APPEALS_NOTIFY_STAFF,default=true"`
	}

	// Bridge is the HTTP surface the game host and staff tooling call into.
	Bridge struct {
		Enabled bool   `env:"BRIDGE_ENABLED,default=true"`
		Addr    string `env:"BRIDGE_ADDR,default=127.0.0.1:8085"`
		Token   string `env:"BRIDGE_TOKEN"`
	}

	Notify struct {
		WebhookURL   string   `env:"WEBHOOK_URL"`
		KafkaBrokers []string `env:"KAFKA_BROKERS"`
		KafkaTopic   string   `env:"KAFKA_TOPIC,default=stafftools.punishments"`
	}

	Metrics struct {
		Enabled bool   `env:"METRICS_ENABLED,default=true"`
		Addr    string `env:"METRICS_ADDR,default=:2112"`
	}

	Host struct {
		Workers   int64 `env:"HOST_WORKERS,default=4"`
		QueueSize int   `env:"HOST_QUEUE_SIZE,default=1024"`
	}
)

// Load reads an optional .env file and then the ST_ prefixed environment.
func Load(ctx context.Context, dotenvFiles ...string) (*Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}
	return LoadWith(ctx, envconfig.OsLookuper())
}

func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	envcfg := envconfig.Config{
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, lookuper),
		Target:   cfg,
	}
	if err := envconfig.ProcessWith(ctx, &envcfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	dotPath, err := homedir.Expand(cfg.DotPath)
	if err != nil {
		return nil, fmt.Errorf("expand dot path: %w", err)
	}
	cfg.DotPath = dotPath
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Traceln("loaded config")
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Punishment.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", c.Punishment.SweepInterval)
	}
	if c.Host.Workers <= 0 {
		return fmt.Errorf("host workers must be positive, got %d", c.Host.Workers)
	}
	if !c.BuildBan.RestoreOriginalGroup && len(c.BuildBan.RemovePermissions) == 0 {
		return fmt.Errorf("buildban permission mode needs BUILDBAN_REMOVE_PERMISSIONS")
	}
	for _, t := range c.Appeals.Types {
		if _, err := db.ParseType(t); err != nil {
			return fmt.Errorf("appeal types: %w", err)
		}
	}
	if c.Appeals.Cooldown < 0 {
		return fmt.Errorf("appeal cooldown must not be negative")
	}
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit retention days must not be negative")
	}
	return nil
}
