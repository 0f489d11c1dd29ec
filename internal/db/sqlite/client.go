package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/Inpuzah/stafftools/resources"
)

const (
	defaultMaxOpenConns   = 3
	defaultAcquireTimeout = 10 * time.Second
	busyTimeoutMillis     = 10000
)

type sqliteClient struct {
	db             *sqlx.DB
	mutex          sync.RWMutex
	acquireTimeout time.Duration
}

type Option func(*sqliteClient)

// WithMaxOpenConns caps the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(c *sqliteClient) {
		if n > 0 {
			c.db.SetMaxOpenConns(n)
		}
	}
}

// WithAcquireTimeout bounds every store call.
func WithAcquireTimeout(d time.Duration) Option {
	return func(c *sqliteClient) {
		if d > 0 {
			c.acquireTimeout = d
		}
	}
}

func NewSQLiteClient(ctx context.Context, dataDir, fileName string, opts ...Option) (*sqliteClient, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create data dir")
	}
	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		filepath.Join(dataDir, fileName),
		busyTimeoutMillis,
	)
	dbx, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}
	dbx.SetMaxOpenConns(defaultMaxOpenConns)

	client := &sqliteClient{db: dbx, acquireTimeout: defaultAcquireTimeout}
	for _, opt := range opts {
		opt(client)
	}

	migrationsSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: resources.FS,
		Root:       "migrations",
	}
	n, err := migrate.ExecContext(ctx, dbx.DB, "sqlite3", migrationsSource, migrate.Up)
	if err != nil {
		_ = dbx.Close()
		return nil, errors.Wrap(err, "migrate up")
	}
	if n > 0 {
		log.WithField("object", "sqliteClient").Infof("applied %d migrations", n)
	}
	return client, nil
}

func (c *sqliteClient) Close() error {
	return c.db.Close()
}

func (c *sqliteClient) Ping(ctx context.Context) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.db.PingContext(ctx)
}

func (c *sqliteClient) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.acquireTimeout)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
