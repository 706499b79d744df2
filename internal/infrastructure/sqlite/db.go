package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"
	"github.com/riskibarqy/teamsync/internal/domain/localdb"
	"github.com/riskibarqy/teamsync/internal/domain/record"
	"github.com/riskibarqy/teamsync/internal/domain/syncqueue"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"
)

const driverName = "sqlite3"

type options struct {
	clock          clockwork.Clock
	queryFormatter func(string) string
	skipMigrations bool
}

type Option func(*options)

// WithClock overrides the clock used for created_at/updated_at stamps.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithQueryFormatter shortens statements before they are attached to spans.
func WithQueryFormatter(fn func(string) string) Option {
	return func(o *options) {
		o.queryFormatter = fn
	}
}

// WithoutMigrations opens the file as-is. Used by the migration CLI.
func WithoutMigrations() Option {
	return func(o *options) {
		o.skipMigrations = true
	}
}

// DB is the on-device database. It satisfies localdb.UnitOfWork.
type DB struct {
	db    *sqlx.DB
	clock clockwork.Clock
}

// DSN renders the connection string for path: WAL journal, enforced foreign
// keys, and IMMEDIATE transactions so writers queue on the busy timeout
// instead of failing on lock upgrade.
func DSN(path string) string {
	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")
	params.Set("_txlock", "immediate")
	return "file:" + filepath.ToSlash(path) + "?" + params.Encode()
}

// Open opens (creating if needed) the database at path and applies pending migrations.
func Open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("local database path is required")
	}

	cfg := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&cfg)
	}

	otelOpts := []otelsql.Option{
		otelsql.WithDBSystem("sqlite"),
		otelsql.WithDBName(filepath.Base(path)),
	}
	if cfg.queryFormatter != nil {
		otelOpts = append(otelOpts, otelsql.WithQueryFormatter(cfg.queryFormatter))
	}

	db, err := otelsqlx.Open(driverName, DSN(path), otelOpts...)
	if err != nil {
		return nil, fmt.Errorf("open local database: %w", err)
	}
	// One connection keeps every write strictly serialized.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping local database: %w", err)
	}

	if !cfg.skipMigrations {
		if err := Migrate(db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &DB{db: db, clock: cfg.clock}, nil
}

// SQLX exposes the underlying handle.
func (d *DB) SQLX() *sqlx.DB {
	return d.db
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Records() record.Store {
	return &RecordStore{q: d.db, clock: d.clock}
}

func (d *DB) Queue() syncqueue.Repository {
	return &QueueRepository{q: d.db}
}

// Within runs fn inside one transaction. fn must only use s; touching d
// directly from inside fn would wait on the single connection forever.
func (d *DB) Within(ctx context.Context, fn func(ctx context.Context, s localdb.Session) error) (err error) {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin local transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, txSession{tx: tx, clock: d.clock}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit local transaction: %w", err)
	}
	return nil
}

type txSession struct {
	tx    *sqlx.Tx
	clock clockwork.Clock
}

func (s txSession) Records() record.Store {
	return &RecordStore{q: s.tx, clock: s.clock}
}

func (s txSession) Queue() syncqueue.Repository {
	return &QueueRepository{q: s.tx}
}

var _ localdb.UnitOfWork = (*DB)(nil)
