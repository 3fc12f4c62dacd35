// Package di wires the process-wide pieces of the data-access layer: the
// database handle, the shared stores and their caches, the audit log and the
// change-notification subscription.
package di

import (
	"context"
	"database/sql"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/goliatone/go-ledger-cache/audit"
	"github.com/goliatone/go-ledger-cache/cache"
	"github.com/goliatone/go-ledger-cache/index"
	"github.com/goliatone/go-ledger-cache/notify"
	"github.com/goliatone/go-ledger-cache/pkg/config"
	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
	"github.com/goliatone/go-ledger-cache/repository"
	"github.com/goliatone/go-ledger-cache/uow"
)

// Container hands out the singletons shared by every unit of work in a process.
// Stores are registered once at startup; Begin and Do open units of work.
type Container struct {
	db            *bun.DB
	config        config.Config
	logger        *zap.Logger
	cacheService  cache.CacheService
	keySerializer cache.KeySerializer
	auditLog      *audit.Log
	subscription  *notify.Subscription
	publisher     notify.Publisher

	mu     sync.Mutex
	stores map[string]string // entity type -> main table
}

type Option func(*Container)

// WithPublisher announces committed changes through pub. Without it, changes
// reach other processes only through database triggers.
func WithPublisher(pub notify.Publisher) Option {
	return func(c *Container) { c.publisher = pub }
}

// NewContainer validates cfg and builds the shared services on top of db.
func NewContainer(db *bun.DB, cfg config.Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cacheService, err := cache.NewCacheService(cfg.Audit)
	if err != nil {
		return nil, err
	}

	c := &Container{
		db:            db,
		config:        cfg,
		logger:        logger,
		cacheService:  cacheService,
		keySerializer: cache.NewDefaultKeySerializer(),
		subscription:  notify.NewSubscription(logger),
		stores:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.auditLog = audit.NewLog(db, cacheService, logger)
	return c, nil
}

// NewContainerWithDefaults builds a container from DefaultConfig.
func NewContainerWithDefaults(db *bun.DB, logger *zap.Logger) (*Container, error) {
	return NewContainer(db, config.DefaultConfig(), logger)
}

func (c *Container) DB() *bun.DB { return c.db }

// CacheService returns the read-through cache shared by audit lookups.
func (c *Container) CacheService() cache.CacheService {
	return c.cacheService
}

func (c *Container) KeySerializer() cache.KeySerializer {
	return c.keySerializer
}

// Config returns a copy of the configuration the container was built with.
func (c *Container) Config() config.Config {
	return c.config
}

func (c *Container) Logger() *zap.Logger { return c.logger }

func (c *Container) AuditLog() *audit.Log { return c.auditLog }

func (c *Container) Subscription() *notify.Subscription { return c.subscription }

// Tables lists the main tables of the registered stores.
func (c *Container) Tables() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	tables := make([]string, 0, len(c.stores))
	for _, table := range c.stores {
		tables = append(tables, table)
	}
	return tables
}

// Begin opens a unit of work.
func (c *Container) Begin(ctx context.Context) (*uow.Executor, error) {
	return uow.Begin(ctx, c.db, c.logger)
}

// Do runs fn in a unit of work that commits when fn succeeds.
func (c *Container) Do(ctx context.Context, fn func(ctx context.Context, exec *uow.Executor) error) error {
	return uow.Do(ctx, c.db, c.logger, fn)
}

// Register builds the process-wide store of one entity type and subscribes it
// to change notifications. Unset options fall back to the container's main
// cache config, publisher and logger.
//
// Since Go methods cannot have type parameters, this is a package-level function:
//
//	countries, err := di.Register[country.Country](ctx, container, country.Options(nil, nil, nil))
func Register[E repository.Entity[E, I], I index.Record](ctx context.Context, c *Container, opts repository.Options[I]) (*repository.Store[E, I], error) {
	if opts.MainCache == nil {
		mainCfg := c.config.Cache
		opts.MainCache = &mainCfg
	}
	if opts.Publisher == nil {
		opts.Publisher = c.publisher
	}
	if opts.Logger == nil {
		opts.Logger = c.logger
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.stores[opts.EntityType]; dup {
		return nil, dataerr.Validation("store %q is already registered", opts.EntityType)
	}

	store, err := repository.NewStore[E](ctx, c.db, opts)
	if err != nil {
		return nil, err
	}
	if err := store.Subscribe(c.subscription); err != nil {
		return nil, err
	}
	c.stores[opts.EntityType] = store.Table()
	return store, nil
}

// InstallTriggers installs the change-notification trigger on every registered
// table. It only applies to Postgres.
func (c *Container) InstallTriggers(ctx context.Context) error {
	for _, table := range c.Tables() {
		if err := notify.InstallTrigger(ctx, c.db, table, c.config.Notify.PQ.Channel); err != nil {
			return err
		}
		c.logger.Info("change trigger installed", zap.String("table", table))
	}
	return nil
}

// Listen feeds Postgres change notifications to the registered stores until
// ctx is done.
func (c *Container) Listen(ctx context.Context) error {
	if !c.config.Notify.Enabled {
		return dataerr.Validation("change notifications are disabled")
	}
	src, err := notify.NewPQSource(c.config.Notify.PQ, c.logger)
	if err != nil {
		return err
	}
	defer src.Close()
	return c.subscription.Run(ctx, src)
}

// OpenDB opens the database described by cfg with the matching bun dialect.
func OpenDB(cfg config.DBConfig) (*bun.DB, error) {
	sqldb, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, dataerr.Database(err, "open %s database", cfg.Driver)
	}
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	var db *bun.DB
	switch cfg.Driver {
	case config.DriverPostgres:
		db = bun.NewDB(sqldb, pgdialect.New())
	case config.DriverSQLite:
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		_ = sqldb.Close()
		return nil, dataerr.Validation("unsupported driver %q", cfg.Driver)
	}
	return db, nil
}

// IsPostgres reports whether db speaks the Postgres dialect.
func IsPostgres(db *bun.DB) bool {
	return db.Dialect().Name() == dialect.PG
}

// NewLogger builds the process logger.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, dataerr.Validation("invalid log level %q", cfg.Level)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
