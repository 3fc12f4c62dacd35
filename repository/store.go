package repository

import (
	"context"
	"database/sql"
	"errors"
	"reflect"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/goliatone/go-ledger-cache/cache"
	"github.com/goliatone/go-ledger-cache/index"
	"github.com/goliatone/go-ledger-cache/notify"
	"github.com/goliatone/go-ledger-cache/overlay"
	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
	"github.com/goliatone/go-ledger-cache/uow"
)

// Store holds the process-wide caches of one entity type.
type Store[E Entity[E, I], I index.Record] struct {
	db         *bun.DB
	opts       Options[I]
	table      string
	indexTable string
	index      *index.Cache[I]
	main       *cache.Main[E]
	logger     *zap.Logger
}

// NewStore builds a Store and warm-starts its index cache from the index table.
// Lookups by secondary key are answered from that cache alone, so it must start
// complete.
func NewStore[E Entity[E, I], I index.Record](ctx context.Context, db *bun.DB, opts Options[I]) (*Store[E, I], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store[E, I]{
		db:         db,
		opts:       opts,
		table:      db.Table(reflect.TypeOf((*E)(nil)).Elem()).Name,
		indexTable: db.Table(reflect.TypeOf((*I)(nil)).Elem()).Name,
		logger:     logger.Named("store").With(zap.String("entity", opts.EntityType)),
	}

	records, err := s.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	if s.index, err = index.New(opts.Schema, records); err != nil {
		return nil, err
	}

	if opts.MainCache != nil {
		s.main, err = cache.NewMain(*opts.MainCache, func(e E) uuid.UUID { return e.PrimaryID() })
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info("store ready",
		zap.String("table", s.table),
		zap.String("index_table", s.indexTable),
		zap.Int("index_entries", len(records)),
		zap.Bool("main_cache", s.main != nil),
	)
	return s, nil
}

// EntityType is the name used in audit rows.
func (s *Store[E, I]) EntityType() string { return s.opts.EntityType }

// Table is the main table name.
func (s *Store[E, I]) Table() string { return s.table }

// IndexTable is the index table name.
func (s *Store[E, I]) IndexTable() string { return s.indexTable }

// Session binds the Store to a unit of work. Overlays are registered with exec
// and published or discarded with its transaction.
func (s *Store[E, I]) Session(exec *uow.Executor) (*Repository[E, I], error) {
	r := &Repository[E, I]{
		store: s,
		exec:  exec,
		index: overlay.NewIndex(s.index),
	}
	if err := exec.Register(r.index); err != nil {
		return nil, err
	}

	if s.main != nil {
		r.main = overlay.NewMain(s.main, func(e E) uuid.UUID { return e.PrimaryID() })
		if err := exec.Register(r.main); err != nil {
			return nil, err
		}
	}

	if s.opts.Publisher != nil {
		r.outbox = notify.NewOutbox(s.opts.Publisher, exec.Logger())
		if err := exec.Register(r.outbox); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Subscribe registers the Store as the handler of its main table.
func (s *Store[E, I]) Subscribe(sub *notify.Subscription) error {
	return sub.Register(s.table, "store:"+s.opts.EntityType, s)
}

// Apply brings the base caches in line with a change committed elsewhere. An
// upsert re-reads the row, so the event only needs to carry the id.
func (s *Store[E, I]) Apply(ctx context.Context, ev notify.Event) error {
	if ev.Op == notify.OpDelete {
		s.evict(ev.ID)
		return nil
	}

	var e E
	err := s.db.NewSelect().Model(&e).Where("id = ?", ev.ID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		// deleted again before we got here
		s.evict(ev.ID)
		return nil
	}
	if err != nil {
		return dataerr.Database(err, "reload %s %s", s.opts.EntityType, ev.ID)
	}

	s.index.Add(e.Index())
	if s.main != nil {
		s.main.Update(e)
	}
	return nil
}

// Resync rebuilds the index cache from the database and empties the main cache.
func (s *Store[E, I]) Resync(ctx context.Context) error {
	records, err := s.loadIndex(ctx)
	if err != nil {
		return err
	}
	if err := s.index.Reset(records); err != nil {
		return err
	}
	if s.main != nil {
		s.main.Clear()
	}
	s.logger.Info("store resynced", zap.Int("index_entries", len(records)))
	return nil
}

func (s *Store[E, I]) Stats() StoreStats {
	stats := StoreStats{IndexEntries: s.index.Len()}
	if s.main != nil {
		mainStats := s.main.Stats()
		stats.Main = &mainStats
	}
	return stats
}

func (s *Store[E, I]) evict(id uuid.UUID) {
	s.index.Remove(id)
	if s.main != nil {
		s.main.Remove(id)
	}
}

func (s *Store[E, I]) loadIndex(ctx context.Context) ([]I, error) {
	var records []I
	if err := s.db.NewSelect().Model(&records).Scan(ctx); err != nil {
		return nil, dataerr.Database(err, "load %s index", s.opts.EntityType)
	}
	return records, nil
}
