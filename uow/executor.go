// Package uow implements the unit of work that owns one database transaction
// together with the cache overlays staged inside it.
package uow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.uber.org/zap"

	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
)

// Participant is staged state that must be published or discarded together with
// the database transaction, typically a cache overlay.
type Participant interface {
	OnCommit()
	OnRollback()
}

type state int

const (
	stateActive state = iota
	stateCommitted
	stateRolledBack
)

func (s state) String() string {
	switch s {
	case stateCommitted:
		return "committed"
	case stateRolledBack:
		return "rolled back"
	default:
		return "active"
	}
}

// Executor owns one database transaction. Statements issued through Run are
// serialized, so concurrent callers sharing an Executor queue instead of failing.
type Executor struct {
	mu           sync.Mutex
	id           uuid.UUID
	tx           bun.Tx
	dialect      dialect.Name
	state        state
	participants []Participant
	logger       *zap.Logger
}

// Begin opens a transaction on db.
func Begin(ctx context.Context, db *bun.DB, logger *zap.Logger) (*Executor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, dataerr.Database(err, "begin transaction")
	}

	id := uuid.New()
	logger = logger.With(zap.Stringer("unit_of_work", id))
	logger.Debug("transaction started")

	return &Executor{
		id:      id,
		tx:      tx,
		dialect: db.Dialect().Name(),
		logger:  logger,
	}, nil
}

// ID identifies the unit of work in logs.
func (e *Executor) ID() uuid.UUID { return e.id }

// Dialect reports the SQL dialect of the underlying database.
func (e *Executor) Dialect() dialect.Name { return e.dialect }

// Logger returns the unit of work's logger.
func (e *Executor) Logger() *zap.Logger { return e.logger }

// Consumed reports whether the transaction has been committed or rolled back.
func (e *Executor) Consumed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state != stateActive
}

// Register attaches p so it is committed or rolled back with the transaction.
func (e *Executor) Register(p Participant) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateActive {
		return dataerr.ErrTransactionConsumed
	}
	e.participants = append(e.participants, p)
	return nil
}

// Run executes fn against the transaction. If fn fails the whole unit of work
// is rolled back and the error is returned unchanged.
func (e *Executor) Run(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateActive {
		return dataerr.ErrTransactionConsumed
	}

	if err := fn(ctx, e.tx); err != nil {
		e.logger.Debug("statement failed, rolling back", zap.Error(err))
		if rbErr := e.rollbackLocked(); rbErr != nil {
			e.logger.Warn("rollback after failed statement", zap.Error(rbErr))
		}
		return err
	}
	return nil
}

// Commit commits the transaction and then publishes every participant in
// registration order. Participants never see a commit the database rejected.
func (e *Executor) Commit(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateActive {
		return dataerr.ErrTransactionConsumed
	}

	if err := e.tx.Commit(); err != nil {
		e.state = stateRolledBack
		e.discardLocked()
		e.logger.Warn("commit failed", zap.Error(err))
		return dataerr.Database(err, "commit transaction")
	}

	e.state = stateCommitted
	for _, p := range e.participants {
		p.OnCommit()
	}
	e.logger.Debug("transaction committed", zap.Int("participants", len(e.participants)))
	e.participants = nil
	return nil
}

// Rollback aborts the transaction. Participants are always discarded, even
// when the database reports an error.
func (e *Executor) Rollback(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateActive {
		return dataerr.ErrTransactionConsumed
	}
	return e.rollbackLocked()
}

// Close rolls back an active transaction and is a no-op otherwise, so it can be deferred.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateActive {
		return nil
	}
	e.logger.Debug("closing active transaction without commit")
	return e.rollbackLocked()
}

func (e *Executor) rollbackLocked() error {
	err := e.tx.Rollback()
	e.state = stateRolledBack
	e.discardLocked()
	e.logger.Debug("transaction rolled back")

	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return dataerr.Database(err, "rollback transaction")
	}
	return nil
}

func (e *Executor) discardLocked() {
	for _, p := range e.participants {
		p.OnRollback()
	}
	e.participants = nil
}

func (e *Executor) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fmt.Sprintf("uow(%s, %s)", e.id, e.state)
}

// Do runs fn inside a fresh unit of work, committing on success and rolling back
// on error or panic.
func Do(ctx context.Context, db *bun.DB, logger *zap.Logger, fn func(ctx context.Context, exec *Executor) error) (err error) {
	exec, err := Begin(ctx, db, logger)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = exec.Close(ctx)
			panic(r)
		}
	}()

	if err := fn(ctx, exec); err != nil {
		_ = exec.Close(ctx)
		return err
	}
	return exec.Commit(ctx)
}
