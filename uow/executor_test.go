package uow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.uber.org/zap/zaptest"

	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
	"github.com/goliatone/go-ledger-cache/pkg/testsupport"
)

// recordingParticipant tracks calls and their order across participants.
type recordingParticipant struct {
	name  string
	log   *[]string
	mu    sync.Mutex
	calls []string
}

func (p *recordingParticipant) OnCommit() {
	p.mu.Lock()
	p.calls = append(p.calls, "commit")
	p.mu.Unlock()
	if p.log != nil {
		*p.log = append(*p.log, p.name)
	}
}

func (p *recordingParticipant) OnRollback() {
	p.mu.Lock()
	p.calls = append(p.calls, "rollback")
	p.mu.Unlock()
}

func newDB(t *testing.T) *bun.DB {
	t.Helper()
	db := testsupport.OpenSQLite(t)
	testsupport.Exec(t, db, `CREATE TABLE ledger (id INTEGER PRIMARY KEY, amount INTEGER NOT NULL)`)
	return db
}

func countRows(t *testing.T, db *bun.DB) int {
	t.Helper()
	n, err := db.NewSelect().TableExpr("ledger").Count(context.Background())
	require.NoError(t, err)
	return n
}

func insert(id, amount int) func(context.Context, bun.Tx) error {
	return func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO ledger (id, amount) VALUES (?, ?)`, id, amount)
		return err
	}
}

func TestExecutor_CommitPublishesInOrder(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	exec, err := Begin(ctx, db, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, dialect.SQLite, exec.Dialect())

	var order []string
	first := &recordingParticipant{name: "first", log: &order}
	second := &recordingParticipant{name: "second", log: &order}
	require.NoError(t, exec.Register(first))
	require.NoError(t, exec.Register(second))

	require.NoError(t, exec.Run(ctx, insert(1, 100)))
	require.NoError(t, exec.Commit(ctx))

	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, []string{"commit"}, first.calls)
	assert.Equal(t, 1, countRows(t, db))
	assert.True(t, exec.Consumed())
}

func TestExecutor_RollbackDiscards(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	exec, err := Begin(ctx, db, zaptest.NewLogger(t))
	require.NoError(t, err)

	p := &recordingParticipant{}
	require.NoError(t, exec.Register(p))
	require.NoError(t, exec.Run(ctx, insert(1, 100)))
	require.NoError(t, exec.Rollback(ctx))

	assert.Equal(t, []string{"rollback"}, p.calls)
	assert.Equal(t, 0, countRows(t, db))
}

func TestExecutor_FailedStatementRollsBackUnit(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	exec, err := Begin(ctx, db, zaptest.NewLogger(t))
	require.NoError(t, err)

	p := &recordingParticipant{}
	require.NoError(t, exec.Register(p))
	require.NoError(t, exec.Run(ctx, insert(1, 100)))

	err = exec.Run(ctx, insert(1, 200))
	require.Error(t, err, "duplicate primary key")

	assert.Equal(t, []string{"rollback"}, p.calls)
	assert.True(t, exec.Consumed())
	assert.Equal(t, 0, countRows(t, db), "earlier statements of the unit are undone")
}

func TestExecutor_UseAfterConsumed(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	exec, err := Begin(ctx, db, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, exec.Commit(ctx))

	tests := []struct {
		name string
		call func() error
	}{
		{"run", func() error { return exec.Run(ctx, insert(1, 1)) }},
		{"register", func() error { return exec.Register(&recordingParticipant{}) }},
		{"commit", func() error { return exec.Commit(ctx) }},
		{"rollback", func() error { return exec.Rollback(ctx) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			assert.ErrorIs(t, err, dataerr.ErrTransactionConsumed)
			assert.True(t, dataerr.IsDatabase(err))
		})
	}

	assert.NoError(t, exec.Close(ctx), "close is a no-op once consumed")
}

func TestExecutor_ConcurrentRunsSerialize(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	exec, err := Begin(ctx, db, zaptest.NewLogger(t))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- exec.Run(ctx, insert(i, i))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, exec.Commit(ctx))
	assert.Equal(t, 20, countRows(t, db))
}

func TestDo(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	logger := zaptest.NewLogger(t)

	require.NoError(t, Do(ctx, db, logger, func(ctx context.Context, exec *Executor) error {
		return exec.Run(ctx, insert(1, 10))
	}))
	assert.Equal(t, 1, countRows(t, db))

	boom := errors.New("boom")
	p := &recordingParticipant{}
	err := Do(ctx, db, logger, func(ctx context.Context, exec *Executor) error {
		require.NoError(t, exec.Register(p))
		require.NoError(t, exec.Run(ctx, insert(2, 20)))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"rollback"}, p.calls)
	assert.Equal(t, 1, countRows(t, db))

	assert.Panics(t, func() {
		_ = Do(ctx, db, logger, func(ctx context.Context, exec *Executor) error {
			require.NoError(t, exec.Run(ctx, insert(3, 30)))
			panic("kaboom")
		})
	})
	assert.Equal(t, 1, countRows(t, db))
}
