package audit

import (
	"context"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/goliatone/go-ledger-cache/cache"
	"github.com/goliatone/go-ledger-cache/page"
	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
	"github.com/goliatone/go-ledger-cache/repositorycache"
	"github.com/goliatone/go-ledger-cache/uow"
)

// Log opens audit-log entries and answers audit queries. Entries are immutable,
// so reads go through a read-through cache.
type Log struct {
	db      *bun.DB
	entries *repositorycache.CachedRepository[*LogEntry]
	logger  *zap.Logger
	now     func() time.Time
}

// NewLog builds a Log over db. svc caches entries and per-actor listings.
func NewLog(db *bun.DB, svc cache.CacheService, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := repository.NewRepository[*LogEntry](db, repository.ModelHandlers[*LogEntry]{
		NewRecord: func() *LogEntry { return &LogEntry{} },
		GetID: func(e *LogEntry) uuid.UUID {
			if e == nil {
				return uuid.Nil
			}
			return e.ID
		},
		SetID: func(e *LogEntry, id uuid.UUID) {
			e.ID = id
		},
		GetIdentifier: func() string { return "id" },
	})

	return &Log{
		db:      db,
		entries: repositorycache.New[*LogEntry](base, svc, cache.NewDefaultKeySerializer(), logger),
		logger:  logger.Named("audit"),
		now:     time.Now,
	}
}

// Open persists a new entry inside the unit of work. Pass its ID to every
// mutating repository call of that unit.
func (l *Log) Open(ctx context.Context, exec *uow.Executor, actorID uuid.UUID) (*LogEntry, error) {
	entry := &LogEntry{
		ID:        uuid.New(),
		ActorID:   actorID,
		CreatedAt: l.now().UTC(),
	}

	err := exec.Run(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := l.entries.CreateTx(ctx, tx, entry); err != nil {
			return dataerr.Database(err, "create audit log entry")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := exec.Register(&queryInvalidator{log: l, actorID: actorID}); err != nil {
		return nil, err
	}

	l.logger.Debug("audit log entry opened",
		zap.Stringer("audit_log_id", entry.ID),
		zap.Stringer("actor_id", actorID),
		zap.Stringer("unit_of_work", exec.ID()),
	)
	return entry, nil
}

// Entry returns a committed entry.
func (l *Log) Entry(ctx context.Context, id uuid.UUID) (*LogEntry, error) {
	if id == uuid.Nil {
		return nil, dataerr.Validation("audit log id is required")
	}

	entry, err := l.entries.GetByID(ctx, id.String())
	if err == nil && entry != nil {
		return entry, nil
	}

	// tell a missing row apart from a failing database
	n, cerr := l.entries.CountUncached(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("id = ?", id)
	})
	if cerr != nil {
		return nil, dataerr.Database(cerr, "count audit log entry %s", id)
	}
	if n == 0 {
		return nil, dataerr.NotFound("audit log entry %s not found", id)
	}
	return nil, dataerr.Database(err, "load audit log entry %s", id)
}

// ByActor lists the entries opened by actorID, oldest first unless req is descending.
func (l *Log) ByActor(ctx context.Context, actorID uuid.UUID, req page.Request) (page.Page[*LogEntry], error) {
	if err := req.Validate(); err != nil {
		return page.Page[*LogEntry]{}, err
	}

	order := "created_at ASC"
	if req.Descending {
		order = "created_at DESC"
	}

	ctx = repositorycache.WithCacheTags(ctx, actorTag(actorID))
	records, total, err := l.entries.List(ctx, repositorycache.Query{
		Name: "by_actor",
		Args: []any{actorID, req.Limit, req.Offset, req.Descending},
		Criteria: []repository.SelectCriteria{
			func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Where("actor_id = ?", actorID).OrderExpr(order).Limit(req.Limit).Offset(req.Offset)
			},
		},
	})
	if err != nil {
		return page.Page[*LogEntry]{}, dataerr.Database(err, "list audit log entries of %s", actorID)
	}
	return page.New(records, total, req), nil
}

// Changes returns the entities mutated under auditLogID, the answer to "what
// else changed alongside this entity".
func (l *Log) Changes(ctx context.Context, auditLogID uuid.UUID) ([]Link, error) {
	var links []Link
	err := l.db.NewSelect().
		Model(&links).
		Where("audit_log_id = ?", auditLogID).
		OrderExpr("entity_type ASC, entity_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, dataerr.Database(err, "load changes of %s", auditLogID)
	}
	return links, nil
}

// History returns the entries that touched an entity, newest first.
func (l *Log) History(ctx context.Context, entityType string, entityID uuid.UUID) ([]*LogEntry, error) {
	var entries []*LogEntry
	err := l.db.NewSelect().
		Model(&entries).
		Join("JOIN audit_links AS alk ON alk.audit_log_id = al.id").
		Where("alk.entity_type = ?", entityType).
		Where("alk.entity_id = ?", entityID).
		OrderExpr("al.created_at DESC, al.id DESC").
		Scan(ctx)
	if err != nil {
		return nil, dataerr.Database(err, "load history of %s %s", entityType, entityID)
	}
	return entries, nil
}

// Versions returns one page of an entity's stored versions.
func (l *Log) Versions(ctx context.Context, entityType string, entityID uuid.UUID, req page.Request) (page.Page[Version], error) {
	return LoadVersions(ctx, l.db, entityType, entityID, req)
}

// Verify checks the complete stored history of an entity.
func (l *Log) Verify(ctx context.Context, entityType string, entityID uuid.UUID) error {
	versions, err := AllVersions(ctx, l.db, entityType, entityID)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return dataerr.NotFound("no versions of %s %s", entityType, entityID)
	}
	return VerifyHistory(versions)
}

func actorTag(actorID uuid.UUID) string { return "actor:" + actorID.String() }

// queryInvalidator drops cached listings once the new entry is visible to readers.
type queryInvalidator struct {
	log     *Log
	actorID uuid.UUID
}

func (q *queryInvalidator) OnCommit() {
	ctx := context.Background()
	q.log.entries.InvalidateTags(ctx, actorTag(q.actorID))
	q.log.entries.InvalidateQueries(ctx)
}

func (q *queryInvalidator) OnRollback() {}
