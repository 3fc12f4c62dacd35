package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/goliatone/go-ledger-cache/audit"
	"github.com/goliatone/go-ledger-cache/chain"
	"github.com/goliatone/go-ledger-cache/digest"
	"github.com/goliatone/go-ledger-cache/index"
	"github.com/goliatone/go-ledger-cache/notify"
	"github.com/goliatone/go-ledger-cache/overlay"
	"github.com/goliatone/go-ledger-cache/page"
	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
	"github.com/goliatone/go-ledger-cache/uow"
)

// Repository is a Store bound to one unit of work. Cache changes are staged
// while the executor is held, so a concurrent Commit either publishes them or
// the operation fails with ErrTransactionConsumed.
type Repository[E Entity[E, I], I index.Record] struct {
	store  *Store[E, I]
	exec   *uow.Executor
	index  *overlay.Index[I]
	main   *overlay.Main[E]
	outbox *notify.Outbox
}

// CreateBatch seals each item as the first version of its chain and inserts the
// main and index rows. Either every item is created or none is.
func (r *Repository[E, I]) CreateBatch(ctx context.Context, items []E, auditLogID uuid.UUID) ([]E, error) {
	if len(items) == 0 {
		return []E{}, nil
	}
	if err := r.live(); err != nil {
		return nil, err
	}
	if err := r.checkItems(items); err != nil {
		return nil, err
	}

	now := time.Now()
	created := make([]E, len(items))
	indices := make([]I, len(items))
	versions := make([]audit.Version, len(items))
	for i, item := range items {
		sealed, snapshot, err := chain.Genesis(item, auditLogID)
		if err != nil {
			return nil, err
		}
		created[i] = sealed
		indices[i] = sealed.Index()
		versions[i] = audit.NewVersion(r.store.opts.EntityType, sealed.PrimaryID(), audit.OpCreate, sealed.ChainFields(), snapshot, now)
	}

	err := r.exec.Run(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&created).Exec(ctx); err != nil {
			return dataerr.Database(err, "insert %s rows", r.store.opts.EntityType)
		}
		if _, err := tx.NewInsert().Model(&indices).Exec(ctx); err != nil {
			return dataerr.Database(err, "insert %s index rows", r.store.opts.EntityType)
		}
		if err := r.recordAudit(ctx, tx, versions, auditLogID); err != nil {
			return err
		}

		for i, e := range created {
			r.index.Add(indices[i])
			if r.main != nil {
				r.main.Add(e)
			}
			r.announce(notify.OpUpsert, e.PrimaryID())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// LoadBatch returns one slot per id, in order. Absent ids yield nil. Ids not
// cached are read in one query and cached after commit.
func (r *Repository[E, I]) LoadBatch(ctx context.Context, ids []uuid.UUID) ([]*E, error) {
	out := make([]*E, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.live(); err != nil {
		return nil, err
	}

	var missing []uuid.UUID
	pending := make(map[uuid.UUID]struct{})
	for i, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if r.main != nil {
			if e, ok := r.main.Get(id); ok {
				out[i] = &e
				continue
			}
		}
		if _, queued := pending[id]; !queued {
			pending[id] = struct{}{}
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	var rows []E
	err := r.exec.Run(ctx, func(ctx context.Context, tx bun.Tx) error {
		// generations are taken before the read so a delete committed
		// meanwhile voids the fill
		var gens map[uuid.UUID]uint64
		if r.main != nil {
			gens = make(map[uuid.UUID]uint64, len(missing))
			for _, id := range missing {
				gens[id] = r.main.Generation(id)
			}
		}
		if err := tx.NewSelect().Model(&rows).Where("id IN (?)", bun.In(missing)).Scan(ctx); err != nil {
			return dataerr.Database(err, "load %s rows", r.store.opts.EntityType)
		}
		if r.main != nil {
			for _, e := range rows {
				r.main.Fill(e, gens[e.PrimaryID()])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	found := make(map[uuid.UUID]E, len(rows))
	for _, e := range rows {
		found[e.PrimaryID()] = e
	}
	for i, id := range ids {
		if out[i] != nil {
			continue
		}
		if e, ok := found[id]; ok {
			out[i] = &e
		}
	}
	return out, nil
}

// UpdateBatch replaces each item's stored version with a successor. Each item
// must carry the hash of the version it was derived from; if the stored row has
// moved on the whole batch fails with a conflict.
func (r *Repository[E, I]) UpdateBatch(ctx context.Context, items []E, auditLogID uuid.UUID) ([]E, error) {
	if len(items) == 0 {
		return []E{}, nil
	}
	if err := r.live(); err != nil {
		return nil, err
	}
	if auditLogID == uuid.Nil {
		return nil, dataerr.Validation("update of %s requires an audit log id", r.store.opts.EntityType)
	}
	if err := r.checkItems(items); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(items))
	for i, item := range items {
		ids[i] = item.PrimaryID()
	}

	now := time.Now()
	updated := make([]E, len(items))
	indices := make([]I, len(items))

	err := r.exec.Run(ctx, func(ctx context.Context, tx bun.Tx) error {
		current, err := r.lockCurrent(ctx, tx, ids)
		if err != nil {
			return err
		}

		versions := make([]audit.Version, len(items))
		for i, item := range items {
			cur, ok := current[ids[i]]
			if !ok {
				return dataerr.NotFound("%s %s not found", r.store.opts.EntityType, ids[i])
			}
			want := cur.ChainFields().Hash
			if got := item.ChainFields().Hash; got != want {
				return dataerr.Conflict("%s %s was modified: expected hash %d, stored %d",
					r.store.opts.EntityType, ids[i], got, want)
			}

			next, snapshot, err := chain.Successor(cur, item, auditLogID)
			if err != nil {
				return err
			}
			updated[i] = next
			indices[i] = next.Index()
			versions[i] = audit.NewVersion(r.store.opts.EntityType, ids[i], audit.OpUpdate, next.ChainFields(), snapshot, now)

			res, err := tx.NewUpdate().Model(&updated[i]).WherePK().Where("hash = ?", want).Exec(ctx)
			if err != nil {
				return dataerr.Database(err, "update %s %s", r.store.opts.EntityType, ids[i])
			}
			if n, err := res.RowsAffected(); err == nil && n != 1 {
				return dataerr.Conflict("%s %s was modified concurrently", r.store.opts.EntityType, ids[i])
			}
			if _, err := tx.NewUpdate().Model(&indices[i]).WherePK().Exec(ctx); err != nil {
				return dataerr.Database(err, "update %s index %s", r.store.opts.EntityType, ids[i])
			}
		}
		if err := r.recordAudit(ctx, tx, versions, auditLogID); err != nil {
			return err
		}

		for i, e := range updated {
			// Add replaces the committed record, dropping its old secondary keys
			r.index.Add(indices[i])
			if r.main != nil {
				r.main.Add(e)
			}
			r.announce(notify.OpUpsert, ids[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteBatch writes the final chained version of every existing id to the
// version history and removes its rows. Unknown ids are skipped and not counted.
func (r *Repository[E, I]) DeleteBatch(ctx context.Context, ids []uuid.UUID, auditLogID uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := r.live(); err != nil {
		return 0, err
	}
	if err := checkIDs(ids); err != nil {
		return 0, err
	}

	var deleted []uuid.UUID
	err := r.exec.Run(ctx, func(ctx context.Context, tx bun.Tx) error {
		current, err := r.lockCurrent(ctx, tx, ids)
		if err != nil {
			return err
		}

		now := time.Now()
		versions := make([]audit.Version, 0, len(current))
		for _, id := range ids {
			cur, ok := current[id]
			if !ok {
				continue
			}
			final, snapshot, err := chain.Successor(cur, cur, auditLogID)
			if err != nil {
				return err
			}
			versions = append(versions, audit.NewVersion(r.store.opts.EntityType, id, audit.OpDelete, final.ChainFields(), snapshot, now))
			deleted = append(deleted, id)
		}
		if len(deleted) == 0 {
			return nil
		}

		if err := r.recordAudit(ctx, tx, versions, auditLogID); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*I)(nil)).Where("id IN (?)", bun.In(deleted)).Exec(ctx); err != nil {
			return dataerr.Database(err, "delete %s index rows", r.store.opts.EntityType)
		}
		if _, err := tx.NewDelete().Model((*E)(nil)).Where("id IN (?)", bun.In(deleted)).Exec(ctx); err != nil {
			return dataerr.Database(err, "delete %s rows", r.store.opts.EntityType)
		}

		for _, id := range deleted {
			r.index.Remove(id)
			if r.main != nil {
				r.main.Remove(id)
			}
			r.announce(notify.OpDelete, id)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(deleted), nil
}

// ExistByIDs answers from the index cache and asks the database only about ids
// the cache does not know.
func (r *Repository[E, I]) ExistByIDs(ctx context.Context, ids []uuid.UUID) ([]Existence, error) {
	out := make([]Existence, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.live(); err != nil {
		return nil, err
	}
	var unknown []uuid.UUID
	for i, id := range ids {
		out[i] = Existence{ID: id, Existed: r.index.ContainsPrimary(id)}
		if !out[i].Existed && id != uuid.Nil {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) == 0 {
		return out, nil
	}

	var present []uuid.UUID
	err := r.exec.Run(ctx, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model((*E)(nil)).
			Column("id").
			Where("id IN (?)", bun.In(unknown)).
			Scan(ctx, &present)
		if err != nil {
			return dataerr.Database(err, "check %s ids", r.store.opts.EntityType)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	found := make(map[uuid.UUID]struct{}, len(present))
	for _, id := range present {
		found[id] = struct{}{}
	}
	for i := range out {
		if _, ok := found[out[i].ID]; ok {
			out[i].Existed = true
		}
	}
	return out, nil
}

// FindByID returns the index record of id.
func (r *Repository[E, I]) FindByID(ctx context.Context, id uuid.UUID) (I, bool, error) {
	found, err := r.FindIndicesByIDs(ctx, []uuid.UUID{id})
	if err != nil || found[0] == nil {
		var zero I
		return zero, false, err
	}
	return *found[0], true, nil
}

// FindIndicesByIDs returns one index record slot per id, nil when absent.
func (r *Repository[E, I]) FindIndicesByIDs(ctx context.Context, ids []uuid.UUID) ([]*I, error) {
	out := make([]*I, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.live(); err != nil {
		return nil, err
	}
	var missing []uuid.UUID
	for i, id := range ids {
		if rec, ok := r.index.Get(id); ok {
			out[i] = &rec
			continue
		}
		if id != uuid.Nil {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	var rows []I
	err := r.exec.Run(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := tx.NewSelect().Model(&rows).Where("id IN (?)", bun.In(missing)).Scan(ctx); err != nil {
			return dataerr.Database(err, "load %s index rows", r.store.opts.EntityType)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	found := make(map[uuid.UUID]I, len(rows))
	for _, rec := range rows {
		found[rec.PrimaryID()] = rec
	}
	for i, id := range ids {
		if out[i] != nil {
			continue
		}
		if rec, ok := found[id]; ok {
			out[i] = &rec
		}
	}
	return out, nil
}

// FindByI64 returns the index records whose named integer key equals key,
// sorted by id, including changes staged in this unit of work.
func (r *Repository[E, I]) FindByI64(ctx context.Context, name string, key int64) ([]I, error) {
	if err := r.live(); err != nil {
		return nil, err
	}
	if _, ok := r.store.opts.Schema.I64[name]; !ok {
		return nil, dataerr.Validation("%s has no integer index %q", r.store.opts.EntityType, name)
	}
	return r.index.ByI64(name, key), nil
}

// FindByUUID returns the index records whose named uuid key equals key, sorted
// by id, including changes staged in this unit of work.
func (r *Repository[E, I]) FindByUUID(ctx context.Context, name string, key uuid.UUID) ([]I, error) {
	if err := r.live(); err != nil {
		return nil, err
	}
	if _, ok := r.store.opts.Schema.UUID[name]; !ok {
		return nil, dataerr.Validation("%s has no uuid index %q", r.store.opts.EntityType, name)
	}
	return r.index.ByUUID(name, key), nil
}

// LoadAudits returns one page of an entity's history, decoded into revisions.
// An unknown id yields an empty page.
func (r *Repository[E, I]) LoadAudits(ctx context.Context, id uuid.UUID, req page.Request) (page.Page[Revision[E]], error) {
	var versions page.Page[audit.Version]
	err := r.exec.Run(ctx, func(ctx context.Context, tx bun.Tx) error {
		var err error
		versions, err = audit.LoadVersions(ctx, tx, r.store.opts.EntityType, id, req)
		return err
	})
	if err != nil {
		return page.Page[Revision[E]]{}, err
	}

	revisions := make([]Revision[E], len(versions.Items))
	for i, v := range versions.Items {
		var e E
		if err := digest.Decode(v.Snapshot, &e); err != nil {
			return page.Page[Revision[E]]{}, dataerr.Internal("decode %s %s version %d: %v",
				r.store.opts.EntityType, id, v.Seq, err)
		}
		fields := e.ChainFields()
		fields.Hash = v.Hash
		revisions[i] = Revision[E]{Version: v, Entity: e.WithChainFields(fields)}
	}
	return page.New(revisions, versions.Total, req), nil
}

// VerifyChain checks the stored history of id and, when the entity still
// exists, that the live row is the sealed head of that history.
func (r *Repository[E, I]) VerifyChain(ctx context.Context, id uuid.UUID) error {
	var versions []audit.Version
	var live []E
	err := r.exec.Run(ctx, func(ctx context.Context, tx bun.Tx) error {
		var err error
		if versions, err = audit.AllVersions(ctx, tx, r.store.opts.EntityType, id); err != nil {
			return err
		}
		if err := tx.NewSelect().Model(&live).Where("id = ?", id).Scan(ctx); err != nil {
			return dataerr.Database(err, "load %s %s", r.store.opts.EntityType, id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(versions) == 0 {
		if len(live) > 0 {
			return dataerr.Internal("%s %s has no recorded versions", r.store.opts.EntityType, id)
		}
		return dataerr.NotFound("%s %s has no history", r.store.opts.EntityType, id)
	}
	if err := audit.VerifyHistory(versions); err != nil {
		return err
	}

	head := versions[len(versions)-1]
	if len(live) == 0 {
		if head.Op != audit.OpDelete {
			return dataerr.Internal("%s %s is missing but its history does not end in a delete", r.store.opts.EntityType, id)
		}
		return nil
	}
	if err := chain.Verify(live[0]); err != nil {
		return err
	}
	if live[0].ChainFields() != head.Fields() {
		return dataerr.Internal("%s %s live row does not match its latest version", r.store.opts.EntityType, id)
	}
	return nil
}

func (r *Repository[E, I]) checkItems(items []E) error {
	ids := make([]uuid.UUID, len(items))
	for i, item := range items {
		ids[i] = item.PrimaryID()
		if err := validateItem(i, item); err != nil {
			return err
		}
	}
	return checkIDs(ids)
}

// lockCurrent reads the stored rows of ids, locking them on Postgres so the
// chain cannot move between read and write.
func (r *Repository[E, I]) lockCurrent(ctx context.Context, tx bun.Tx, ids []uuid.UUID) (map[uuid.UUID]E, error) {
	var rows []E
	q := tx.NewSelect().Model(&rows).Where("id IN (?)", bun.In(ids))
	if r.exec.Dialect() == dialect.PG {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, dataerr.Database(err, "read current %s rows", r.store.opts.EntityType)
	}

	current := make(map[uuid.UUID]E, len(rows))
	for _, e := range rows {
		current[e.PrimaryID()] = e
	}
	return current, nil
}

func (r *Repository[E, I]) recordAudit(ctx context.Context, tx bun.Tx, versions []audit.Version, auditLogID uuid.UUID) error {
	if err := audit.AppendVersions(ctx, tx, versions); err != nil {
		return err
	}
	if auditLogID == uuid.Nil {
		return nil
	}
	links := make([]audit.Link, len(versions))
	for i, v := range versions {
		links[i] = audit.Link{AuditLogID: auditLogID, EntityType: v.EntityType, EntityID: v.EntityID}
	}
	return audit.InsertLinks(ctx, tx, links)
}

func (r *Repository[E, I]) announce(op notify.Op, id uuid.UUID) {
	if r.outbox == nil {
		return
	}
	r.outbox.Stage(notify.Event{Table: r.store.table, Op: op, ID: id})
}

// live fails once the unit of work is over.
func (r *Repository[E, I]) live() error {
	if r.exec.Consumed() {
		return dataerr.ErrTransactionConsumed
	}
	return nil
}
