package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-ledger-cache/chain"
	"github.com/goliatone/go-ledger-cache/digest"
	"github.com/goliatone/go-ledger-cache/page"
	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
)

// AppendVersions numbers versions after the latest stored version of each
// entity and inserts them.
func AppendVersions(ctx context.Context, db bun.IDB, versions []Version) error {
	if len(versions) == 0 {
		return nil
	}

	byType := make(map[string][]uuid.UUID)
	for _, v := range versions {
		byType[v.EntityType] = append(byType[v.EntityType], v.EntityID)
	}

	type key struct {
		entityType string
		id         uuid.UUID
	}
	next := make(map[key]int64, len(versions))
	for entityType, ids := range byType {
		var latest []struct {
			EntityID uuid.UUID `bun:"entity_id"`
			Seq      int64     `bun:"seq"`
		}
		err := db.NewSelect().
			Model((*Version)(nil)).
			Column("entity_id").
			ColumnExpr("MAX(seq) AS seq").
			Where("entity_type = ?", entityType).
			Where("entity_id IN (?)", bun.In(ids)).
			Group("entity_id").
			Scan(ctx, &latest)
		if err != nil {
			return dataerr.Database(err, "read latest %s versions", entityType)
		}
		for _, row := range latest {
			next[key{entityType, row.EntityID}] = row.Seq
		}
	}

	for i := range versions {
		k := key{versions[i].EntityType, versions[i].EntityID}
		next[k]++
		versions[i].Seq = next[k]
	}

	if _, err := db.NewInsert().Model(&versions).Exec(ctx); err != nil {
		return dataerr.Database(err, "insert versions")
	}
	return nil
}

// InsertLinks records which entities an audit-log entry touched. A link that
// already exists is kept.
func InsertLinks(ctx context.Context, db bun.IDB, links []Link) error {
	if len(links) == 0 {
		return nil
	}
	if _, err := db.NewInsert().Model(&links).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return dataerr.Database(err, "insert audit links")
	}
	return nil
}

// LoadVersions returns one page of an entity's versions ordered by sequence.
// An unknown entity yields an empty page.
func LoadVersions(ctx context.Context, db bun.IDB, entityType string, entityID uuid.UUID, req page.Request) (page.Page[Version], error) {
	if err := req.Validate(); err != nil {
		return page.Page[Version]{}, err
	}

	order := "seq ASC"
	if req.Descending {
		order = "seq DESC"
	}

	var versions []Version
	total, err := db.NewSelect().
		Model(&versions).
		Where("entity_type = ?", entityType).
		Where("entity_id = ?", entityID).
		OrderExpr(order).
		Limit(req.Limit).
		Offset(req.Offset).
		ScanAndCount(ctx)
	if err != nil {
		return page.Page[Version]{}, dataerr.Database(err, "load %s versions", entityType)
	}
	return page.New(versions, total, req), nil
}

// AllVersions returns every version of an entity, oldest first.
func AllVersions(ctx context.Context, db bun.IDB, entityType string, entityID uuid.UUID) ([]Version, error) {
	var versions []Version
	err := db.NewSelect().
		Model(&versions).
		Where("entity_type = ?", entityType).
		Where("entity_id = ?", entityID).
		OrderExpr("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, dataerr.Database(err, "load %s versions", entityType)
	}
	return versions, nil
}

// VerifyHistory checks a version sequence, oldest first: every snapshot must
// digest to its recorded hash and every version must extend its predecessor.
// A version following a delete starts a new chain.
func VerifyHistory(versions []Version) error {
	for i, v := range versions {
		if got := digest.Sum(v.Snapshot); got != v.Hash {
			return dataerr.Internal("%s %s version %d: content hash %d does not match recorded %d",
				v.EntityType, v.EntityID, v.Seq, got, v.Hash)
		}

		if i == 0 || versions[i-1].Op == OpDelete {
			if v.Op != OpCreate || !v.Fields().IsGenesis() {
				return dataerr.Internal("%s %s version %d: chain does not start with a genesis create",
					v.EntityType, v.EntityID, v.Seq)
			}
			continue
		}

		if v.Op == OpCreate {
			return dataerr.Internal("%s %s version %d: create in the middle of a chain",
				v.EntityType, v.EntityID, v.Seq)
		}
		if err := chain.VerifyLink(versions[i-1].Fields(), v.Fields()); err != nil {
			return dataerr.Internal("%s %s version %d: %v", v.EntityType, v.EntityID, v.Seq, err)
		}
	}
	return nil
}
