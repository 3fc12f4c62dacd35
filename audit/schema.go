package audit

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
)

// CreateSchema creates the audit tables if they do not exist.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range []any{(*LogEntry)(nil), (*Link)(nil), (*Version)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return dataerr.Database(err, "create audit table")
		}
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*LogEntry)(nil), "audit_logs_actor_idx", []string{"actor_id", "created_at"}},
		{(*Link)(nil), "audit_links_entity_idx", []string{"entity_type", "entity_id"}},
		{(*Version)(nil), "entity_versions_audit_idx", []string{"audit_log_id"}},
	}
	for _, idx := range indexes {
		_, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return dataerr.Database(err, "create index %s", idx.name)
		}
	}
	return nil
}
