package notify

import (
	"context"
	"fmt"
	"regexp"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// TriggerSQL returns the statements that make every committed insert, update or
// delete on table notify channel. The table's primary key column must be "id".
func TriggerSQL(table, channel string) ([]string, error) {
	if !identRe.MatchString(table) {
		return nil, dataerr.Validation("invalid table name %q", table)
	}
	if !identRe.MatchString(channel) {
		return nil, dataerr.Validation("invalid channel name %q", channel)
	}

	fn := "ledger_notify_" + channel
	trigger := table + "_ledger_notify"

	return []string{
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %[1]s() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'DELETE' THEN
		PERFORM pg_notify('%[2]s', json_build_object('table', TG_TABLE_NAME, 'op', 'delete', 'id', OLD.id)::text);
		RETURN OLD;
	END IF;
	PERFORM pg_notify('%[2]s', json_build_object('table', TG_TABLE_NAME, 'op', 'upsert', 'id', NEW.id)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`, fn, channel),
		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s`, trigger, table),
		fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION %s()`, trigger, table, fn),
	}, nil
}

// InstallTrigger installs the notify trigger on a Postgres table. Notifications
// raised inside a transaction are delivered only when it commits.
func InstallTrigger(ctx context.Context, db bun.IDB, table, channel string) error {
	if name := db.Dialect().Name(); name != dialect.PG {
		return dataerr.Validation("change triggers require postgres, got %s", name)
	}

	statements, err := TriggerSQL(table, channel)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return dataerr.Database(err, "install notify trigger on %s", table)
		}
	}
	return nil
}
