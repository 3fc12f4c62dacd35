package di

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/goliatone/go-ledger-cache/audit"
	"github.com/goliatone/go-ledger-cache/entity/country"
	"github.com/goliatone/go-ledger-cache/pkg/config"
	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
	"github.com/goliatone/go-ledger-cache/pkg/testsupport"
)

func TestNewContainer(t *testing.T) {
	db := testsupport.OpenSQLite(t)
	cfg := config.DefaultConfig()
	cfg.Audit.Capacity = 1000
	cfg.Audit.NumShards = 8

	container, err := NewContainer(db, cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}

	if container.CacheService() == nil {
		t.Error("Container should have a non-nil cache service")
	}
	if container.KeySerializer() == nil {
		t.Error("Container should have a non-nil key serializer")
	}
	if container.AuditLog() == nil {
		t.Error("Container should have a non-nil audit log")
	}
	if container.Subscription() == nil {
		t.Error("Container should have a non-nil subscription")
	}
	if container.DB() != db {
		t.Error("Container should expose the database it was built with")
	}

	if got := container.Config().Audit.Capacity; got != cfg.Audit.Capacity {
		t.Errorf("Expected audit capacity %d, got %d", cfg.Audit.Capacity, got)
	}
}

func TestNewContainerWithDefaults(t *testing.T) {
	container, err := NewContainerWithDefaults(testsupport.OpenSQLite(t), nil)
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	if container.Config() != config.DefaultConfig() {
		t.Error("Expected the default configuration")
	}
	if container.Logger() == nil {
		t.Error("A nil logger should be replaced by a no-op logger")
	}
}

func TestNewContainer_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Audit.Capacity = 0

	_, err := NewContainer(testsupport.OpenSQLite(t), cfg, nil)
	if !dataerr.IsValidation(err) {
		t.Fatalf("Expected a validation error, got %v", err)
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	db := testsupport.OpenSQLite(t)
	if err := country.CreateSchema(ctx, db); err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}

	container, err := NewContainer(db, config.DefaultConfig(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}

	store, err := Register[country.Country](ctx, container, country.Options(nil, nil, nil))
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if store.Stats().Main == nil {
		t.Error("Register should enable the main cache from the container config")
	}

	tables := container.Tables()
	if len(tables) != 1 || tables[0] != "countries" {
		t.Errorf("Expected [countries], got %v", tables)
	}
	if subscribed := container.Subscription().Tables(); len(subscribed) != 1 || subscribed[0] != "countries" {
		t.Errorf("Expected the store to be subscribed to countries, got %v", subscribed)
	}

	_, err = Register[country.Country](ctx, container, country.Options(nil, nil, nil))
	if !dataerr.IsValidation(err) {
		t.Errorf("Expected a validation error for a duplicate store, got %v", err)
	}
}

func TestContainer_ListenRequiresNotify(t *testing.T) {
	container, err := NewContainerWithDefaults(testsupport.OpenSQLite(t), nil)
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	if err := container.Listen(context.Background()); !dataerr.IsValidation(err) {
		t.Errorf("Expected a validation error, got %v", err)
	}
}

func TestContainer_InstallTriggersRequiresPostgres(t *testing.T) {
	ctx := context.Background()
	db := testsupport.OpenSQLite(t)
	if err := country.CreateSchema(ctx, db); err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}
	container, err := NewContainerWithDefaults(db, nil)
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	if err := container.InstallTriggers(ctx); err != nil {
		t.Fatalf("Without stores there is nothing to install, got %v", err)
	}

	if _, err := Register[country.Country](ctx, container, country.Options(nil, nil, nil)); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := container.InstallTriggers(ctx); !dataerr.IsValidation(err) {
		t.Errorf("Expected a validation error on sqlite, got %v", err)
	}
}

func TestOpenDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "open.db")
	db, err := OpenDB(config.DBConfig{Driver: config.DriverSQLite, DSN: "file:" + path, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	defer db.Close()

	if IsPostgres(db) {
		t.Error("Expected the sqlite dialect")
	}
	if err := audit.CreateSchema(context.Background(), db); err != nil {
		t.Errorf("Expected a usable database, got %v", err)
	}

	if _, err := OpenDB(config.DBConfig{Driver: "oracle", DSN: "x"}); err == nil {
		t.Error("Expected an error for an unknown driver")
	}
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		if _, err := NewLogger(config.LogConfig{Level: level}); err != nil {
			t.Errorf("NewLogger(%q) failed: %v", level, err)
		}
	}
	if _, err := NewLogger(config.LogConfig{Level: "info", Development: true}); err != nil {
		t.Errorf("NewLogger(development) failed: %v", err)
	}
	if _, err := NewLogger(config.LogConfig{Level: "chatty"}); !dataerr.IsValidation(err) {
		t.Errorf("Expected a validation error, got %v", err)
	}
}
