// Command ledgercache manages the tables and change notifications of the
// ledger cache engine and audits stored hash chains.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/goliatone/go-ledger-cache/entity/country"
	"github.com/goliatone/go-ledger-cache/pkg/config"
	"github.com/goliatone/go-ledger-cache/pkg/di"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is what every subcommand needs, built from the loaded config.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	db        *bun.DB
	container *di.Container
	countries *country.Store
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "ledgercache",
		Short:         "Ledger cache engine administration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml); LEDGER_* env vars override it")

	open := func(ctx context.Context, withStores bool) (*app, error) {
		return openApp(ctx, configPath, withStores)
	}
	root.AddCommand(newSchemaCmd(open), newListenCmd(open), newVerifyCmd(open))
	return root
}

func openApp(ctx context.Context, configPath string, withStores bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := di.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	db, err := di.OpenDB(cfg.DB)
	if err != nil {
		return nil, err
	}
	container, err := di.NewContainer(db, cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, db: db, container: container}
	if withStores {
		a.countries, err = di.Register[country.Country](ctx, container, country.Options(nil, nil, nil))
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) Close() error {
	_ = a.logger.Sync()
	return a.db.Close()
}
