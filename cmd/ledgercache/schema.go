package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/goliatone/go-ledger-cache/audit"
	"github.com/goliatone/go-ledger-cache/entity/country"
	"github.com/goliatone/go-ledger-cache/pkg/di"
)

func newSchemaCmd(open func(context.Context, bool) (*app, error)) *cobra.Command {
	var triggers bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create the audit and entity tables",
		Long: "Create the audit and entity tables if they do not exist. On Postgres the\n" +
			"change-notification triggers are installed as well unless --triggers=false.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			// the stores warm-start from their tables, so create those first
			a, err := open(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := audit.CreateSchema(ctx, a.db); err != nil {
				return err
			}
			if err := country.CreateSchema(ctx, a.db); err != nil {
				return err
			}
			a.logger.Info("schema ready")

			if !triggers || !di.IsPostgres(a.db) {
				return nil
			}
			if _, err := di.Register[country.Country](ctx, a.container, country.Options(nil, nil, nil)); err != nil {
				return err
			}
			if err := a.container.InstallTriggers(ctx); err != nil {
				return err
			}
			a.logger.Info("change triggers ready", zap.Strings("tables", a.container.Tables()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&triggers, "triggers", true, "install change-notification triggers (Postgres only)")
	return cmd
}
