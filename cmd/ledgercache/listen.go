package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/goliatone/go-ledger-cache/notify"
)

func newListenCmd(open func(context.Context, bool) (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Keep the caches coherent from Postgres change notifications and log them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			sub := a.container.Subscription()
			for _, table := range sub.Tables() {
				err := sub.Register(table, "log", notify.HandlerFunc(func(ctx context.Context, ev notify.Event) error {
					a.logger.Info("change",
						zap.String("table", ev.Table),
						zap.String("op", string(ev.Op)),
						zap.Stringer("id", ev.ID),
					)
					return nil
				}))
				if err != nil {
					return err
				}
			}

			a.logger.Info("listening", zap.String("channel", a.cfg.Notify.PQ.Channel), zap.Strings("tables", sub.Tables()))
			err = a.container.Listen(ctx)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			stats := sub.Stats()
			a.logger.Info("stopped",
				zap.Int64("received", stats.Received),
				zap.Int64("applied", stats.Applied),
				zap.Int64("failed", stats.Failed),
				zap.Int64("resyncs", stats.Resyncs),
			)
			return err
		},
	}
}
