package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-ledger-cache/entity/country"
	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
)

func newVerifyCmd(open func(context.Context, bool) (*app, error)) *cobra.Command {
	var entityType string

	cmd := &cobra.Command{
		Use:   "verify ID...",
		Short: "Verify the stored hash chain of one or more entities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uuid.UUID, len(args))
			for i, arg := range args {
				id, err := uuid.Parse(arg)
				if err != nil {
					return dataerr.Validation("invalid id %q: %v", arg, err)
				}
				ids[i] = id
			}

			ctx := cmd.Context()
			a, err := open(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			failed := 0
			for _, id := range ids {
				if err := a.container.AuditLog().Verify(ctx, entityType, id); err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %v\n", entityType, id, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: ok\n", entityType, id)
			}
			if failed > 0 {
				return dataerr.Internal("%d of %d chains failed verification", failed, len(ids))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&entityType, "type", "t", country.EntityType, "entity type recorded in the version history")
	return cmd
}
