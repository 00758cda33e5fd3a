package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shieldx-bot/tenant-platform/internal/store"
)

func newStatusCmd(withApp withAppFunc, out *printer) *cobra.Command {
	// Root leaf: tenantctl status
	return &cobra.Command{
		Use:   "status",
		Short: "Check that the cluster and the tenant store are reachable",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Cluster.CallTimeout.Duration)
			defer cancel()

			result := map[string]any{
				"ok":      true,
				"command": "status",
				"store":   a.cfg.Store.Driver,
			}
			var errs []error
			if _, err := a.cluster.ListServices(ctx, "default"); err != nil {
				result["ok"] = false
				result["cluster"] = err.Error()
				errs = append(errs, fmt.Errorf("cluster: %w", err))
			} else {
				result["cluster"] = "reachable"
			}
			if tenants, err := a.records.List(ctx, store.Filter{}); err != nil {
				result["ok"] = false
				result["tenants"] = err.Error()
				errs = append(errs, fmt.Errorf("store: %w", err))
			} else {
				result["tenants"] = len(tenants)
			}

			if err := out.print(result, func(w io.Writer) {
				fmt.Fprintf(w, "cluster:\t%v\n", result["cluster"])
				fmt.Fprintf(w, "store (%s):\t%v tenant(s)\n", a.cfg.Store.Driver, result["tenants"])
				if result["ok"] == true {
					fmt.Fprintln(w, "tenantctl:\tok")
				}
			}); err != nil {
				return err
			}
			return errors.Join(errs...)
		}),
	}
}
