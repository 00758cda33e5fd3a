package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/api/resource"

	platformv1alpha1 "github.com/shieldx-bot/tenant-platform/api/v1alpha1"
	"github.com/shieldx-bot/tenant-platform/internal/store"
	"github.com/shieldx-bot/tenant-platform/internal/tenant"
)

func newTenantCmd(withApp withAppFunc, out *printer) *cobra.Command {
	// Parent: tenantctl tenant
	tenantCmd := &cobra.Command{
		Use:   "tenant",
		Short: "Tenant operations",
	}

	// Flags for: tenantctl tenant create
	var (
		email           string
		tier            string
		cpu             string
		memory          string
		storage         string
		maxParticipants int
		createdBy       string
	)

	// Leaf: tenantctl tenant create NAME
	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Register a tenant and provision its namespace",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			req := tenant.Request{
				Name:      args[0],
				Email:     email,
				Tier:      platformv1alpha1.Tier(tier),
				CreatedBy: createdBy,
			}

			flags := cmd.Flags()
			if flags.Changed("cpu") || flags.Changed("memory") || flags.Changed("storage") || flags.Changed("max-participants") {
				q, err := quotaFromFlags(a, req.Tier, cpu, memory, storage, maxParticipants, flags.Changed)
				if err != nil {
					return err
				}
				req.Quota = &q
			}

			t, err := a.tenants.Register(cmd.Context(), req)
			if t != nil {
				if perr := out.print(t, func(w io.Writer) { printTenant(w, t) }); perr != nil {
					return perr
				}
			}
			if err != nil {
				if t != nil {
					return fmt.Errorf("%w (tenant %s left pending; run `tenantctl tenant retry %s` or `tenantctl tenant delete %s`)", err, t.ID, t.ID, t.ID)
				}
				return err
			}
			return nil
		}),
	}
	createCmd.Flags().StringVar(&email, "email", "", "Contact email of the tenant")
	createCmd.Flags().StringVar(&tier, "tier", string(platformv1alpha1.TierBasic), "Tenant tier (basic|pro|enterprise)")
	createCmd.Flags().StringVar(&cpu, "cpu", "", "CPU quota, overrides the tier default")
	createCmd.Flags().StringVar(&memory, "memory", "", "Memory quota, overrides the tier default")
	createCmd.Flags().StringVar(&storage, "storage", "", "Storage quota, overrides the tier default")
	createCmd.Flags().IntVar(&maxParticipants, "max-participants", 0, "Participant limit, overrides the tier default")
	createCmd.Flags().StringVar(&createdBy, "created-by", "", "Operator recorded as creator")
	_ = createCmd.MarkFlagRequired("email")

	// Leaf: tenantctl tenant get ID
	getCmd := &cobra.Command{
		Use:   "get ID",
		Short: "Show a tenant and the live state of its namespace",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			d, err := a.tenants.Inspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return out.print(d, func(w io.Writer) { printDetails(w, d) })
		}),
	}

	// Leaf: tenantctl tenant list
	var status, tierFilter string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			filter := store.Filter{Status: platformv1alpha1.Status(status), Tier: platformv1alpha1.Tier(tierFilter)}
			if filter.Status != "" && !filter.Status.Valid() {
				return fmt.Errorf("invalid --status %q (expected pending|active|suspended)", status)
			}
			if filter.Tier != "" && !filter.Tier.Valid() {
				return fmt.Errorf("invalid --tier %q (expected basic|pro|enterprise)", tierFilter)
			}
			list, err := a.tenants.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return out.print(list, func(w io.Writer) { printTenantList(w, list) })
		}),
	}
	listCmd.Flags().StringVar(&status, "status", "", "Only tenants in this status")
	listCmd.Flags().StringVar(&tierFilter, "tier", "", "Only tenants of this tier")

	// Leaves that change one tenant and print it.
	transition := func(use, short string, fn func(s *tenant.Service, ctx context.Context, id string) (*platformv1alpha1.Tenant, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " ID",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
				t, err := fn(a.tenants, cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return out.print(t, func(w io.Writer) { printTenant(w, t) })
			}),
		}
	}
	retryCmd := transition("retry", "Re-run provisioning of a pending tenant", (*tenant.Service).Retry)
	suspendCmd := transition("suspend", "Suspend an active tenant", (*tenant.Service).Suspend)
	resumeCmd := transition("resume", "Resume a suspended tenant", (*tenant.Service).Resume)

	// Leaf: tenantctl tenant delete ID
	deleteCmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete the tenant namespace and, once it is gone, the record",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if err := a.tenants.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			result := map[string]any{"deleted": true, "id": args[0]}
			return out.print(result, func(w io.Writer) { fmt.Fprintf(w, "Deleted tenant %s\n", args[0]) })
		}),
	}

	// Wire tree
	tenantCmd.AddCommand(createCmd, getCmd, listCmd, retryCmd, suspendCmd, resumeCmd, deleteCmd)
	return tenantCmd
}

// quotaFromFlags starts from the tier default and overrides the dimensions
// given on the command line.
func quotaFromFlags(a *app, tier platformv1alpha1.Tier, cpu, memory, storage string, participants int, changed func(string) bool) (platformv1alpha1.Quota, error) {
	if tier == "" {
		tier = platformv1alpha1.TierBasic
	}
	quotas, err := a.cfg.TierQuotas()
	if err != nil {
		return platformv1alpha1.Quota{}, err
	}
	q, ok := quotas[tier]
	if !ok {
		return platformv1alpha1.Quota{}, fmt.Errorf("unknown tier %q", tier)
	}

	for _, o := range []struct {
		flag string
		raw  string
		dst  *resource.Quantity
	}{
		{"cpu", cpu, &q.CPU},
		{"memory", memory, &q.Memory},
		{"storage", storage, &q.Storage},
	} {
		if !changed(o.flag) {
			continue
		}
		v, err := resource.ParseQuantity(o.raw)
		if err != nil {
			return platformv1alpha1.Quota{}, fmt.Errorf("invalid --%s %q: %w", o.flag, o.raw, err)
		}
		*o.dst = v
	}
	if changed("max-participants") {
		q.MaxParticipants = participants
	}
	return q, nil
}
