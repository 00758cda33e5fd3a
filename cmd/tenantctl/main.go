package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/shieldx-bot/tenant-platform/internal/cluster"
	"github.com/shieldx-bot/tenant-platform/internal/config"
	"github.com/shieldx-bot/tenant-platform/internal/cost"
	"github.com/shieldx-bot/tenant-platform/internal/notify"
	"github.com/shieldx-bot/tenant-platform/internal/provision"
	"github.com/shieldx-bot/tenant-platform/internal/store"
	"github.com/shieldx-bot/tenant-platform/internal/store/memory"
	"github.com/shieldx-bot/tenant-platform/internal/store/postgres"
	"github.com/shieldx-bot/tenant-platform/internal/tenant"
	"github.com/shieldx-bot/tenant-platform/internal/verifyimage"
)

var setupLog = ctrl.Log.WithName("setup")

// withAppFunc wraps a command body so that it runs with wired components.
type withAppFunc func(run func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error

// app holds the wired components shared by all commands.
type app struct {
	cfg     *config.Config
	cluster cluster.Client
	records store.Store
	orch    *provision.Orchestrator
	engine  *cost.Engine
	tenants *tenant.Service
	close   func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	kube, err := cluster.New(cfg.Cluster.Kubeconfig)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, cluster: kube, close: func() {}}

	switch cfg.Store.Driver {
	case config.StoreMemory:
		setupLog.Info("using in-memory tenant store, records are lost on exit")
		a.records = memory.New()
	default:
		db, err := postgres.New(ctx, postgres.Config{DSN: cfg.Store.DSN, MaxConns: cfg.Store.MaxConns})
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		a.records = postgres.NewTenantRepository(db)
		a.close = db.Close
	}

	opts, err := cfg.ProvisionOptions()
	if err != nil {
		a.close()
		return nil, err
	}
	var provisionOpts []provision.Option
	if cfg.Notify.Enabled() {
		tg, err := notify.NewTelegram(cfg.TelegramConfig())
		if err != nil {
			a.close()
			return nil, err
		}
		provisionOpts = append(provisionOpts, provision.WithNotifier(tg))
	}
	if cfg.Verify.PublicKey != "" {
		v, err := verifyimage.New(cfg.VerifyConfig())
		if err != nil {
			a.close()
			return nil, err
		}
		provisionOpts = append(provisionOpts, provision.WithImageVerifier(v))
	}
	if a.orch, err = provision.New(kube, a.records, opts, provisionOpts...); err != nil {
		a.close()
		return nil, err
	}

	if a.engine, err = cost.New(kube, a.records, cfg.CostConfig()); err != nil {
		a.close()
		return nil, err
	}

	tenantCfg, err := cfg.TenantConfig()
	if err != nil {
		a.close()
		return nil, err
	}
	if a.tenants, err = tenant.New(a.records, a.orch, a.engine, tenantCfg); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func main() {
	zapOpts := zap.Options{
		Development: true,
		TimeEncoder: zapcore.ISO8601TimeEncoder,
	}
	goFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	zapOpts.BindFlags(goFlags)

	var output string

	// Root: tenantctl
	rootCmd := &cobra.Command{
		Use:           "tenantctl",
		Short:         "Tenant environment provisioning and cost reporting",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zapOpts)))
			if _, err := maxprocs.Set(maxprocs.Logger(func(format string, a ...interface{}) {
				setupLog.V(1).Info(fmt.Sprintf(format, a...))
			})); err != nil {
				setupLog.Error(err, "failed to set GOMAXPROCS")
			}
			return validateOutput(output)
		},
	}
	rootCmd.PersistentFlags().AddGoFlagSet(goFlags)
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "Output format (text|json)")
	config.AddFlags(rootCmd.PersistentFlags())

	ctx := ctrl.SetupSignalHandler()

	// withApp loads configuration, wires the components and closes them
	// after run returns.
	var withApp withAppFunc = func(run func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()
			return run(cmd, args, a)
		}
	}

	out := &printer{w: os.Stdout, format: &output}

	rootCmd.AddCommand(
		newStatusCmd(withApp, out),
		newTenantCmd(withApp, out),
		newCostCmd(withApp, out),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
