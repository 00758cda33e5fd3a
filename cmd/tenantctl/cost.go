package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/shieldx-bot/tenant-platform/internal/cost"
)

func newCostCmd(withApp withAppFunc, out *printer) *cobra.Command {
	// Parent: tenantctl cost
	costCmd := &cobra.Command{
		Use:   "cost",
		Short: "Usage and cost reporting",
	}

	// Leaf: tenantctl cost report ID
	var start, end string
	reportCmd := &cobra.Command{
		Use:   "report ID",
		Short: "Estimate the monthly cost of one tenant",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			period, err := parsePeriod(start, end)
			if err != nil {
				return err
			}
			r, err := a.engine.Report(cmd.Context(), args[0], period)
			if err != nil {
				return err
			}
			return out.print(r, func(w io.Writer) { printReport(w, r) })
		}),
	}
	reportCmd.Flags().StringVar(&start, "start", "", "Period start (RFC 3339 or YYYY-MM-DD)")
	reportCmd.Flags().StringVar(&end, "end", "", "Period end (RFC 3339 or YYYY-MM-DD)")

	// Leaf: tenantctl cost summary
	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Estimate the monthly cost of every active tenant",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			s, err := a.engine.FleetSummary(cmd.Context())
			if err != nil {
				return err
			}
			return out.print(s, func(w io.Writer) { printFleet(w, s) })
		}),
	}

	// Leaf: tenantctl cost watch
	var metricsAddr string
	var interval time.Duration
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Publish fleet cost gauges on a Prometheus endpoint until interrupted",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if !cmd.Flags().Changed("interval") {
				interval = a.cfg.Fleet.ReportInterval.Duration
			}
			reporter, err := cost.NewReporter(a.engine, interval)
			if err != nil {
				return err
			}
			if !out.json() {
				reporter.OnSummary = func(s *cost.FleetSummary) {
					fmt.Fprintf(out.w, "%s  %d tenant(s), %d failed, total %s\n",
						s.GeneratedAt.Format(time.RFC3339), s.TotalTenants, s.Failed, money(s.Total))
				}
			}
			return serveMetrics(cmd.Context(), metricsAddr, reporter)
		}),
	}
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":8080", "Address of the /metrics endpoint")
	watchCmd.Flags().DurationVar(&interval, "interval", 0, "Report interval (defaults to fleet.report-interval)")

	// Wire tree
	costCmd.AddCommand(reportCmd, summaryCmd, watchCmd)
	return costCmd
}

func serveMetrics(ctx context.Context, addr string, reporter *cost.Reporter) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(crmetrics.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		setupLog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return reporter.Start(ctx)
	})
	return g.Wait()
}

func parsePeriod(start, end string) (cost.Period, error) {
	var p cost.Period
	var err error
	if start != "" {
		if p.Start, err = parseTime(start); err != nil {
			return p, fmt.Errorf("invalid --start: %w", err)
		}
	}
	if end != "" {
		if p.End, err = parseTime(end); err != nil {
			return p, fmt.Errorf("invalid --end: %w", err)
		}
	}
	return p, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, s)
}
