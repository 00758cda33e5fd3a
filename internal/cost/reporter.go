package cost

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/shieldx-bot/tenant-platform/internal/metrics"
)

// Reporter publishes a fleet summary as Prometheus gauges, once at start and
// then every interval.
type Reporter struct {
	engine   *Engine
	interval time.Duration

	// OnSummary, when set, receives every published summary.
	OnSummary func(*FleetSummary)

	Clock clock.Clock
}

func NewReporter(engine *Engine, interval time.Duration) (*Reporter, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("report interval must be positive, got %s", interval)
	}
	return &Reporter{engine: engine, interval: interval, Clock: clock.New()}, nil
}

// Start blocks until ctx is cancelled.
func (r *Reporter) Start(ctx context.Context) error {
	ticker := r.Clock.Ticker(r.interval)
	defer ticker.Stop()

	r.publish(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.publish(ctx)
		}
	}
}

func (r *Reporter) publish(ctx context.Context) {
	summary, err := r.engine.FleetSummary(ctx)
	if err != nil {
		log.Error(err, "fleet summary failed")
		return
	}

	metrics.TenantMonthlyCost.Reset()
	for _, e := range summary.Entries {
		if e.Failed {
			continue
		}
		metrics.TenantMonthlyCost.WithLabelValues(e.TenantID, e.Namespace, string(e.Tier)).Set(e.Estimate.Total)
	}
	metrics.FleetMonthlyCost.Set(summary.Total)
	metrics.ActiveTenants.Set(float64(summary.TotalTenants))
	metrics.FleetReportFailures.Add(float64(summary.Failed))

	log.Info("fleet summary published", "tenants", summary.TotalTenants, "failed", summary.Failed, "total", summary.Total)
	if r.OnSummary != nil {
		r.OnSummary(summary)
	}
}
