package cost

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	platformv1alpha1 "github.com/shieldx-bot/tenant-platform/api/v1alpha1"
	"github.com/shieldx-bot/tenant-platform/internal/store"
)

// FleetEntry is one tenant's line in a fleet summary. A failed entry carries
// a zero estimate and the reason.
type FleetEntry struct {
	TenantID  string                `json:"tenantId"`
	Name      string                `json:"name"`
	Namespace string                `json:"namespace"`
	Tier      platformv1alpha1.Tier `json:"tier"`
	Estimate  Estimate              `json:"estimate"`
	Failed    bool                  `json:"failed"`
	Error     string                `json:"error,omitempty"`
}

type FleetSummary struct {
	Entries []FleetEntry `json:"entries"`
	// Total sums the estimates of entries that did not fail.
	Total        float64   `json:"total"`
	TotalTenants int       `json:"totalTenants"`
	Failed       int       `json:"failed"`
	Period       Period    `json:"period"`
	GeneratedAt  time.Time `json:"generatedAt"`
}

// SummarizeFleet prices every active tenant in parallel. A tenant whose
// snapshot fails is flagged in its entry and never cancels the others.
// Entries keep the order of tenants; nil tenants are skipped.
func (e *Engine) SummarizeFleet(ctx context.Context, tenants []*platformv1alpha1.Tenant) *FleetSummary {
	now := e.Clock.Now().UTC()
	period := Period{Start: now.Add(-DefaultPeriod), End: now}

	var active []*platformv1alpha1.Tenant
	for _, t := range tenants {
		if t != nil && t.Status == platformv1alpha1.StatusActive {
			active = append(active, t)
		}
	}

	entries := make([]FleetEntry, len(active))

	var g errgroup.Group
	if e.cfg.MaxConcurrency > 0 {
		g.SetLimit(e.cfg.MaxConcurrency)
	}
	for i, t := range active {
		g.Go(func() error {
			entry := FleetEntry{TenantID: t.ID, Name: t.Name, Namespace: t.Namespace, Tier: t.Tier}
			s, err := e.Snapshot(ctx, t.Namespace)
			if err != nil {
				log.Error(err, "tenant excluded from fleet total", "tenant", t.ID, "namespace", t.Namespace)
				entry.Failed = true
				entry.Error = err.Error()
				entry.Estimate = Estimate{Period: period}
			} else {
				entry.Estimate = EstimateCost(*s, e.cfg.Pricing, period)
			}
			entries[i] = entry
			return nil
		})
	}
	_ = g.Wait()

	summary := &FleetSummary{
		Entries:      entries,
		TotalTenants: len(entries),
		Period:       period,
		GeneratedAt:  now,
	}
	var total float64
	for _, entry := range entries {
		if entry.Failed {
			summary.Failed++
			continue
		}
		total += entry.Estimate.Total
	}
	summary.Total = roundCents(total)
	return summary
}

// FleetSummary summarizes every active tenant in the record store.
func (e *Engine) FleetSummary(ctx context.Context) (*FleetSummary, error) {
	tenants, err := e.records.List(ctx, store.Filter{Status: platformv1alpha1.StatusActive})
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	return e.SummarizeFleet(ctx, tenants), nil
}
