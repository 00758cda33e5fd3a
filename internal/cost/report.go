package cost

import (
	"context"
	"fmt"
	"time"

	platformv1alpha1 "github.com/shieldx-bot/tenant-platform/api/v1alpha1"
)

// DefaultPeriod is used when a report is requested without a window.
const DefaultPeriod = 30 * 24 * time.Hour

// Report is the cost view of a single tenant.
type Report struct {
	TenantID    string                  `json:"tenantId"`
	Name        string                  `json:"name"`
	Namespace   string                  `json:"namespace"`
	Tier        platformv1alpha1.Tier   `json:"tier"`
	Status      platformv1alpha1.Status `json:"status"`
	Quota       platformv1alpha1.Quota  `json:"quota"`
	Usage       Snapshot                `json:"usage"`
	Estimate    Estimate                `json:"estimate"`
	GeneratedAt time.Time               `json:"generatedAt"`
}

// Report looks the tenant up and prices a fresh snapshot of its namespace.
// A zero period means the DefaultPeriod ending now.
func (e *Engine) Report(ctx context.Context, tenantID string, period Period) (*Report, error) {
	t, err := e.records.FindByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("find tenant %s: %w", tenantID, err)
	}

	now := e.Clock.Now().UTC()
	period, err = normalizePeriod(period, now)
	if err != nil {
		return nil, err
	}

	s, err := e.Snapshot(ctx, t.Namespace)
	if err != nil {
		return nil, err
	}

	return &Report{
		TenantID:    t.ID,
		Name:        t.Name,
		Namespace:   t.Namespace,
		Tier:        t.Tier,
		Status:      t.Status,
		Quota:       t.Quota,
		Usage:       *s,
		Estimate:    EstimateCost(*s, e.cfg.Pricing, period),
		GeneratedAt: now,
	}, nil
}

func normalizePeriod(p Period, now time.Time) (Period, error) {
	if p.IsZero() {
		return Period{Start: now.Add(-DefaultPeriod), End: now}, nil
	}
	if p.End.IsZero() {
		p.End = now
	}
	if p.Start.IsZero() {
		p.Start = p.End.Add(-DefaultPeriod)
	}
	if !p.Start.Before(p.End) {
		return Period{}, fmt.Errorf("period start %s is not before end %s", p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339))
	}
	return p, nil
}
