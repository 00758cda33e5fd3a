package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	platformv1alpha1 "github.com/shieldx-bot/tenant-platform/api/v1alpha1"
	"github.com/shieldx-bot/tenant-platform/internal/cost"
	"github.com/shieldx-bot/tenant-platform/internal/tenant"
)

func validateOutput(o string) error {
	switch strings.ToLower(strings.TrimSpace(o)) {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("invalid --output %q (expected text|json)", o)
	}
}

type printer struct {
	w      io.Writer
	format *string
}

func (p *printer) json() bool {
	return strings.EqualFold(strings.TrimSpace(*p.format), "json")
}

// print writes v as indented JSON, or calls text for the text format.
func (p *printer) print(v any, text func(w io.Writer)) error {
	if p.json() {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(p.w, string(b))
		return err
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

func money(v float64) string {
	return "$" + humanize.CommafWithDigits(v, 2)
}

func gib(v float64) string {
	return humanize.FtoaWithDigits(v, 2) + " GiB"
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func quotaText(q platformv1alpha1.Quota) string {
	return fmt.Sprintf("cpu=%s memory=%s storage=%s participants=%s",
		q.CPU.String(), humanize.IBytes(uint64(q.Memory.Value())), humanize.IBytes(uint64(q.Storage.Value())), humanize.Comma(int64(q.MaxParticipants)))
}

func printTenant(w io.Writer, t *platformv1alpha1.Tenant) {
	fmt.Fprintf(w, "ID:\t%s\n", t.ID)
	fmt.Fprintf(w, "Name:\t%s\n", t.Name)
	fmt.Fprintf(w, "Namespace:\t%s\n", t.Namespace)
	fmt.Fprintf(w, "Email:\t%s\n", t.Email)
	fmt.Fprintf(w, "Status:\t%s\n", t.Status)
	fmt.Fprintf(w, "Tier:\t%s\n", t.Tier)
	fmt.Fprintf(w, "Quota:\t%s\n", quotaText(t.Quota))
	fmt.Fprintf(w, "Created:\t%s\n", ago(t.CreatedAt))
	fmt.Fprintf(w, "Updated:\t%s\n", ago(t.UpdatedAt))
}

func printTenantList(w io.Writer, list *platformv1alpha1.TenantList) {
	fmt.Fprintln(w, "ID\tNAME\tNAMESPACE\tSTATUS\tTIER\tCREATED")
	for i := range list.Items {
		t := &list.Items[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Namespace, t.Status, t.Tier, ago(t.CreatedAt))
	}
	fmt.Fprintf(w, "\n%d tenant(s)\n", list.Total)
}

func printDetails(w io.Writer, d *tenant.Details) {
	printTenant(w, d.Tenant)
	fmt.Fprintf(w, "Pods:\t%d (%d running)\n", d.Usage.Pods, d.Usage.RunningPods)
	fmt.Fprintf(w, "Services:\t%d\n", d.Usage.Services)
	fmt.Fprintf(w, "Volume claims:\t%d\n", d.Usage.Claims)
	fmt.Fprintf(w, "Requested:\tcpu=%s cores memory=%s storage=%s\n",
		humanize.FtoaWithDigits(d.Usage.CPUCores, 3), gib(d.Usage.MemoryGiB), gib(d.Usage.StorageGiB))
}

func printReport(w io.Writer, r *cost.Report) {
	fmt.Fprintf(w, "Tenant:\t%s (%s)\n", r.Name, r.TenantID)
	fmt.Fprintf(w, "Namespace:\t%s\n", r.Namespace)
	fmt.Fprintf(w, "Tier:\t%s\n", r.Tier)
	fmt.Fprintf(w, "Period:\t%s .. %s\n", r.Estimate.Period.Start.Format(time.DateOnly), r.Estimate.Period.End.Format(time.DateOnly))
	fmt.Fprintf(w, "Usage:\tcpu=%s cores memory=%s storage=%s pods=%d\n",
		humanize.FtoaWithDigits(r.Usage.CPUCores, 3), gib(r.Usage.MemoryGiB), gib(r.Usage.StorageGiB), r.Usage.Pods)
	fmt.Fprintf(w, "CPU:\t%s\n", money(r.Estimate.CPU))
	fmt.Fprintf(w, "Memory:\t%s\n", money(r.Estimate.Memory))
	fmt.Fprintf(w, "Storage:\t%s\n", money(r.Estimate.Storage))
	fmt.Fprintf(w, "Total (monthly):\t%s\n", money(r.Estimate.Total))
}

func printFleet(w io.Writer, s *cost.FleetSummary) {
	fmt.Fprintln(w, "TENANT\tNAMESPACE\tTIER\tMONTHLY\tERROR")
	for _, e := range s.Entries {
		total := money(e.Estimate.Total)
		if e.Failed {
			total = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.TenantID, e.Namespace, e.Tier, total, e.Error)
	}
	fmt.Fprintf(w, "\nTotal:\t%s across %d tenant(s), %d failed\n", money(s.Total), s.TotalTenants, s.Failed)
}
