package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

const namespace = "tenant_platform"

var (
	ProvisionSteps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provision_steps_total",
		Help:      "Provisioning steps executed, by step and result (created, exists, failed).",
	}, []string{"step", "result"})

	ProvisionStepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provision_step_duration_seconds",
		Help:      "Duration of provisioning steps.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"step"})

	TenantMonthlyCost = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tenant_monthly_cost",
		Help:      "Estimated monthly cost of a tenant namespace.",
	}, []string{"tenant", "namespace", "tier"})

	FleetMonthlyCost = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fleet_monthly_cost",
		Help:      "Estimated monthly cost of all active tenants.",
	})

	ActiveTenants = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_tenants",
		Help:      "Number of active tenants in the last fleet summary.",
	})

	FleetReportFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fleet_report_tenant_failures_total",
		Help:      "Tenants whose usage could not be read during a fleet summary.",
	})
)

func init() {
	crmetrics.Registry.MustRegister(
		ProvisionSteps,
		ProvisionStepDuration,
		TenantMonthlyCost,
		FleetMonthlyCost,
		ActiveTenants,
		FleetReportFailures,
	)
}
