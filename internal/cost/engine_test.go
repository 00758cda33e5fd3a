package cost_test

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	platformv1alpha1 "github.com/shieldx-bot/tenant-platform/api/v1alpha1"
	"github.com/shieldx-bot/tenant-platform/internal/cluster"
	"github.com/shieldx-bot/tenant-platform/internal/cost"
	"github.com/shieldx-bot/tenant-platform/internal/metrics"
	"github.com/shieldx-bot/tenant-platform/internal/store"
	"github.com/shieldx-bot/tenant-platform/internal/store/memory"
)

var pricing = cost.Pricing{CPUPerCoreHour: 0.05, MemoryPerGiBHour: 0.01, StoragePerGiBMonth: 0.10}

func pod(namespace, name string, phase corev1.PodPhase, requests ...corev1.ResourceList) *corev1.Pod {
	p := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Status:     corev1.PodStatus{Phase: phase},
	}
	for i, r := range requests {
		p.Spec.Containers = append(p.Spec.Containers, corev1.Container{
			Name:      name + "-" + string(rune('a'+i)),
			Resources: corev1.ResourceRequirements{Requests: r},
		})
	}
	return p
}

func claim(namespace, name, size string) *corev1.PersistentVolumeClaim {
	return &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec: corev1.PersistentVolumeClaimSpec{
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: resource.MustParse(size)},
			},
		},
	}
}

// workload puts exactly 1 core, 2 GiB of memory and 10 GiB of storage into
// namespace.
func workload(namespace string) []runtime.Object {
	return []runtime.Object{
		pod(namespace, "api", corev1.PodRunning,
			corev1.ResourceList{corev1.ResourceCPU: resource.MustParse("500m"), corev1.ResourceMemory: resource.MustParse("1Gi")},
			corev1.ResourceList{corev1.ResourceCPU: resource.MustParse("500m"), corev1.ResourceMemory: resource.MustParse("1024Mi")},
		),
		pod(namespace, "job", corev1.PodSucceeded),
		claim(namespace, "data", "10Gi"),
		&corev1.Service{ObjectMeta: metav1.ObjectMeta{Name: "postgres", Namespace: namespace}},
	}
}

func activeTenant(id, namespace string) *platformv1alpha1.Tenant {
	return &platformv1alpha1.Tenant{
		ID:        id,
		Name:      "Tenant " + id,
		Namespace: namespace,
		Status:    platformv1alpha1.StatusActive,
		Tier:      platformv1alpha1.TierBasic,
		Quota: platformv1alpha1.Quota{
			CPU:             resource.MustParse("2"),
			Memory:          resource.MustParse("4Gi"),
			Storage:         resource.MustParse("20Gi"),
			MaxParticipants: 50,
		},
	}
}

var _ = Describe("EstimateCost", func() {
	It("prices one core, 2 GiB memory and 10 GiB storage", func() {
		e := cost.EstimateCost(cost.Snapshot{CPUCores: 1, MemoryGiB: 2, StorageGiB: 10}, pricing, cost.Period{})
		Expect(e.CPU).To(Equal(36.00))
		Expect(e.Memory).To(Equal(14.40))
		Expect(e.Storage).To(Equal(1.00))
		Expect(e.Total).To(Equal(51.40))
	})

	It("rounds only the final amounts", func() {
		// Each part is 0.004 before rounding: 0.00 apiece, 0.01 in total.
		p := cost.Pricing{CPUPerCoreHour: 0.004 / cost.HoursPerMonth, MemoryPerGiBHour: 0.004 / cost.HoursPerMonth, StoragePerGiBMonth: 0.004}
		e := cost.EstimateCost(cost.Snapshot{CPUCores: 1, MemoryGiB: 1, StorageGiB: 1}, p, cost.Period{})
		Expect(e.CPU).To(Equal(0.0))
		Expect(e.Storage).To(Equal(0.0))
		Expect(e.Total).To(Equal(0.01))
	})

	It("does not scale by the period length", func() {
		start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		week := cost.Period{Start: start, End: start.Add(7 * 24 * time.Hour)}
		e := cost.EstimateCost(cost.Snapshot{CPUCores: 1}, pricing, week)
		Expect(e.Total).To(Equal(36.00))
		Expect(e.Period).To(Equal(week))
	})

	It("rejects negative prices", func() {
		Expect(cost.Pricing{CPUPerCoreHour: -1}.Validate()).To(HaveOccurred())
		Expect(pricing.Validate()).To(Succeed())
	})
})

var _ = Describe("Engine", func() {
	var (
		ctx     context.Context
		kube    *fake.Clientset
		records *memory.Store
		mock    *clock.Mock
		now     time.Time
	)

	newEngine := func(maxConcurrency int) *cost.Engine {
		e, err := cost.New(cluster.NewClientset(kube), records, cost.Config{
			Pricing:        pricing,
			CallTimeout:    time.Second,
			MaxConcurrency: maxConcurrency,
		})
		Expect(err).NotTo(HaveOccurred())
		e.Clock = mock
		return e
	}

	BeforeEach(func() {
		ctx = context.Background()
		records = memory.New()
		now = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
		mock = clock.NewMock()
		mock.Set(now)
	})

	Describe("Snapshot", func() {
		It("sums container and claim requests", func() {
			kube = fake.NewClientset(workload("tenant-a-1")...)

			s, err := newEngine(0).Snapshot(ctx, "tenant-a-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.CPUCores).To(BeNumerically("~", 1.0, 1e-12))
			Expect(s.MemoryGiB).To(BeNumerically("~", 2.0, 1e-12))
			Expect(s.StorageGiB).To(BeNumerically("~", 10.0, 1e-12))
			Expect(s.Pods).To(Equal(2))
			Expect(s.RunningPods).To(Equal(1))
			Expect(s.Claims).To(Equal(1))
			Expect(s.Services).To(Equal(1))
			Expect(s.TakenAt).To(Equal(now))
		})

		It("is empty for a namespace without workloads", func() {
			kube = fake.NewClientset()
			s, err := newEngine(0).Snapshot(ctx, "tenant-empty-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.CPUCores).To(BeZero())
			Expect(s.Pods).To(BeZero())
		})

		It("fails when a list call fails", func() {
			kube = fake.NewClientset()
			kube.PrependReactor("list", "persistentvolumeclaims", func(k8stesting.Action) (bool, runtime.Object, error) {
				return true, nil, errors.New("connection refused")
			})
			_, err := newEngine(0).Snapshot(ctx, "tenant-a-1")
			Expect(err).To(MatchError(ContainSubstring("connection refused")))
		})
	})

	Describe("Report", func() {
		It("defaults to the thirty days ending now", func() {
			kube = fake.NewClientset(workload("tenant-a-1")...)
			Expect(records.Create(ctx, activeTenant("a", "tenant-a-1"))).To(Succeed())

			r, err := newEngine(0).Report(ctx, "a", cost.Period{})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Namespace).To(Equal("tenant-a-1"))
			Expect(r.Estimate.Total).To(Equal(51.40))
			Expect(r.Estimate.Period.End).To(Equal(now))
			Expect(r.Estimate.Period.Start).To(Equal(now.Add(-cost.DefaultPeriod)))
		})

		It("rejects an inverted period", func() {
			kube = fake.NewClientset()
			Expect(records.Create(ctx, activeTenant("a", "tenant-a-1"))).To(Succeed())

			_, err := newEngine(0).Report(ctx, "a", cost.Period{Start: now, End: now.Add(-time.Hour)})
			Expect(err).To(HaveOccurred())
		})

		It("fails for an unknown tenant", func() {
			kube = fake.NewClientset()
			_, err := newEngine(0).Report(ctx, "missing", cost.Period{})
			Expect(err).To(MatchError(store.ErrNotFound))
		})
	})

	Describe("SummarizeFleet", func() {
		BeforeEach(func() {
			var objs []runtime.Object
			for _, ns := range []string{"tenant-a-1", "tenant-b-1", "tenant-c-1"} {
				objs = append(objs, workload(ns)...)
			}
			kube = fake.NewClientset(objs...)
			kube.PrependReactor("list", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
				if action.GetNamespace() == "tenant-b-1" {
					return true, nil, errors.New("etcd leader changed")
				}
				return false, nil, nil
			})
		})

		It("isolates a failing tenant", func() {
			tenants := []*platformv1alpha1.Tenant{
				activeTenant("a", "tenant-a-1"),
				activeTenant("b", "tenant-b-1"),
				activeTenant("c", "tenant-c-1"),
			}
			suspended := activeTenant("d", "tenant-d-1")
			suspended.Status = platformv1alpha1.StatusSuspended
			tenants = append(tenants, suspended)

			for _, limit := range []int{0, 1} {
				summary := newEngine(limit).SummarizeFleet(ctx, tenants)

				Expect(summary.Entries).To(HaveLen(3))
				Expect(summary.TotalTenants).To(Equal(3))
				Expect(summary.Failed).To(Equal(1))
				Expect(summary.Entries[0].TenantID).To(Equal("a"))
				Expect(summary.Entries[0].Estimate.Total).To(Equal(51.40))
				Expect(summary.Entries[1].Failed).To(BeTrue())
				Expect(summary.Entries[1].Estimate.Total).To(BeZero())
				Expect(summary.Entries[1].Error).To(ContainSubstring("etcd leader changed"))
				Expect(summary.Entries[2].Estimate.Total).To(Equal(51.40))
				Expect(summary.Total).To(Equal(102.80))
			}
		})

		It("skips nil tenants", func() {
			tenants := []*platformv1alpha1.Tenant{nil, activeTenant("a", "tenant-a-1"), nil}

			summary := newEngine(0).SummarizeFleet(ctx, tenants)
			Expect(summary.Entries).To(HaveLen(1))
			Expect(summary.Entries[0].TenantID).To(Equal("a"))
			Expect(summary.Total).To(Equal(51.40))
		})

		It("reads active tenants from the record store and publishes gauges", func() {
			Expect(records.Create(ctx, activeTenant("a", "tenant-a-1"))).To(Succeed())
			Expect(records.Create(ctx, activeTenant("b", "tenant-b-1"))).To(Succeed())

			reporter, err := cost.NewReporter(newEngine(0), time.Minute)
			Expect(err).NotTo(HaveOccurred())
			reporter.Clock = mock
			summaries := make(chan *cost.FleetSummary, 4)
			reporter.OnSummary = func(s *cost.FleetSummary) { summaries <- s }

			rctx, cancel := context.WithCancel(ctx)
			done := make(chan error)
			go func() { done <- reporter.Start(rctx) }()

			var first *cost.FleetSummary
			Eventually(summaries).Should(Receive(&first))
			Expect(first.TotalTenants).To(Equal(2))
			Expect(first.Failed).To(Equal(1))
			Expect(testutil.ToFloat64(metrics.FleetMonthlyCost)).To(Equal(51.40))
			Expect(testutil.ToFloat64(metrics.TenantMonthlyCost.WithLabelValues("a", "tenant-a-1", "basic"))).To(Equal(51.40))

			Expect(records.Create(ctx, activeTenant("c", "tenant-c-1"))).To(Succeed())
			mock.Add(time.Minute)

			var second *cost.FleetSummary
			Eventually(summaries).Should(Receive(&second))
			Expect(second.TotalTenants).To(Equal(3))
			Expect(testutil.ToFloat64(metrics.ActiveTenants)).To(Equal(3.0))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})
	})
})
