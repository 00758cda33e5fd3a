package provision_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	platformv1alpha1 "github.com/shieldx-bot/tenant-platform/api/v1alpha1"
	"github.com/shieldx-bot/tenant-platform/internal/cluster"
	"github.com/shieldx-bot/tenant-platform/internal/notify"
	"github.com/shieldx-bot/tenant-platform/internal/provision"
	"github.com/shieldx-bot/tenant-platform/internal/store"
	"github.com/shieldx-bot/tenant-platform/internal/store/memory"
)

func testOptions() provision.Options {
	return provision.Options{
		CallTimeout:               time.Second,
		RemovalPollInterval:       10 * time.Millisecond,
		ObservabilityNamespace:    "monitoring",
		MaxPersistentVolumeClaims: 5,
		MaxPods:                   20,
		MaxServices:               10,
		Database: provision.DatabaseOptions{
			Image:       "postgres:15-alpine",
			StorageSize: resource.MustParse("10Gi"),
			Name:        "app",
			User:        "app",
			RequestsCPU: resource.MustParse("250m"),
		},
		Password: func() (string, error) { return "secret", nil },
	}
}

func pendingTenant(id, namespace string) *platformv1alpha1.Tenant {
	return &platformv1alpha1.Tenant{
		ID:        id,
		Name:      "Acme Corp",
		Namespace: namespace,
		Email:     "ops@acme.test",
		Status:    platformv1alpha1.StatusPending,
		Tier:      platformv1alpha1.TierPro,
		Quota: platformv1alpha1.Quota{
			CPU:             resource.MustParse("4"),
			Memory:          resource.MustParse("8Gi"),
			Storage:         resource.MustParse("50Gi"),
			MaxParticipants: 100,
		},
	}
}

// hangingClient blocks role creation until the call context ends.
type hangingClient struct {
	cluster.Client
}

func (hangingClient) CreateRole(ctx context.Context, _ string, _ *rbacv1.Role) error {
	<-ctx.Done()
	return ctx.Err()
}

// cancellingClient cancels the caller's context while a quota is created.
type cancellingClient struct {
	cluster.Client
	cancel context.CancelFunc
}

func (c cancellingClient) CreateResourceQuota(ctx context.Context, namespace string, quota *corev1.ResourceQuota) error {
	c.cancel()
	return c.Client.CreateResourceQuota(ctx, namespace, quota)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type rejectingVerifier struct{ images []string }

func (v *rejectingVerifier) Verify(_ context.Context, image string) error {
	v.images = append(v.images, image)
	return errors.New("no matching signatures")
}

var _ = Describe("Orchestrator", func() {
	const ns = "tenant-acme-corp-1700000000000"

	var (
		ctx     context.Context
		kube    *fake.Clientset
		records *memory.Store
		tenant  *platformv1alpha1.Tenant
	)

	newOrchestrator := func(c cluster.Client, opts ...provision.Option) *provision.Orchestrator {
		o, err := provision.New(c, records, testOptions(), opts...)
		Expect(err).NotTo(HaveOccurred())
		return o
	}

	stored := func() *platformv1alpha1.Tenant {
		t, err := records.FindByID(ctx, tenant.ID)
		Expect(err).NotTo(HaveOccurred())
		return t
	}

	BeforeEach(func() {
		ctx = context.Background()
		kube = fake.NewClientset()
		records = memory.New()
		tenant = pendingTenant("t-1", ns)
		Expect(records.Create(ctx, tenant)).To(Succeed())
	})

	It("requires every timing option", func() {
		opts := testOptions()
		opts.RemovalPollInterval = 0
		_, err := provision.New(cluster.NewClientset(kube), records, opts)
		Expect(err).To(MatchError(ContainSubstring("removal poll interval")))
	})

	It("creates the whole bundle and activates the tenant", func() {
		o := newOrchestrator(cluster.NewClientset(kube))

		got, err := o.Provision(ctx, tenant)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(platformv1alpha1.StatusActive))
		Expect(stored().Status).To(Equal(platformv1alpha1.StatusActive))

		namespace, err := kube.CoreV1().Namespaces().Get(ctx, ns, metav1.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(namespace.Labels).To(HaveKeyWithValue(provision.LabelTenantID, "t-1"))
		Expect(namespace.Labels).To(HaveKeyWithValue(provision.LabelTenantTier, "pro"))
		Expect(namespace.Annotations).To(HaveKeyWithValue(provision.AnnotationTenantEmail, "ops@acme.test"))

		quota, err := kube.CoreV1().ResourceQuotas(ns).Get(ctx, provision.QuotaName, metav1.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(quota.Spec.Hard.Name(corev1.ResourceRequestsCPU, resource.DecimalSI).String()).To(Equal("4"))
		Expect(quota.Spec.Hard.Pods().Value()).To(BeEquivalentTo(20))

		policies, err := kube.NetworkingV1().NetworkPolicies(ns).List(ctx, metav1.ListOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(policies.Items).To(HaveLen(3))

		roles, err := kube.RbacV1().Roles(ns).List(ctx, metav1.ListOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(roles.Items).To(HaveLen(2))
		for _, r := range roles.Items {
			if r.Name == provision.ViewerRoleName {
				Expect(r.Rules[0].Verbs).To(ConsistOf("get", "list", "watch"))
			}
		}

		_, err = kube.CoreV1().PersistentVolumeClaims(ns).Get(ctx, provision.DatabaseClaimName, metav1.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
		_, err = kube.CoreV1().Secrets(ns).Get(ctx, provision.DatabaseSecretName, metav1.GetOptions{})
		Expect(err).NotTo(HaveOccurred())

		deploy, err := kube.AppsV1().Deployments(ns).Get(ctx, provision.DatabaseName, metav1.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(deploy.Spec.Template.Spec.Containers[0].Image).To(Equal("postgres:15-alpine"))
		Expect(*deploy.Spec.Template.Spec.SecurityContext.RunAsNonRoot).To(BeTrue())

		svc, err := kube.CoreV1().Services(ns).Get(ctx, provision.DatabaseName, metav1.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(svc.Spec.Ports[0].Port).To(BeEquivalentTo(provision.DatabasePort))
	})

	It("leaves the tenant pending after a failed step and converges on retry", func() {
		var failures atomic.Int32
		failures.Store(1)
		kube.PrependReactor("create", "persistentvolumeclaims", func(k8stesting.Action) (bool, runtime.Object, error) {
			if failures.Add(-1) >= 0 {
				return true, nil, errors.New("storage backend unavailable")
			}
			return false, nil, nil
		})
		o := newOrchestrator(cluster.NewClientset(kube))

		_, err := o.Provision(ctx, tenant)
		Expect(err).To(HaveOccurred())
		var stepErr *provision.StepError
		Expect(errors.As(err, &stepErr)).To(BeTrue())
		Expect(stepErr.Step).To(Equal(provision.StepStorageClaim))
		Expect(stepErr.Kind).To(Equal("PersistentVolumeClaim"))
		Expect(err.Error()).To(ContainSubstring("storage backend unavailable"))

		Expect(stored().Status).To(Equal(platformv1alpha1.StatusPending))
		_, err = kube.RbacV1().Roles(ns).Get(ctx, provision.AdminRoleName, metav1.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
		_, err = kube.AppsV1().Deployments(ns).Get(ctx, provision.DatabaseName, metav1.GetOptions{})
		Expect(apierrors.IsNotFound(err)).To(BeTrue())

		got, err := o.Provision(ctx, stored())
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(platformv1alpha1.StatusActive))
		_, err = kube.AppsV1().Deployments(ns).Get(ctx, provision.DatabaseName, metav1.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
	})

	It("adopts a namespace that already belongs to the tenant", func() {
		_, err := kube.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{
			ObjectMeta: metav1.ObjectMeta{Name: ns, Labels: map[string]string{provision.LabelTenantID: "t-1"}},
		}, metav1.CreateOptions{})
		Expect(err).NotTo(HaveOccurred())

		_, err = newOrchestrator(cluster.NewClientset(kube)).Provision(ctx, tenant)
		Expect(err).NotTo(HaveOccurred())
	})

	It("refuses a namespace labelled for another tenant", func() {
		_, err := kube.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{
			ObjectMeta: metav1.ObjectMeta{Name: ns, Labels: map[string]string{provision.LabelTenantID: "someone-else"}},
		}, metav1.CreateOptions{})
		Expect(err).NotTo(HaveOccurred())

		_, err = newOrchestrator(cluster.NewClientset(kube)).Provision(ctx, tenant)
		Expect(err).To(MatchError(provision.ErrNamespaceOwnedByOther))
		Expect(stored().Status).To(Equal(platformv1alpha1.StatusPending))

		_, err = kube.CoreV1().ResourceQuotas(ns).Get(ctx, provision.QuotaName, metav1.GetOptions{})
		Expect(apierrors.IsNotFound(err)).To(BeTrue())
	})

	It("fails the step when a call exceeds the call timeout", func() {
		opts := testOptions()
		opts.CallTimeout = 50 * time.Millisecond
		o, err := provision.New(hangingClient{Client: cluster.NewClientset(kube)}, records, opts)
		Expect(err).NotTo(HaveOccurred())

		_, err = o.Provision(ctx, tenant)
		Expect(err).To(MatchError(provision.ErrStepTimeout))
		var stepErr *provision.StepError
		Expect(errors.As(err, &stepErr)).To(BeTrue())
		Expect(stepErr.Step).To(Equal(provision.StepRoles))
		Expect(stepErr.Transient()).To(BeTrue())
		Expect(stored().Status).To(Equal(platformv1alpha1.StatusPending))
	})

	It("stops between steps when cancelled but finishes the call in flight", func() {
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		o := newOrchestrator(cancellingClient{Client: cluster.NewClientset(kube), cancel: cancel})

		_, err := o.Provision(cctx, tenant)
		Expect(err).To(MatchError(context.Canceled))
		var stepErr *provision.StepError
		Expect(errors.As(err, &stepErr)).To(BeTrue())
		Expect(stepErr.Step).To(Equal(provision.StepNetworkPolicies))

		_, err = kube.CoreV1().ResourceQuotas(ns).Get(ctx, provision.QuotaName, metav1.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
		policies, err := kube.NetworkingV1().NetworkPolicies(ns).List(ctx, metav1.ListOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(policies.Items).To(BeEmpty())
		Expect(stored().Status).To(Equal(platformv1alpha1.StatusPending))
	})

	It("notifies operators when a run is aborted", func() {
		kube.PrependReactor("create", "services", func(k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, apierrors.NewForbidden(corev1.Resource("services"), "postgres", errors.New("quota exceeded"))
		})
		n := &recordingNotifier{}
		o := newOrchestrator(cluster.NewClientset(kube), provision.WithNotifier(n))

		_, err := o.Provision(ctx, tenant)
		Expect(err).To(HaveOccurred())
		Expect(n.events).To(HaveLen(1))
		Expect(n.events[0].Step).To(Equal(string(provision.StepService)))
		Expect(n.events[0].Namespace).To(Equal(ns))
		Expect(n.events[0].Err).To(MatchError(ContainSubstring("quota exceeded")))
	})

	It("does not create the deployment when its image is rejected", func() {
		v := &rejectingVerifier{}
		o := newOrchestrator(cluster.NewClientset(kube), provision.WithImageVerifier(v))

		_, err := o.Provision(ctx, tenant)
		var stepErr *provision.StepError
		Expect(errors.As(err, &stepErr)).To(BeTrue())
		Expect(stepErr.Step).To(Equal(provision.StepWorkload))
		Expect(v.images).To(ConsistOf("postgres:15-alpine"))

		_, err = kube.AppsV1().Deployments(ns).Get(ctx, provision.DatabaseName, metav1.GetOptions{})
		Expect(apierrors.IsNotFound(err)).To(BeTrue())
	})

	It("rejects invalid tenants before touching the cluster", func() {
		o := newOrchestrator(cluster.NewClientset(kube))

		bad := pendingTenant("t-2", "Not_A_Namespace")
		_, err := o.Provision(ctx, bad)
		var vErr *provision.ValidationError
		Expect(errors.As(err, &vErr)).To(BeTrue())
		Expect(vErr.Field).To(Equal("namespace"))

		bad = pendingTenant("t-3", "tenant-x-1")
		bad.Quota.CPU = resource.Quantity{}
		_, err = o.Provision(ctx, bad)
		Expect(err).To(MatchError(platformv1alpha1.ErrInvalidQuota))

		active := pendingTenant("t-4", "tenant-y-1")
		active.Status = platformv1alpha1.StatusActive
		_, err = o.Provision(ctx, active)
		Expect(errors.As(err, &vErr)).To(BeTrue())

		Expect(kube.Actions()).To(BeEmpty())
	})

	It("lets exactly one of two concurrent runs activate the tenant", func() {
		o := newOrchestrator(cluster.NewClientset(kube))

		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i := range errs {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, errs[i] = o.Provision(ctx, tenant.DeepCopy())
			}()
		}
		wg.Wait()

		var succeeded, conflicted int
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, store.ErrStatusConflict):
				conflicted++
			}
		}
		Expect(succeeded).To(Equal(1))
		Expect(conflicted).To(Equal(1))
		Expect(stored().Status).To(Equal(platformv1alpha1.StatusActive))
	})

	Describe("Deprovision", func() {
		labelledNamespace := func(owner string) {
			_, err := kube.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{
				ObjectMeta: metav1.ObjectMeta{Name: ns, Labels: map[string]string{provision.LabelTenantID: owner}},
			}, metav1.CreateOptions{})
			Expect(err).NotTo(HaveOccurred())
		}

		It("is a no-op for an absent namespace", func() {
			o := newOrchestrator(cluster.NewClientset(kube))
			gone := pendingTenant("t-9", "tenant-gone-1")
			Expect(o.Deprovision(ctx, gone)).To(Succeed())
			Expect(o.Deprovision(ctx, gone)).To(Succeed())
		})

		It("removes a provisioned namespace", func() {
			o := newOrchestrator(cluster.NewClientset(kube))
			_, err := o.Provision(ctx, tenant)
			Expect(err).NotTo(HaveOccurred())

			Expect(o.Deprovision(ctx, tenant)).To(Succeed())
			Expect(o.WaitForRemoval(ctx, tenant, time.Second)).To(Succeed())
		})

		It("leaves a namespace labelled for another tenant in place", func() {
			labelledNamespace("someone-else")
			var deletes atomic.Int32
			kube.PrependReactor("delete", "namespaces", func(k8stesting.Action) (bool, runtime.Object, error) {
				deletes.Add(1)
				return false, nil, nil
			})
			o := newOrchestrator(cluster.NewClientset(kube))

			Expect(o.Deprovision(ctx, tenant)).To(Succeed())
			Expect(o.WaitForRemoval(ctx, tenant, time.Second)).To(Succeed())
			Expect(deletes.Load()).To(BeZero())

			namespace, err := kube.CoreV1().Namespaces().Get(ctx, ns, metav1.GetOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(namespace.Labels).To(HaveKeyWithValue(provision.LabelTenantID, "someone-else"))
		})

		It("surfaces transport errors", func() {
			labelledNamespace("t-1")
			kube.PrependReactor("delete", "namespaces", func(k8stesting.Action) (bool, runtime.Object, error) {
				return true, nil, apierrors.NewServiceUnavailable("apiserver restarting")
			})
			o := newOrchestrator(cluster.NewClientset(kube))

			err := o.Deprovision(ctx, tenant)
			Expect(err).To(HaveOccurred())
			Expect(cluster.IsTransient(errors.Unwrap(err))).To(BeTrue())
		})

		It("times out waiting for a namespace that stays", func() {
			labelledNamespace("t-1")

			o := newOrchestrator(cluster.NewClientset(kube))
			Expect(o.WaitForRemoval(ctx, tenant, 50*time.Millisecond)).NotTo(Succeed())
		})
	})
})
