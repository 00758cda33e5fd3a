// Package provision drives a tenant through the ordered creation of its
// namespace bundle and tears it down again.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	netv1 "k8s.io/api/networking/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	platformv1alpha1 "github.com/shieldx-bot/tenant-platform/api/v1alpha1"
	"github.com/shieldx-bot/tenant-platform/internal/cluster"
	"github.com/shieldx-bot/tenant-platform/internal/metrics"
	"github.com/shieldx-bot/tenant-platform/internal/naming"
	"github.com/shieldx-bot/tenant-platform/internal/notify"
)

// StatusUpdater performs the conditional status transition that ends a
// successful run.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, from, to platformv1alpha1.Status) (*platformv1alpha1.Tenant, error)
}

// ImageVerifier rejects container images before a deployment is created.
type ImageVerifier interface {
	Verify(ctx context.Context, image string) error
}

type Option func(*Orchestrator)

// WithNotifier reports aborted runs to operators.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithImageVerifier checks every container image of a deployment before the
// deployment is created.
func WithImageVerifier(v ImageVerifier) Option {
	return func(o *Orchestrator) { o.verifier = v }
}

// WithPlan replaces the default plan.
func WithPlan(p Plan) Option {
	return func(o *Orchestrator) { o.plan = p }
}

type Orchestrator struct {
	cluster  cluster.Client
	records  StatusUpdater
	opts     Options
	plan     Plan
	notifier notify.Notifier
	verifier ImageVerifier
}

func New(c cluster.Client, records StatusUpdater, opts Options, options ...Option) (*Orchestrator, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provisioning options: %w", err)
	}
	if opts.Password == nil {
		opts.Password = randomPassword
	}

	o := &Orchestrator{
		cluster:  c,
		records:  records,
		opts:     opts,
		plan:     DefaultPlan(),
		notifier: notify.Nop{},
	}
	for _, opt := range options {
		opt(o)
	}
	return o, nil
}

// Provision runs the plan for a pending tenant and marks it active once
// every step has succeeded. Objects that already exist count as created, so
// a failed run can simply be repeated.
//
// Cancelling ctx stops the run between steps. A call already in flight is
// allowed to finish within the call timeout.
func (o *Orchestrator) Provision(ctx context.Context, tenant *platformv1alpha1.Tenant) (*platformv1alpha1.Tenant, error) {
	if err := validateTenant(tenant); err != nil {
		return nil, err
	}
	log := logf.FromContext(ctx).WithValues("tenant", tenant.ID, "namespace", tenant.Namespace)

	for _, step := range o.plan {
		if err := ctx.Err(); err != nil {
			log.Info("provisioning cancelled", "nextStep", step.Name)
			return nil, &StepError{Step: step.Name, Err: err}
		}

		start := time.Now()
		err := o.runStep(ctx, log, tenant, step)
		metrics.ProvisionStepDuration.WithLabelValues(string(step.Name)).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ProvisionSteps.WithLabelValues(string(step.Name), "failed").Inc()
			log.Error(err, "provisioning aborted", "step", step.Name)
			o.notifyAbort(ctx, log, tenant, step.Name, err)
			return nil, err
		}
		log.Info("provisioning step complete", "step", step.Name)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("activate tenant %s: %w", tenant.ID, err)
	}
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	updated, err := o.records.UpdateStatus(callCtx, tenant.ID, platformv1alpha1.StatusPending, platformv1alpha1.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("activate tenant %s: %w", tenant.ID, err)
	}
	log.Info("tenant active")
	return updated, nil
}

func validateTenant(t *platformv1alpha1.Tenant) error {
	if t == nil {
		return &ValidationError{Field: "record", Err: errors.New("nil tenant")}
	}
	if t.ID == "" {
		return &ValidationError{Field: "id", Err: errors.New("empty id")}
	}
	if t.Status != platformv1alpha1.StatusPending {
		return &ValidationError{Field: "status", Err: fmt.Errorf("expected %s, got %q", platformv1alpha1.StatusPending, t.Status)}
	}
	if err := naming.Validate(t.Namespace); err != nil {
		return &ValidationError{Field: "namespace", Err: err}
	}
	if err := t.Quota.Validate(); err != nil {
		return &ValidationError{Field: "quota", Err: err}
	}
	return nil
}

func (o *Orchestrator) runStep(ctx context.Context, log logr.Logger, t *platformv1alpha1.Tenant, step Step) error {
	objs, err := step.Build(t, o.opts)
	if err != nil {
		return &StepError{Step: step.Name, Err: err}
	}

	if o.verifier != nil {
		for _, obj := range objs {
			if err := o.verifyImages(ctx, obj); err != nil {
				return &StepError{Step: step.Name, Kind: kindOf(obj), Name: obj.GetName(), Err: err}
			}
		}
	}

	for _, obj := range objs {
		result, err := o.apply(ctx, t, obj)
		if err != nil {
			return &StepError{Step: step.Name, Kind: kindOf(obj), Name: obj.GetName(), Err: err}
		}
		metrics.ProvisionSteps.WithLabelValues(string(step.Name), result).Inc()
		if result == "exists" {
			log.V(1).Info("object already present", "step", step.Name, "kind", kindOf(obj), "name", obj.GetName())
		}
	}
	return nil
}

// apply creates obj and returns "created" or "exists".
func (o *Orchestrator) apply(ctx context.Context, t *platformv1alpha1.Tenant, obj client.Object) (string, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	err := o.create(callCtx, t.Namespace, obj)
	switch {
	case err == nil:
		return "created", nil
	case apierrors.IsAlreadyExists(err):
		if _, ok := obj.(*corev1.Namespace); ok {
			if err := o.checkNamespaceOwner(callCtx, t); err != nil {
				return "", o.classify(callCtx, err)
			}
		}
		return "exists", nil
	default:
		return "", o.classify(callCtx, err)
	}
}

func (o *Orchestrator) create(ctx context.Context, namespace string, obj client.Object) error {
	switch v := obj.(type) {
	case *corev1.Namespace:
		return o.cluster.CreateNamespace(ctx, v)
	case *corev1.ResourceQuota:
		return o.cluster.CreateResourceQuota(ctx, namespace, v)
	case *corev1.Secret:
		return o.cluster.CreateSecret(ctx, namespace, v)
	case *netv1.NetworkPolicy:
		return o.cluster.CreateNetworkPolicy(ctx, namespace, v)
	case *rbacv1.Role:
		return o.cluster.CreateRole(ctx, namespace, v)
	case *corev1.PersistentVolumeClaim:
		return o.cluster.CreatePersistentVolumeClaim(ctx, namespace, v)
	case *appsv1.Deployment:
		return o.cluster.CreateDeployment(ctx, namespace, v)
	case *corev1.Service:
		return o.cluster.CreateService(ctx, namespace, v)
	default:
		return fmt.Errorf("unsupported object type %T", obj)
	}
}

// checkNamespaceOwner refuses to adopt a namespace labelled for a different
// tenant.
func (o *Orchestrator) checkNamespaceOwner(ctx context.Context, t *platformv1alpha1.Tenant) error {
	ns, err := o.cluster.GetNamespace(ctx, t.Namespace)
	if err != nil {
		return err
	}
	if owner := ns.Labels[LabelTenantID]; owner != t.ID {
		return fmt.Errorf("%w: %s is labelled %s=%q", ErrNamespaceOwnedByOther, t.Namespace, LabelTenantID, owner)
	}
	return nil
}

func (o *Orchestrator) verifyImages(ctx context.Context, obj client.Object) error {
	d, ok := obj.(*appsv1.Deployment)
	if !ok {
		return nil
	}
	containers := append(append([]corev1.Container{}, d.Spec.Template.Spec.InitContainers...), d.Spec.Template.Spec.Containers...)
	for _, c := range containers {
		if err := o.verifier.Verify(context.WithoutCancel(ctx), c.Image); err != nil {
			return fmt.Errorf("image %s rejected: %w", c.Image, err)
		}
	}
	return nil
}

// callContext bounds one cluster call. The parent's cancellation is not
// inherited so that a create is never interrupted halfway.
func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.opts.CallTimeout)
}

func (o *Orchestrator) classify(callCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrStepTimeout, o.opts.CallTimeout, err)
	}
	return err
}

func (o *Orchestrator) notifyAbort(ctx context.Context, log logr.Logger, t *platformv1alpha1.Tenant, step StepName, err error) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.CallTimeout)
	defer cancel()

	nerr := o.notifier.Notify(nctx, notify.Event{
		TenantID:   t.ID,
		TenantName: t.Name,
		Namespace:  t.Namespace,
		Step:       string(step),
		Err:        err,
	})
	if nerr != nil {
		log.Error(nerr, "failed to send provisioning failure notification")
	}
}

// Deprovision deletes the tenant namespace. The cluster removes everything
// scoped to it, so there is no reverse plan. A namespace that does not exist
// is already clean, and so is one labelled for another tenant: it is never
// deleted on this tenant's behalf.
func (o *Orchestrator) Deprovision(ctx context.Context, t *platformv1alpha1.Tenant) error {
	namespace := t.Namespace
	if err := naming.Validate(namespace); err != nil {
		return &ValidationError{Field: "namespace", Err: err}
	}
	log := logf.FromContext(ctx).WithValues("tenant", t.ID, "namespace", namespace)

	owner, found, err := o.namespaceOwner(ctx, namespace)
	if err != nil {
		return fmt.Errorf("read namespace %s: %w", namespace, err)
	}
	if !found {
		log.V(1).Info("namespace already absent")
		return nil
	}
	if owner != t.ID {
		log.Info("namespace belongs to another tenant, leaving it in place", "owner", owner)
		return nil
	}

	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	err = o.cluster.DeleteNamespace(callCtx, namespace)
	switch {
	case err == nil:
		log.Info("namespace deletion requested")
		return nil
	case apierrors.IsNotFound(err):
		log.V(1).Info("namespace already absent")
		return nil
	default:
		return fmt.Errorf("delete namespace %s: %w", namespace, o.classify(callCtx, err))
	}
}

// WaitForRemoval blocks until the tenant's namespace is confirmed gone or
// timeout expires. A namespace labelled for another tenant counts as gone.
// Transient read errors are retried.
func (o *Orchestrator) WaitForRemoval(ctx context.Context, t *platformv1alpha1.Tenant, timeout time.Duration) error {
	err := wait.PollUntilContextTimeout(ctx, o.opts.RemovalPollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		owner, found, err := o.namespaceOwner(ctx, t.Namespace)
		switch {
		case err == nil:
			return !found || owner != t.ID, nil
		case cluster.IsTransient(err):
			return false, nil
		default:
			return false, err
		}
	})
	if err != nil {
		return fmt.Errorf("namespace %s not removed: %w", t.Namespace, err)
	}
	return nil
}

// namespaceOwner reads the tenant-id label of a namespace. found is false
// when the namespace does not exist.
func (o *Orchestrator) namespaceOwner(ctx context.Context, namespace string) (owner string, found bool, err error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	ns, err := o.cluster.GetNamespace(callCtx, namespace)
	switch {
	case apierrors.IsNotFound(err):
		return "", false, nil
	case err != nil:
		return "", false, o.classify(callCtx, err)
	}
	return ns.Labels[LabelTenantID], true, nil
}

func kindOf(obj client.Object) string {
	switch obj.(type) {
	case *corev1.Namespace:
		return "Namespace"
	case *corev1.ResourceQuota:
		return "ResourceQuota"
	case *corev1.Secret:
		return "Secret"
	case *netv1.NetworkPolicy:
		return "NetworkPolicy"
	case *rbacv1.Role:
		return "Role"
	case *corev1.PersistentVolumeClaim:
		return "PersistentVolumeClaim"
	case *appsv1.Deployment:
		return "Deployment"
	case *corev1.Service:
		return "Service"
	}
	return fmt.Sprintf("%T", obj)
}
