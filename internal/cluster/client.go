package cluster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	netv1 "k8s.io/api/networking/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// Client is the subset of the control plane the orchestrator and the cost
// engine talk to. Create calls surface already-exists conflicts unchanged so
// callers can tell them apart from transport failures.
type Client interface {
	CreateNamespace(ctx context.Context, ns *corev1.Namespace) error
	GetNamespace(ctx context.Context, name string) (*corev1.Namespace, error)
	DeleteNamespace(ctx context.Context, name string) error

	CreateResourceQuota(ctx context.Context, namespace string, quota *corev1.ResourceQuota) error
	CreateSecret(ctx context.Context, namespace string, secret *corev1.Secret) error
	CreateNetworkPolicy(ctx context.Context, namespace string, policy *netv1.NetworkPolicy) error
	CreateRole(ctx context.Context, namespace string, role *rbacv1.Role) error
	CreatePersistentVolumeClaim(ctx context.Context, namespace string, pvc *corev1.PersistentVolumeClaim) error
	CreateDeployment(ctx context.Context, namespace string, deployment *appsv1.Deployment) error
	CreateService(ctx context.Context, namespace string, service *corev1.Service) error

	ListPods(ctx context.Context, namespace string) ([]corev1.Pod, error)
	ListPersistentVolumeClaims(ctx context.Context, namespace string) ([]corev1.PersistentVolumeClaim, error)
	ListServices(ctx context.Context, namespace string) ([]corev1.Service, error)
}

// Clientset implements Client on top of a typed client-go clientset.
type Clientset struct {
	kube kubernetes.Interface
}

var _ Client = &Clientset{}

// NewClientset wraps an existing clientset, e.g. a fake one in tests.
func NewClientset(kube kubernetes.Interface) *Clientset {
	return &Clientset{kube: kube}
}

// RESTConfig prefers the in-cluster config and falls back to a kubeconfig
// file: the explicit path, then $KUBECONFIG, then ~/.kube/config.
func RESTConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		if cfg, err := rest.InClusterConfig(); err == nil {
			return cfg, nil
		}

		kubeconfig = os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			if home := homedir.HomeDir(); home != "" {
				kubeconfig = filepath.Join(home, ".kube", "config")
			}
		}
	}
	if kubeconfig == "" {
		return nil, errors.New("no in-cluster config and no kubeconfig path available")
	}

	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig %q: %w", kubeconfig, err)
	}
	return cfg, nil
}

// New builds a Clientset from a kubeconfig path (empty for auto-detection).
func New(kubeconfig string) (*Clientset, error) {
	cfg, err := RESTConfig(kubeconfig)
	if err != nil {
		return nil, err
	}
	kube, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return NewClientset(kube), nil
}

func (c *Clientset) CreateNamespace(ctx context.Context, ns *corev1.Namespace) error {
	_, err := c.kube.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	return err
}

func (c *Clientset) GetNamespace(ctx context.Context, name string) (*corev1.Namespace, error) {
	return c.kube.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
}

func (c *Clientset) DeleteNamespace(ctx context.Context, name string) error {
	policy := metav1.DeletePropagationForeground
	return c.kube.CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &policy})
}

func (c *Clientset) CreateResourceQuota(ctx context.Context, namespace string, quota *corev1.ResourceQuota) error {
	_, err := c.kube.CoreV1().ResourceQuotas(namespace).Create(ctx, quota, metav1.CreateOptions{})
	return err
}

func (c *Clientset) CreateSecret(ctx context.Context, namespace string, secret *corev1.Secret) error {
	_, err := c.kube.CoreV1().Secrets(namespace).Create(ctx, secret, metav1.CreateOptions{})
	return err
}

func (c *Clientset) CreateNetworkPolicy(ctx context.Context, namespace string, policy *netv1.NetworkPolicy) error {
	_, err := c.kube.NetworkingV1().NetworkPolicies(namespace).Create(ctx, policy, metav1.CreateOptions{})
	return err
}

func (c *Clientset) CreateRole(ctx context.Context, namespace string, role *rbacv1.Role) error {
	_, err := c.kube.RbacV1().Roles(namespace).Create(ctx, role, metav1.CreateOptions{})
	return err
}

func (c *Clientset) CreatePersistentVolumeClaim(ctx context.Context, namespace string, pvc *corev1.PersistentVolumeClaim) error {
	_, err := c.kube.CoreV1().PersistentVolumeClaims(namespace).Create(ctx, pvc, metav1.CreateOptions{})
	return err
}

func (c *Clientset) CreateDeployment(ctx context.Context, namespace string, deployment *appsv1.Deployment) error {
	_, err := c.kube.AppsV1().Deployments(namespace).Create(ctx, deployment, metav1.CreateOptions{})
	return err
}

func (c *Clientset) CreateService(ctx context.Context, namespace string, service *corev1.Service) error {
	_, err := c.kube.CoreV1().Services(namespace).Create(ctx, service, metav1.CreateOptions{})
	return err
}

func (c *Clientset) ListPods(ctx context.Context, namespace string) ([]corev1.Pod, error) {
	list, err := c.kube.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (c *Clientset) ListPersistentVolumeClaims(ctx context.Context, namespace string) ([]corev1.PersistentVolumeClaim, error) {
	list, err := c.kube.CoreV1().PersistentVolumeClaims(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (c *Clientset) ListServices(ctx context.Context, namespace string) ([]corev1.Service, error) {
	list, err := c.kube.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

// IsTransient reports whether err is worth retrying later: network timeouts,
// throttling and temporary server-side unavailability.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return apierrors.IsTimeout(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsInternalError(err) ||
		apierrors.IsUnexpectedServerError(err)
}
