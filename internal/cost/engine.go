// Package cost reads live resource requests of tenant namespaces and turns
// them into monthly cost estimates.
package cost

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	corev1 "k8s.io/api/core/v1"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/shieldx-bot/tenant-platform/internal/cluster"
	"github.com/shieldx-bot/tenant-platform/internal/store"
)

var log = logf.Log.WithName("cost")

type Config struct {
	Pricing Pricing

	// CallTimeout bounds every cluster list call.
	CallTimeout time.Duration

	// MaxConcurrency caps parallel snapshots in a fleet summary. Zero runs
	// one snapshot per tenant at once.
	MaxConcurrency int
}

type Engine struct {
	cluster cluster.Client
	records store.Store
	cfg     Config

	Clock clock.Clock
}

func New(c cluster.Client, records store.Store, cfg Config) (*Engine, error) {
	if err := cfg.Pricing.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pricing: %w", err)
	}
	if cfg.CallTimeout <= 0 {
		return nil, fmt.Errorf("call timeout must be positive, got %s", cfg.CallTimeout)
	}
	if cfg.MaxConcurrency < 0 {
		return nil, fmt.Errorf("max concurrency must not be negative, got %d", cfg.MaxConcurrency)
	}
	return &Engine{cluster: c, records: records, cfg: cfg, Clock: clock.New()}, nil
}

func (e *Engine) Pricing() Pricing { return e.cfg.Pricing }

// Snapshot is a point-in-time reading of the requests in one namespace.
type Snapshot struct {
	Namespace   string    `json:"namespace"`
	CPUCores    float64   `json:"cpuCores"`
	MemoryGiB   float64   `json:"memoryGiB"`
	StorageGiB  float64   `json:"storageGiB"`
	Pods        int       `json:"pods"`
	RunningPods int       `json:"runningPods"`
	Claims      int       `json:"persistentVolumeClaims"`
	Services    int       `json:"services"`
	TakenAt     time.Time `json:"takenAt"`
}

// Snapshot sums the CPU and memory requests of every container and the
// storage requests of every claim in namespace. Malformed quantities count as
// zero; failed list calls fail the snapshot.
func (e *Engine) Snapshot(ctx context.Context, namespace string) (*Snapshot, error) {
	pods, err := list(ctx, e.cfg.CallTimeout, namespace, e.cluster.ListPods)
	if err != nil {
		return nil, fmt.Errorf("list pods in %s: %w", namespace, err)
	}
	claims, err := list(ctx, e.cfg.CallTimeout, namespace, e.cluster.ListPersistentVolumeClaims)
	if err != nil {
		return nil, fmt.Errorf("list persistent volume claims in %s: %w", namespace, err)
	}
	services, err := list(ctx, e.cfg.CallTimeout, namespace, e.cluster.ListServices)
	if err != nil {
		return nil, fmt.Errorf("list services in %s: %w", namespace, err)
	}

	s := &Snapshot{
		Namespace: namespace,
		Pods:      len(pods),
		Claims:    len(claims),
		Services:  len(services),
		TakenAt:   e.Clock.Now().UTC(),
	}
	for _, p := range pods {
		if p.Status.Phase == corev1.PodRunning {
			s.RunningPods++
		}
		for _, c := range p.Spec.Containers {
			if q, ok := c.Resources.Requests[corev1.ResourceCPU]; ok {
				s.CPUCores += CPUCores(q.String())
			}
			if q, ok := c.Resources.Requests[corev1.ResourceMemory]; ok {
				s.MemoryGiB += GiB(q.String())
			}
		}
	}
	for _, c := range claims {
		if q, ok := c.Spec.Resources.Requests[corev1.ResourceStorage]; ok {
			s.StorageGiB += GiB(q.String())
		}
	}
	return s, nil
}

func list[T any](ctx context.Context, timeout time.Duration, namespace string, fn func(context.Context, string) ([]T, error)) ([]T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx, namespace)
}
