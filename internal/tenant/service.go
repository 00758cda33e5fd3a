// Package tenant ties the record store, the provisioning orchestrator and the
// cost engine into the operator-facing tenant lifecycle.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	platformv1alpha1 "github.com/shieldx-bot/tenant-platform/api/v1alpha1"
	"github.com/shieldx-bot/tenant-platform/internal/cost"
	"github.com/shieldx-bot/tenant-platform/internal/naming"
	"github.com/shieldx-bot/tenant-platform/internal/provision"
	"github.com/shieldx-bot/tenant-platform/internal/store"
)

var (
	ErrInvalidRequest = errors.New("invalid tenant request")

	// ErrInvalidTransition is returned when an operation does not apply to
	// the tenant's current status.
	ErrInvalidTransition = errors.New("operation not allowed in current status")
)

// Provisioner creates and removes the cluster side of a tenant.
type Provisioner interface {
	Provision(ctx context.Context, t *platformv1alpha1.Tenant) (*platformv1alpha1.Tenant, error)
	Deprovision(ctx context.Context, t *platformv1alpha1.Tenant) error
	WaitForRemoval(ctx context.Context, t *platformv1alpha1.Tenant, timeout time.Duration) error
}

// Snapshotter reads the live state of a namespace.
type Snapshotter interface {
	Snapshot(ctx context.Context, namespace string) (*cost.Snapshot, error)
}

type Config struct {
	// Tiers holds the default quota of every tier.
	Tiers map[platformv1alpha1.Tier]platformv1alpha1.Quota

	// MaxRegisterAttempts bounds namespace derivation retries on collision.
	MaxRegisterAttempts int

	// RemovalTimeout bounds how long Remove waits for the namespace to go.
	RemovalTimeout time.Duration
}

type Service struct {
	records     store.Store
	provisioner Provisioner
	snapshots   Snapshotter
	cfg         Config

	Clock clock.Clock
	NewID func() string
}

func New(records store.Store, provisioner Provisioner, snapshots Snapshotter, cfg Config) (*Service, error) {
	for _, tier := range platformv1alpha1.Tiers {
		q, ok := cfg.Tiers[tier]
		if !ok {
			return nil, fmt.Errorf("no default quota for tier %s", tier)
		}
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("tier %s: %w", tier, err)
		}
	}
	if cfg.MaxRegisterAttempts <= 0 {
		return nil, fmt.Errorf("max register attempts must be positive, got %d", cfg.MaxRegisterAttempts)
	}
	if cfg.RemovalTimeout <= 0 {
		return nil, fmt.Errorf("removal timeout must be positive, got %s", cfg.RemovalTimeout)
	}
	return &Service{
		records:     records,
		provisioner: provisioner,
		snapshots:   snapshots,
		cfg:         cfg,
		Clock:       clock.New(),
		NewID:       uuid.NewString,
	}, nil
}

// Request asks for a new tenant. A nil Quota takes the tier default.
type Request struct {
	Name      string
	Email     string
	Tier      platformv1alpha1.Tier
	Quota     *platformv1alpha1.Quota
	Settings  map[string]string
	CreatedBy string
}

func (s *Service) validate(req *Request) error {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	addr, err := mail.ParseAddress(req.Email)
	if err != nil {
		return fmt.Errorf("%w: email %q: %v", ErrInvalidRequest, req.Email, err)
	}
	req.Email = addr.Address

	if req.Tier == "" {
		req.Tier = platformv1alpha1.TierBasic
	}
	if !req.Tier.Valid() {
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidRequest, req.Tier)
	}
	if req.Quota == nil {
		q := s.cfg.Tiers[req.Tier]
		req.Quota = &q
	}
	return req.Quota.Validate()
}

// Register records a pending tenant under a fresh namespace and provisions
// it. A namespace taken in the store or on the cluster is replaced by the
// next derivation. When provisioning fails otherwise the pending record is
// returned together with the error so the caller can retry or remove it.
func (s *Service) Register(ctx context.Context, req Request) (*platformv1alpha1.Tenant, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	log := logf.FromContext(ctx)

	now := s.Clock.Now().UTC()
	t := &platformv1alpha1.Tenant{
		ID:        s.NewID(),
		Name:      req.Name,
		Email:     req.Email,
		Status:    platformv1alpha1.StatusPending,
		Tier:      req.Tier,
		Quota:     *req.Quota,
		Settings:  req.Settings,
		CreatedBy: req.CreatedBy,
		CreatedAt: now,
	}

	var err error
	for attempt := 0; attempt < s.cfg.MaxRegisterAttempts; attempt++ {
		t.Namespace, err = naming.DeriveNamespace(req.Name, naming.Suffix(now, attempt))
		if err != nil {
			return nil, err
		}
		err = s.records.Create(ctx, t)
		if errors.Is(err, store.ErrNamespaceTaken) {
			log.V(1).Info("namespace taken, deriving another", "namespace", t.Namespace, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("record tenant %q: %w", req.Name, err)
		}
		log.Info("tenant registered", "tenant", t.ID, "namespace", t.Namespace, "tier", t.Tier)

		var active *platformv1alpha1.Tenant
		active, err = s.provisioner.Provision(ctx, t)
		if errors.Is(err, provision.ErrNamespaceOwnedByOther) {
			log.Info("namespace belongs to another tenant, deriving another", "tenant", t.ID, "namespace", t.Namespace, "attempt", attempt)
			if derr := s.records.Delete(ctx, t.ID); derr != nil {
				return t, fmt.Errorf("drop pending tenant %s: %w", t.ID, derr)
			}
			continue
		}
		if err != nil {
			return t, err
		}
		return active, nil
	}
	return nil, fmt.Errorf("register tenant %q: no free namespace after %d attempts: %w", req.Name, s.cfg.MaxRegisterAttempts, err)
}

// Retry provisions a tenant that is still pending after a failed run.
func (s *Service) Retry(ctx context.Context, id string) (*platformv1alpha1.Tenant, error) {
	t, err := s.records.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != platformv1alpha1.StatusPending {
		return nil, fmt.Errorf("%w: tenant %s is %s", ErrInvalidTransition, id, t.Status)
	}
	return s.provisioner.Provision(ctx, t)
}

func (s *Service) Suspend(ctx context.Context, id string) (*platformv1alpha1.Tenant, error) {
	return s.transition(ctx, id, platformv1alpha1.StatusActive, platformv1alpha1.StatusSuspended)
}

func (s *Service) Resume(ctx context.Context, id string) (*platformv1alpha1.Tenant, error) {
	return s.transition(ctx, id, platformv1alpha1.StatusSuspended, platformv1alpha1.StatusActive)
}

func (s *Service) transition(ctx context.Context, id string, from, to platformv1alpha1.Status) (*platformv1alpha1.Tenant, error) {
	t, err := s.records.UpdateStatus(ctx, id, from, to)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil, fmt.Errorf("%w: tenant %s is not %s: %w", ErrInvalidTransition, id, from, err)
	}
	if err != nil {
		return nil, err
	}
	logf.FromContext(ctx).Info("tenant status changed", "tenant", id, "from", from, "to", to)
	return t, nil
}

// Remove deletes the tenant namespace, waits until the cluster confirms it
// is gone and only then deletes the record.
func (s *Service) Remove(ctx context.Context, id string) error {
	t, err := s.records.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.provisioner.Deprovision(ctx, t); err != nil {
		return err
	}
	if err := s.provisioner.WaitForRemoval(ctx, t, s.cfg.RemovalTimeout); err != nil {
		return err
	}
	if err := s.records.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete tenant record %s: %w", id, err)
	}
	logf.FromContext(ctx).Info("tenant removed", "tenant", id, "namespace", t.Namespace)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*platformv1alpha1.Tenant, error) {
	return s.records.FindByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter store.Filter) (*platformv1alpha1.TenantList, error) {
	tenants, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	list := &platformv1alpha1.TenantList{Items: make([]platformv1alpha1.Tenant, 0, len(tenants)), Total: len(tenants)}
	for _, t := range tenants {
		list.Items = append(list.Items, *t)
	}
	return list, nil
}

// Details is a tenant record together with the live state of its namespace.
type Details struct {
	Tenant *platformv1alpha1.Tenant `json:"tenant"`
	Usage  *cost.Snapshot           `json:"usage"`
}

func (s *Service) Inspect(ctx context.Context, id string) (*Details, error) {
	t, err := s.records.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	usage, err := s.snapshots.Snapshot(ctx, t.Namespace)
	if err != nil {
		return nil, fmt.Errorf("inspect namespace %s: %w", t.Namespace, err)
	}
	return &Details{Tenant: t, Usage: usage}, nil
}
