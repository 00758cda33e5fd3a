package store

import (
	"context"
	"errors"

	platformv1alpha1 "github.com/shieldx-bot/tenant-platform/api/v1alpha1"
)

var (
	ErrNotFound = errors.New("tenant not found")

	// ErrNamespaceTaken is returned by Create when another tenant already
	// owns the namespace.
	ErrNamespaceTaken = errors.New("namespace already assigned to another tenant")

	// ErrDuplicateID is returned by Create when the tenant id is in use.
	ErrDuplicateID = errors.New("tenant id already exists")

	// ErrStatusConflict is returned by UpdateStatus when the stored status
	// no longer matches the expected one.
	ErrStatusConflict = errors.New("tenant status changed concurrently")
)

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Status platformv1alpha1.Status
	Tier   platformv1alpha1.Tier
}

func (f Filter) Matches(t *platformv1alpha1.Tenant) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Tier != "" && t.Tier != f.Tier {
		return false
	}
	return true
}

// Store is the durable record of tenants.
type Store interface {
	Create(ctx context.Context, tenant *platformv1alpha1.Tenant) error
	FindByID(ctx context.Context, id string) (*platformv1alpha1.Tenant, error)
	FindByNamespace(ctx context.Context, namespace string) (*platformv1alpha1.Tenant, error)
	List(ctx context.Context, filter Filter) ([]*platformv1alpha1.Tenant, error)

	// UpdateStatus moves a tenant from one status to another, failing with
	// ErrStatusConflict if the stored status is not `from`.
	UpdateStatus(ctx context.Context, id string, from, to platformv1alpha1.Status) (*platformv1alpha1.Tenant, error)

	Delete(ctx context.Context, id string) error
}
