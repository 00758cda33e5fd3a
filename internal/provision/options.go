package provision

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
)

// Options configures the resources created for every tenant.
type Options struct {
	// CallTimeout bounds every single cluster call. A call that exceeds it
	// fails its step.
	CallTimeout time.Duration

	// RemovalPollInterval is how often WaitForRemoval checks whether a
	// deleted namespace is gone.
	RemovalPollInterval time.Duration

	// ObservabilityNamespace is the namespace whose pods may always reach
	// tenant pods (metrics scraping).
	ObservabilityNamespace string

	// Object count limits added to the tenant ResourceQuota.
	MaxPersistentVolumeClaims int64
	MaxPods                   int64
	MaxServices               int64

	Database DatabaseOptions

	// Password generates the database password stored in the tenant
	// secret. Defaults to 24 random bytes, base64 encoded.
	Password func() (string, error)
}

// DatabaseOptions shapes the per-tenant database workload.
type DatabaseOptions struct {
	Image       string
	StorageSize resource.Quantity
	// StorageClass is left unset (cluster default) when empty.
	StorageClass string
	Name         string
	User         string

	RequestsCPU    resource.Quantity
	RequestsMemory resource.Quantity
	LimitsCPU      resource.Quantity
	LimitsMemory   resource.Quantity
}

func (o Options) Validate() error {
	var errs []error
	if o.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("call timeout must be positive, got %s", o.CallTimeout))
	}
	if o.RemovalPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("removal poll interval must be positive, got %s", o.RemovalPollInterval))
	}
	if o.ObservabilityNamespace == "" {
		errs = append(errs, errors.New("observability namespace is required"))
	}
	if o.MaxPersistentVolumeClaims <= 0 || o.MaxPods <= 0 || o.MaxServices <= 0 {
		errs = append(errs, errors.New("object count limits must be positive"))
	}
	if o.Database.Image == "" {
		errs = append(errs, errors.New("database image is required"))
	}
	if o.Database.StorageSize.Sign() <= 0 {
		errs = append(errs, errors.New("database storage size must be positive"))
	}
	if o.Database.Name == "" || o.Database.User == "" {
		errs = append(errs, errors.New("database name and user are required"))
	}
	return errors.Join(errs...)
}

func randomPassword() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate database password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
