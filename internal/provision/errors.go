package provision

import (
	"errors"
	"fmt"

	"github.com/shieldx-bot/tenant-platform/internal/cluster"
)

var (
	// ErrStepTimeout marks a cluster call that did not finish within the
	// configured call timeout.
	ErrStepTimeout = errors.New("cluster call timed out")

	// ErrNamespaceOwnedByOther is returned when the namespace already exists
	// but is labelled with another tenant id.
	ErrNamespaceOwnedByOther = errors.New("namespace belongs to another tenant")
)

// StepError is the single error surfaced by an aborted provisioning run. It
// names the failed step and, when known, the object that could not be
// created.
type StepError struct {
	Step StepName
	Kind string
	Name string
	Err  error
}

func (e *StepError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("provisioning step %s failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("provisioning step %s failed on %s %q: %v", e.Step, e.Kind, e.Name, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Transient reports whether re-running Provision later may succeed without
// operator action.
func (e *StepError) Transient() bool {
	return errors.Is(e.Err, ErrStepTimeout) || cluster.IsTransient(e.Err)
}

// ValidationError rejects a tenant before any cluster call is made. It is
// never worth retrying.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid tenant %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
