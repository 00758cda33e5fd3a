package provision

import (
	"sigs.k8s.io/controller-runtime/pkg/client"

	platformv1alpha1 "github.com/shieldx-bot/tenant-platform/api/v1alpha1"
)

// StepName identifies one step of the provisioning plan.
type StepName string

const (
	StepNamespace       StepName = "namespace"
	StepResourceQuota   StepName = "resource-quota"
	StepNetworkPolicies StepName = "network-policies"
	StepRoles           StepName = "roles"
	StepStorageClaim    StepName = "storage-claim"
	StepWorkload        StepName = "workload"
	StepService         StepName = "service"
)

// Step builds the objects one provisioning step creates. Objects are created
// in the returned order and a step only succeeds when all of them exist.
type Step struct {
	Name  StepName
	Build func(t *platformv1alpha1.Tenant, o Options) ([]client.Object, error)
}

// Plan is the ordered list of steps. A step is never attempted before every
// earlier step has succeeded.
type Plan []Step

// DefaultPlan creates the fixed tenant bundle. Quota and network isolation
// come before anything that can schedule pods.
func DefaultPlan() Plan {
	return Plan{
		{Name: StepNamespace, Build: func(t *platformv1alpha1.Tenant, _ Options) ([]client.Object, error) {
			return []client.Object{namespaceFor(t)}, nil
		}},
		{Name: StepResourceQuota, Build: func(t *platformv1alpha1.Tenant, o Options) ([]client.Object, error) {
			return []client.Object{resourceQuotaFor(t, o)}, nil
		}},
		{Name: StepNetworkPolicies, Build: func(t *platformv1alpha1.Tenant, o Options) ([]client.Object, error) {
			var objs []client.Object
			for _, p := range networkPoliciesFor(t, o) {
				objs = append(objs, p)
			}
			return objs, nil
		}},
		{Name: StepRoles, Build: func(t *platformv1alpha1.Tenant, _ Options) ([]client.Object, error) {
			var objs []client.Object
			for _, r := range rolesFor(t) {
				objs = append(objs, r)
			}
			return objs, nil
		}},
		{Name: StepStorageClaim, Build: func(t *platformv1alpha1.Tenant, o Options) ([]client.Object, error) {
			return []client.Object{storageClaimFor(t, o)}, nil
		}},
		{Name: StepWorkload, Build: func(t *platformv1alpha1.Tenant, o Options) ([]client.Object, error) {
			password, err := o.Password()
			if err != nil {
				return nil, err
			}
			return []client.Object{databaseSecretFor(t, password), deploymentFor(t, o)}, nil
		}},
		{Name: StepService, Build: func(t *platformv1alpha1.Tenant, _ Options) ([]client.Object, error) {
			return []client.Object{serviceFor(t)}, nil
		}},
	}
}
