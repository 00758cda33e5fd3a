/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import (
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
)

// Status is the lifecycle phase of a tenant record.
type Status string

const (
	// StatusPending is set on creation and kept until every provisioning
	// step has succeeded.
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended:
		return true
	}
	return false
}

// Tier is the service level of a tenant. It only selects default quota sizing.
type Tier string

const (
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Tiers lists every known tier.
var Tiers = []Tier{TierBasic, TierPro, TierEnterprise}

func (t Tier) Valid() bool {
	switch t {
	case TierBasic, TierPro, TierEnterprise:
		return true
	}
	return false
}

var ErrInvalidQuota = errors.New("invalid quota")

// Quota is the resource allocation of a tenant namespace.
type Quota struct {
	CPU             resource.Quantity `json:"cpu"`
	Memory          resource.Quantity `json:"memory"`
	Storage         resource.Quantity `json:"storage"`
	MaxParticipants int               `json:"maxParticipants"`
}

// Validate reports whether every quota dimension is populated and positive.
func (q Quota) Validate() error {
	for name, v := range map[string]resource.Quantity{
		"cpu":     q.CPU,
		"memory":  q.Memory,
		"storage": q.Storage,
	} {
		if v.Sign() <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %q", ErrInvalidQuota, name, v.String())
		}
	}
	if q.MaxParticipants <= 0 {
		return fmt.Errorf("%w: maxParticipants must be positive, got %d", ErrInvalidQuota, q.MaxParticipants)
	}
	return nil
}

// IsZero reports whether no quota dimension has been set.
func (q Quota) IsZero() bool {
	return q.CPU.IsZero() && q.Memory.IsZero() && q.Storage.IsZero() && q.MaxParticipants == 0
}

// Tenant is the durable record of an isolated tenant environment.
type Tenant struct {
	ID string `json:"id"`

	// Name is the display name chosen by the operator.
	Name string `json:"name"`

	// Namespace is the cluster namespace derived from Name. It is unique
	// across tenants and never changes once assigned.
	Namespace string `json:"namespace"`

	Email  string `json:"email"`
	Status Status `json:"status"`
	Tier   Tier   `json:"tier"`
	Quota  Quota  `json:"quota"`

	// +optional
	Settings map[string]string `json:"settings,omitempty"`

	// +optional
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DeepCopy returns an independent copy of the tenant record.
func (t *Tenant) DeepCopy() *Tenant {
	if t == nil {
		return nil
	}
	out := *t
	out.Quota.CPU = t.Quota.CPU.DeepCopy()
	out.Quota.Memory = t.Quota.Memory.DeepCopy()
	out.Quota.Storage = t.Quota.Storage.DeepCopy()
	if t.Settings != nil {
		out.Settings = make(map[string]string, len(t.Settings))
		for k, v := range t.Settings {
			out.Settings[k] = v
		}
	}
	return &out
}

// TenantList contains a list of Tenant
type TenantList struct {
	Items []Tenant `json:"items"`
	Total int      `json:"total"`
}
