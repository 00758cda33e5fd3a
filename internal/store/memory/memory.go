// Package memory is an in-process Store used by tests and local dry runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	platformv1alpha1 "github.com/shieldx-bot/tenant-platform/api/v1alpha1"
	"github.com/shieldx-bot/tenant-platform/internal/store"
)

type Store struct {
	mu          sync.RWMutex
	byID        map[string]*platformv1alpha1.Tenant
	byNamespace map[string]string

	Clock clock.Clock
}

var _ store.Store = &Store{}

func New() *Store {
	return &Store{
		byID:        map[string]*platformv1alpha1.Tenant{},
		byNamespace: map[string]string{},
		Clock:       clock.New(),
	}
}

func (s *Store) Create(_ context.Context, tenant *platformv1alpha1.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[tenant.ID]; ok {
		return store.ErrDuplicateID
	}
	if _, ok := s.byNamespace[tenant.Namespace]; ok {
		return store.ErrNamespaceTaken
	}

	now := s.Clock.Now().UTC()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	tenant.UpdatedAt = now

	s.byID[tenant.ID] = tenant.DeepCopy()
	s.byNamespace[tenant.Namespace] = tenant.ID
	return nil
}

func (s *Store) FindByID(_ context.Context, id string) (*platformv1alpha1.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.DeepCopy(), nil
}

func (s *Store) FindByNamespace(_ context.Context, namespace string) (*platformv1alpha1.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byNamespace[namespace]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.byID[id].DeepCopy(), nil
}

func (s *Store) List(_ context.Context, filter store.Filter) ([]*platformv1alpha1.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*platformv1alpha1.Tenant, 0, len(s.byID))
	for _, t := range s.byID {
		if filter.Matches(t) {
			out = append(out, t.DeepCopy())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, from, to platformv1alpha1.Status) (*platformv1alpha1.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if t.Status != from {
		return nil, store.ErrStatusConflict
	}
	t.Status = to
	t.UpdatedAt = s.Clock.Now().UTC()
	return t.DeepCopy(), nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.byNamespace, t.Namespace)
	delete(s.byID, id)
	return nil
}
