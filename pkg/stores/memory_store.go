package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pledgeflow/pledgeflow/pkg/workflow"
)

// MemoryStore is an in-memory InstanceStore. Instances are deep-copied on
// the way in and out, so callers never share task pointers with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*workflow.Instance
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]*workflow.Instance),
	}
}

// CreateInstance persists a new instance. Fails if the id exists.
func (s *MemoryStore) CreateInstance(_ context.Context, inst *workflow.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ID]; exists {
		return fmt.Errorf("instance %s already exists", inst.ID)
	}
	s.instances[inst.ID] = inst.Clone()
	return nil
}

// LoadInstance returns a deep copy of the stored instance.
func (s *MemoryStore) LoadInstance(_ context.Context, id string) (*workflow.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, workflow.ErrInstanceNotFound
	}
	return inst.Clone(), nil
}

// SaveInstance writes the full task set if the caller's version matches the
// stored one, bumping both versions on success.
func (s *MemoryStore) SaveInstance(_ context.Context, inst *workflow.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.instances[inst.ID]
	if !ok {
		return workflow.ErrInstanceNotFound
	}
	if stored.Version != inst.Version {
		return workflow.ErrVersionConflict
	}

	inst.Version++
	s.instances[inst.ID] = inst.Clone()
	return nil
}

// ListInstanceIDs returns all known instance ids, sorted.
func (s *MemoryStore) ListInstanceIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
