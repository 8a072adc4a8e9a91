package mesh

import "sync"

// DefaultStoreCapacity bounds live fragments when no capacity is configured.
// This is a policy limit to bound memory and render cost on constrained
// hardware, not a sensor limit.
const DefaultStoreCapacity = 64

// StoreObserver receives fragment store mutation notifications. It is
// registered by the component that owns render state (the UpdateScheduler);
// the store itself never holds render objects.
type StoreObserver interface {
	FragmentChanged(id string)
	FragmentRemoved(id string)
}

// FragmentStore is the identity-keyed table of accepted fragments and the
// single writable source of truth for fragment contents. All other
// components read through it rather than caching fragment data, so the
// stored, rendered and exported views of a fragment cannot diverge.
type FragmentStore struct {
	mu        sync.RWMutex
	capacity  int
	fragments map[string]*MeshFragment
	observer  StoreObserver
}

// NewFragmentStore creates a store holding at most capacity fragments.
// A non-positive capacity selects DefaultStoreCapacity.
func NewFragmentStore(capacity int) *FragmentStore {
	if capacity <= 0 {
		capacity = DefaultStoreCapacity
	}
	return &FragmentStore{
		capacity:  capacity,
		fragments: make(map[string]*MeshFragment),
	}
}

// SetObserver registers the observer notified after each mutation.
// Pass nil to detach. The observer is called outside the store lock.
func (s *FragmentStore) SetObserver(obs StoreObserver) {
	s.mu.Lock()
	s.observer = obs
	s.mu.Unlock()
}

// Upsert inserts or replaces a fragment. New IDs are rejected once the
// store is at capacity; updates to existing IDs are always accepted.
// Returns false with no mutation on rejection.
func (s *FragmentStore) Upsert(id string, frag *MeshFragment) bool {
	s.mu.Lock()
	if _, exists := s.fragments[id]; !exists && len(s.fragments) >= s.capacity {
		s.mu.Unlock()
		return false
	}
	s.fragments[id] = frag
	obs := s.observer
	s.mu.Unlock()

	if obs != nil {
		obs.FragmentChanged(id)
	}
	return true
}

// Remove deletes a fragment. Removing an unknown ID is a no-op.
func (s *FragmentStore) Remove(id string) {
	s.mu.Lock()
	_, exists := s.fragments[id]
	delete(s.fragments, id)
	obs := s.observer
	s.mu.Unlock()

	if exists && obs != nil {
		obs.FragmentRemoved(id)
	}
}

// Get returns the fragment for an ID, or (nil, false) when absent.
func (s *FragmentStore) Get(id string) (*MeshFragment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	frag, ok := s.fragments[id]
	return frag, ok
}

// Count returns the number of live fragments.
func (s *FragmentStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fragments)
}

// Capacity returns the configured fragment limit.
func (s *FragmentStore) Capacity() int {
	return s.capacity
}

// ForEach calls fn for every live fragment. The iteration order is
// unspecified. fn must not mutate the store.
func (s *FragmentStore) ForEach(fn func(id string, frag *MeshFragment)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, frag := range s.fragments {
		fn(id, frag)
	}
}

// All returns a snapshot slice of the live fragments.
func (s *FragmentStore) All() []*MeshFragment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*MeshFragment, 0, len(s.fragments))
	for _, frag := range s.fragments {
		out = append(out, frag)
	}
	return out
}

// Clear removes every fragment, notifying the observer per removed ID so
// render entities are torn down alongside their fragments.
func (s *FragmentStore) Clear() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.fragments))
	for id := range s.fragments {
		ids = append(ids, id)
	}
	s.fragments = make(map[string]*MeshFragment)
	obs := s.observer
	s.mu.Unlock()

	if obs != nil {
		for _, id := range ids {
			obs.FragmentRemoved(id)
		}
	}
}
