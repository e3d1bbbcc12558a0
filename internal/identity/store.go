// Package identity maps peripheral identities (BLE addresses) to stable slot
// indices. A binding, once made, survives reconnects: the same address always
// resolves to the same index for the lifetime of the store.
package identity

import (
	"errors"
	"sync"

	"github.com/cornelk/hashmap"
)

// ErrNoCapacity is returned when every slot index is already bound to a
// different identity.
var ErrNoCapacity = errors.New("identity: no free slot binding")

// Store binds identities to slot indices.
type Store interface {
	// Bind returns the stable slot index for addr, creating a binding if one
	// does not exist and a free index remains.
	Bind(addr string) (int, error)
	// Lookup returns the existing binding for addr, if any.
	Lookup(addr string) (int, bool)
}

// MemStore is the default in-process Store. Bindings are deterministic:
// pre-seeded addresses occupy their configured indices, unseen addresses take
// the lowest free index in arrival order.
type MemStore struct {
	byAddr *hashmap.Map[string, int]

	mu     sync.Mutex
	bySlot []string
}

// NewMemStore creates a store with the given capacity. Seed addresses, when
// provided, are bound to their positional indices up front; empty entries
// leave the index free.
func NewMemStore(capacity int, seed []string) *MemStore {
	s := &MemStore{
		byAddr: hashmap.New[string, int](),
		bySlot: make([]string, capacity),
	}
	for i, addr := range seed {
		if i >= capacity {
			break
		}
		if addr == "" {
			continue
		}
		s.bySlot[i] = addr
		s.byAddr.Set(addr, i)
	}
	return s
}

func (s *MemStore) Bind(addr string) (int, error) {
	if idx, ok := s.byAddr.Get(addr); ok {
		return idx, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the lock; a concurrent Bind may have won.
	if idx, ok := s.byAddr.Get(addr); ok {
		return idx, nil
	}
	for i, bound := range s.bySlot {
		if bound == "" {
			s.bySlot[i] = addr
			s.byAddr.Set(addr, i)
			return i, nil
		}
	}
	return -1, ErrNoCapacity
}

func (s *MemStore) Lookup(addr string) (int, bool) {
	return s.byAddr.Get(addr)
}
