package inventory

import (
	"sync"

	"voxelwire.io/internal/protocol"
)

// Store persists inventories. SaveAll must write every entry or none.
type Store interface {
	Load(key Key) (protocol.Inventory, bool, error)
	SaveAll(invs map[Key]protocol.Inventory) error
}

// MemStore is an in-process Store.
type MemStore struct {
	mu   sync.Mutex
	invs map[Key]protocol.Inventory
}

func NewMemStore() *MemStore {
	return &MemStore{invs: map[Key]protocol.Inventory{}}
}

func (s *MemStore) Load(key Key) (protocol.Inventory, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invs[key]
	if !ok {
		return protocol.Inventory{}, false, nil
	}
	return Clone(inv), true, nil
}

func (s *MemStore) SaveAll(invs map[Key]protocol.Inventory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, inv := range invs {
		s.invs[k] = Clone(inv)
	}
	return nil
}
