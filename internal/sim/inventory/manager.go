package inventory

import (
	"errors"
	"fmt"
	"sync"

	"voxelwire.io/internal/protocol"
)

var ErrNotFound = errors.New("inventory not found")

// Manager serializes access to persistent inventories and notifies
// subscribers of every changed key.
//
// The mutate callback runs with the manager lock held and must not call back
// into the Manager.
type Manager struct {
	mu    sync.Mutex
	store Store

	subMu sync.Mutex
	subs  map[*Subscription]struct{}
}

func NewManager(store Store) *Manager {
	if store == nil {
		store = NewMemStore()
	}
	return &Manager{store: store, subs: map[*Subscription]struct{}{}}
}

// Make creates and persists a new empty inventory.
func (m *Manager) Make(height, width uint32) (Key, error) {
	inv, err := New(height, width)
	if err != nil {
		return Key{}, err
	}
	key := NewKey()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SaveAll(map[Key]protocol.Inventory{key: inv}); err != nil {
		return Key{}, fmt.Errorf("save inventory %s: %w", key, err)
	}
	return key, nil
}

func (m *Manager) Get(key Key) (protocol.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok, err := m.store.Load(key)
	if err != nil {
		return protocol.Inventory{}, fmt.Errorf("load inventory %s: %w", key, err)
	}
	if !ok {
		return protocol.Inventory{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return inv, nil
}

// Mutate is MutateAtomically for a single key.
func (m *Manager) Mutate(key Key, fn func(inv *protocol.Inventory) error) error {
	return m.MutateAtomically([]Key{key}, func(invs []*protocol.Inventory) error {
		return fn(invs[0])
	})
}

// MutateAtomically loads every key, runs fn and writes all results back only
// if fn succeeds. Duplicate keys share one *Inventory. Dimensions must not
// change.
func (m *Manager) MutateAtomically(keys []Key, fn func(invs []*protocol.Inventory) error) error {
	m.mu.Lock()
	loaded := make(map[Key]*protocol.Inventory, len(keys))
	invs := make([]*protocol.Inventory, len(keys))
	for i, k := range keys {
		if p, ok := loaded[k]; ok {
			invs[i] = p
			continue
		}
		inv, ok, err := m.store.Load(k)
		if err != nil {
			m.mu.Unlock()
			return fmt.Errorf("load inventory %s: %w", k, err)
		}
		if !ok {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrNotFound, k)
		}
		p := &inv
		loaded[k] = p
		invs[i] = p
	}
	shapes := make(map[Key][2]uint32, len(loaded))
	for k, p := range loaded {
		shapes[k] = [2]uint32{p.Height, p.Width}
	}
	if err := fn(invs); err != nil {
		m.mu.Unlock()
		return err
	}
	out := make(map[Key]protocol.Inventory, len(loaded))
	for k, p := range loaded {
		if shapes[k] != [2]uint32{p.Height, p.Width} || !p.Valid() {
			m.mu.Unlock()
			return fmt.Errorf("inventory %s: mutation broke dimensions", k)
		}
		out[k] = *p
	}
	if err := m.store.SaveAll(out); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("save inventories: %w", err)
	}
	m.mu.Unlock()

	for k := range out {
		m.broadcast(k)
	}
	return nil
}

// Subscription collects changed keys without ever blocking the producer.
// C receives a token whenever new keys are pending; call Drain to read them.
type Subscription struct {
	C chan struct{}

	mu      sync.Mutex
	pending map[Key]struct{}
}

// Drain returns and clears the pending keys.
func (s *Subscription) Drain() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	out := make([]Key, 0, len(s.pending))
	for k := range s.pending {
		out = append(out, k)
	}
	clear(s.pending)
	return out
}

func (s *Subscription) add(k Key) {
	s.mu.Lock()
	s.pending[k] = struct{}{}
	s.mu.Unlock()
	select {
	case s.C <- struct{}{}:
	default:
	}
}

func (m *Manager) Subscribe() *Subscription {
	s := &Subscription{C: make(chan struct{}, 1), pending: map[Key]struct{}{}}
	m.subMu.Lock()
	m.subs[s] = struct{}{}
	m.subMu.Unlock()
	return s
}

// Unsubscribe guarantees no further keys are added to s once it returns.
func (m *Manager) Unsubscribe(s *Subscription) {
	m.subMu.Lock()
	delete(m.subs, s)
	m.subMu.Unlock()
}

func (m *Manager) broadcast(k Key) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for s := range m.subs {
		s.add(k)
	}
}
