package world

import (
	"sync"
	"sync/atomic"

	"voxelwire.io/internal/protocol"
)

type BlockChange struct {
	Block protocol.BlockCoord
	NewID uint32
}

// Hub fans block changes out to per-session mailboxes. Publish never blocks:
// a full mailbox is flagged as overflowed and the change is dropped for that
// subscriber, who must then resynchronize from full chunks.
type Hub struct {
	mu   sync.Mutex
	subs map[*Mailbox]struct{}

	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: map[*Mailbox]struct{}{}}
}

type Mailbox struct {
	C <-chan BlockChange

	c        chan BlockChange
	overflow atomic.Bool
}

// TakeOverflow reports and clears the overflow flag.
func (m *Mailbox) TakeOverflow() bool {
	return m.overflow.Swap(false)
}

func (h *Hub) Subscribe(size int) *Mailbox {
	if size <= 0 {
		size = 256
	}
	c := make(chan BlockChange, size)
	m := &Mailbox{C: c, c: c}
	h.mu.Lock()
	h.subs[m] = struct{}{}
	h.mu.Unlock()
	return m
}

// Unsubscribe is atomic with Publish: once it returns, m receives nothing.
func (h *Hub) Unsubscribe(m *Mailbox) {
	h.mu.Lock()
	delete(h.subs, m)
	h.mu.Unlock()
}

func (h *Hub) Publish(ch BlockChange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for m := range h.subs {
		select {
		case m.c <- ch:
		default:
			m.overflow.Store(true)
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Dropped() uint64 { return h.dropped.Load() }
