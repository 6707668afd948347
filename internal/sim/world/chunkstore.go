package world

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"voxelwire.io/internal/protocol"
)

type Chunk struct {
	Coord  protocol.ChunkCoord
	Blocks []uint32 // len = ChunkVolume, x fastest, then z, then y
}

// ChunkStore holds generated chunks in memory. Every mutation is published
// to the Hub while the write lock is held, so subscribers see changes in the
// same order as the store applied them.
type ChunkStore struct {
	gen Generator
	hub *Hub

	mu     sync.RWMutex
	chunks map[protocol.ChunkCoord]*Chunk
	// Chunks that differ from what the generator produces.
	edited map[protocol.ChunkCoord]struct{}
}

func NewChunkStore(gen Generator, hub *Hub) *ChunkStore {
	if hub == nil {
		hub = NewHub()
	}
	return &ChunkStore{
		gen:    gen,
		hub:    hub,
		chunks: map[protocol.ChunkCoord]*Chunk{},
		edited: map[protocol.ChunkCoord]struct{}{},
	}
}

func (s *ChunkStore) Hub() *Hub { return s.hub }

// Snapshot returns a copy of the chunk's block ids, generating it on first use.
func (s *ChunkStore) Snapshot(ctx context.Context, c protocol.ChunkCoord) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ch, ok := s.chunks[c]
	if ok {
		out := append([]uint32(nil), ch.Blocks...)
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	ch = s.getOrGenLocked(c)
	return append([]uint32(nil), ch.Blocks...), nil
}

func (s *ChunkStore) GetBlock(b protocol.BlockCoord) uint32 {
	c := b.Chunk()
	s.mu.RLock()
	if ch, ok := s.chunks[c]; ok {
		id := ch.Blocks[b.Offset()]
		s.mu.RUnlock()
		return id
	}
	s.mu.RUnlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrGenLocked(c).Blocks[b.Offset()]
}

// SetBlock writes id and returns the previous id.
func (s *ChunkStore) SetBlock(b protocol.BlockCoord, id uint32) uint32 {
	old, _ := s.CompareAndSet(b, func(uint32) bool { return true }, id)
	return old
}

// CompareAndSet writes id only if ok(current) holds. It returns the id seen
// before the call and whether the write happened.
func (s *ChunkStore) CompareAndSet(b protocol.BlockCoord, ok func(current uint32) bool, id uint32) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.getOrGenLocked(b.Chunk())
	i := b.Offset()
	old := ch.Blocks[i]
	if !ok(old) {
		return old, false
	}
	if old == id {
		return old, true
	}
	ch.Blocks[i] = id
	s.edited[ch.Coord] = struct{}{}
	s.hub.Publish(BlockChange{Block: b, NewID: id})
	return old, true
}

func (s *ChunkStore) LoadedChunks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

func (s *ChunkStore) getOrGenLocked(c protocol.ChunkCoord) *Chunk {
	if ch, ok := s.chunks[c]; ok {
		return ch
	}
	ch := &Chunk{Coord: c, Blocks: make([]uint32, protocol.ChunkVolume)}
	if s.gen != nil {
		s.gen.Generate(c, ch.Blocks)
	}
	s.chunks[c] = ch
	return ch
}

// Edited returns copies of every chunk changed since generation, ordered by
// coordinate.
func (s *ChunkStore) Edited() []Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Chunk, 0, len(s.edited))
	for c := range s.edited {
		out = append(out, Chunk{Coord: c, Blocks: append([]uint32(nil), s.chunks[c].Blocks...)})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Coord, out[j].Coord
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.X < b.X
	})
	return out
}

// Restore installs saved chunks before any session is served. It does not
// publish changes.
func (s *ChunkStore) Restore(chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if len(c.Blocks) != protocol.ChunkVolume {
			return fmt.Errorf("restore chunk %v: %d blocks", c.Coord, len(c.Blocks))
		}
		s.chunks[c.Coord] = &Chunk{Coord: c.Coord, Blocks: append([]uint32(nil), c.Blocks...)}
		s.edited[c.Coord] = struct{}{}
	}
	return nil
}
