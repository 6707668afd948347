// Package mapsync keeps one session's view of the world in sync: which
// chunks the client holds, full chunk sends, and per-block delta batches.
package mapsync

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/time/rate"

	"voxelwire.io/internal/protocol"
)

// ChunkSource provides chunk contents for full sends.
type ChunkSource interface {
	Snapshot(ctx context.Context, c protocol.ChunkCoord) ([]uint32, error)
}

type Config struct {
	// No new full chunk is started while the client reports more than this
	// many unprocessed chunks.
	MaxPendingChunks uint32

	// Token bucket for full chunk sends. Zero rate means unlimited.
	FullChunksPerSecond float64
	FullChunkBurst      int

	// Upper bound of full chunks per Flush. Zero means 32.
	MaxFullPerFlush int
}

type chunkState struct {
	SentFull  bool
	NeedsFull bool
	Priority  int
	Pending   map[int]uint32 // block offset -> new id
}

type Stats struct {
	Subscribed    int
	AwaitingFull  int
	FullsSent     uint64
	DeltasSent    uint64
	DeltasDropped uint64
}

// Engine is owned by a single session goroutine.
type Engine struct {
	cfg     Config
	src     ChunkSource
	limiter *rate.Limiter

	states  map[protocol.ChunkCoord]*chunkState
	unsub   []protocol.ChunkCoord
	pacing  uint32
	nextPri int

	stats Stats
}

func New(cfg Config, src ChunkSource) *Engine {
	if cfg.MaxFullPerFlush <= 0 {
		cfg.MaxFullPerFlush = 32
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if cfg.FullChunksPerSecond > 0 {
		burst := cfg.FullChunkBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.FullChunksPerSecond), burst)
	}
	return &Engine{
		cfg:     cfg,
		src:     src,
		limiter: lim,
		states:  map[protocol.ChunkCoord]*chunkState{},
	}
}

// Subscribe marks c subscribed. The full chunk goes out on a later Flush,
// when pacing allows. Subscribing twice is a no-op.
func (e *Engine) Subscribe(c protocol.ChunkCoord) {
	if _, ok := e.states[c]; ok {
		return
	}
	e.nextPri++
	e.states[c] = &chunkState{NeedsFull: true, Priority: e.nextPri}
	e.dropUnsub(c)
}

// Unsubscribe forgets coords. Chunks the client already has are announced
// with MapChunkUnsubscribe on the next Flush. A later Subscribe always
// re-sends the full chunk.
func (e *Engine) Unsubscribe(coords ...protocol.ChunkCoord) {
	for _, c := range coords {
		st, ok := e.states[c]
		if !ok {
			continue
		}
		delete(e.states, c)
		if st.SentFull {
			e.unsub = append(e.unsub, c)
		}
	}
}

func (e *Engine) dropUnsub(c protocol.ChunkCoord) {
	for i, u := range e.unsub {
		if u == c {
			e.unsub = append(e.unsub[:i], e.unsub[i+1:]...)
			return
		}
	}
}

// Retarget subscribes the wanted chunks in priority order and unsubscribes
// everything else.
func (e *Engine) Retarget(wanted []protocol.ChunkCoord) {
	want := make(map[protocol.ChunkCoord]int, len(wanted))
	for i, c := range wanted {
		want[c] = i
	}
	var drop []protocol.ChunkCoord
	for c := range e.states {
		if _, ok := want[c]; !ok {
			drop = append(drop, c)
		}
	}
	sort.Slice(drop, func(i, j int) bool { return less(drop[i], drop[j]) })
	e.Unsubscribe(drop...)
	for i, c := range wanted {
		e.Subscribe(c)
		e.states[c].Priority = i
	}
	e.nextPri = len(wanted)
}

func (e *Engine) Subscribed(c protocol.ChunkCoord) bool {
	_, ok := e.states[c]
	return ok
}

// NotifyBlockChanged queues a delta if the client holds the owning chunk.
// Anything else is dropped: the next full send will carry the change.
func (e *Engine) NotifyBlockChanged(b protocol.BlockCoord, newID uint32) {
	st, ok := e.states[b.Chunk()]
	if !ok || !st.SentFull || st.NeedsFull {
		e.stats.DeltasDropped++
		return
	}
	if st.Pending == nil {
		st.Pending = map[int]uint32{}
	}
	st.Pending[b.Offset()] = newID
}

// Resync forces a full re-send of every subscribed chunk, for when change
// notifications were lost.
func (e *Engine) Resync() {
	for _, st := range e.states {
		if st.SentFull {
			st.NeedsFull = true
		}
		st.Pending = nil
	}
}

// SetPacing records the client's count of received but unprocessed chunks.
func (e *Engine) SetPacing(pending uint32) { e.pacing = pending }

func (e *Engine) Pacing() uint32 { return e.pacing }

func (e *Engine) Stats() Stats {
	s := e.stats
	s.Subscribed = len(e.states)
	for _, st := range e.states {
		if st.NeedsFull {
			s.AwaitingFull++
		}
	}
	return s
}

// Flush emits, in order: one MapChunkUnsubscribe, one MapDeltaUpdateBatch
// with every queued delta, then as many full MapChunks as pacing allows.
// Deltas are never throttled.
func (e *Engine) Flush(ctx context.Context, send func(protocol.ServerMessage) error) error {
	if len(e.unsub) > 0 {
		coords := e.unsub
		e.unsub = nil
		if err := send(&protocol.MapChunkUnsubscribe{Coords: coords}); err != nil {
			return err
		}
	}

	if batch := e.takeDeltas(); batch != nil {
		if err := send(batch); err != nil {
			return err
		}
		e.stats.DeltasSent += uint64(len(batch.Updates))
	}

	return e.sendFulls(ctx, send)
}

func (e *Engine) takeDeltas() *protocol.MapDeltaUpdateBatch {
	var keys []protocol.ChunkCoord
	for c, st := range e.states {
		if len(st.Pending) > 0 {
			keys = append(keys, c)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	batch := &protocol.MapDeltaUpdateBatch{}
	for _, c := range keys {
		st := e.states[c]
		offs := make([]int, 0, len(st.Pending))
		for off := range st.Pending {
			offs = append(offs, off)
		}
		sort.Ints(offs)
		for _, off := range offs {
			batch.Updates = append(batch.Updates, protocol.MapDeltaUpdate{Block: c.Block(off), NewID: st.Pending[off]})
		}
		st.Pending = nil
	}
	return batch
}

func (e *Engine) sendFulls(ctx context.Context, send func(protocol.ServerMessage) error) error {
	var queue []protocol.ChunkCoord
	for c, st := range e.states {
		if st.NeedsFull {
			queue = append(queue, c)
		}
	}
	if len(queue) == 0 {
		return nil
	}
	sort.Slice(queue, func(i, j int) bool {
		pi, pj := e.states[queue[i]].Priority, e.states[queue[j]].Priority
		if pi != pj {
			return pi < pj
		}
		return less(queue[i], queue[j])
	})

	budget := e.cfg.MaxFullPerFlush
	for _, c := range queue {
		if budget == 0 || e.pacing > e.cfg.MaxPendingChunks {
			return nil
		}
		if !e.limiter.Allow() {
			return nil
		}
		ids, err := e.src.Snapshot(ctx, c)
		if err != nil {
			return fmt.Errorf("snapshot %v: %w", c, err)
		}
		data, err := protocol.EncodeChunkData(ids)
		if err != nil {
			return fmt.Errorf("encode %v: %w", c, err)
		}
		if err := send(&protocol.MapChunk{Coord: c, Data: data}); err != nil {
			return err
		}
		st := e.states[c]
		st.SentFull = true
		st.NeedsFull = false
		st.Pending = nil
		e.stats.FullsSent++
		// Count our own send until the client reports again.
		e.pacing++
		budget--
	}
	return nil
}
