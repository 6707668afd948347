package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"voxelwire.io/internal/persistence/s3mirror"
	"voxelwire.io/internal/persistence/snapshot"
	"voxelwire.io/internal/sim/world"
)

type worldSnapshots struct {
	dir          string
	seed         int64
	blocksDigest string
	keep         int
	chunks       *world.ChunkStore
	log          *log.Logger
	mirror       *s3mirror.Mirror

	mu sync.Mutex // serializes save and prune
}

// restore loads the newest snapshot into the chunk store. A snapshot taken
// with another seed or block catalog is ignored, since its ids would be wrong.
func (w *worldSnapshots) restore() error {
	path := snapshot.Latest(w.dir)
	if path == "" {
		return nil
	}
	snap, err := snapshot.Read(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if snap.Header.Seed != w.seed || snap.Header.BlocksDigest != w.blocksDigest {
		w.log.Printf("snapshot %s: seed=%d blocks=%s do not match the running world; starting fresh",
			path, snap.Header.Seed, shortDigest(snap.Header.BlocksDigest))
		return nil
	}
	chunks := make([]world.Chunk, 0, len(snap.Chunks))
	for _, c := range snap.Chunks {
		chunks = append(chunks, world.Chunk{Coord: c.Coord, Blocks: c.Blocks})
	}
	if err := w.chunks.Restore(chunks); err != nil {
		return err
	}
	w.log.Printf("restored %d edited chunks from %s (saved %s)", len(chunks), path, snap.Header.SavedAt.Format(time.RFC3339))
	return nil
}

// save writes the edited chunks and returns the file path and chunk count.
// Nothing is written while the world is untouched.
func (w *worldSnapshots) save(now time.Time) (string, int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	edited := w.chunks.Edited()
	if len(edited) == 0 {
		return "", 0, nil
	}
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Seed: w.seed, SavedAt: now.UTC(), BlocksDigest: w.blocksDigest},
		Chunks: make([]snapshot.ChunkV1, 0, len(edited)),
	}
	for _, c := range edited {
		snap.Chunks = append(snap.Chunks, snapshot.ChunkV1{Coord: c.Coord, Blocks: c.Blocks})
	}
	path := snapshot.PathFor(w.dir, now)
	if err := snapshot.Write(path, snap); err != nil {
		return "", 0, err
	}
	w.mirror.Enqueue(path)
	if w.keep > 0 {
		if err := snapshot.Prune(w.dir, w.keep); err != nil {
			return path, len(edited), err
		}
	}
	return path, len(edited), nil
}

func (w *worldSnapshots) run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if _, _, err := w.save(now); err != nil {
				w.log.Printf("snapshot: %v", err)
			}
		}
	}
}
