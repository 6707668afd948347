// Package snapshot stores the edited chunks of a world so a restart does not
// lose player changes. Untouched chunks are regenerated from the seed.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelwire.io/internal/protocol"
)

const Version = 1

type Header struct {
	Version int       `json:"version"`
	Seed    int64     `json:"seed"`
	SavedAt time.Time `json:"saved_at"`
	Chunks  int       `json:"chunks"`

	// Digest of the block catalog the ids refer to.
	BlocksDigest string `json:"blocks_digest"`
}

type SnapshotV1 struct {
	Header Header
	Chunks []ChunkV1
}

type ChunkV1 struct {
	Coord  protocol.ChunkCoord
	Blocks []uint32
}

// Write stores snap at path as a JSON header line followed by a gob body,
// all zstd compressed. The file is replaced atomically.
func Write(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	snap.Header.Version = Version
	snap.Header.Chunks = len(snap.Chunks)

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if err := writeBody(enc, snap); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func writeBody(enc *zstd.Encoder, snap SnapshotV1) error {
	bw := bufio.NewWriterSize(enc, 256*1024)
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return bw.Flush()
}

func Read(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line is for humans (zstdcat | head -1); gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d, want %d", snap.Header.Version, Version)
	}
	for _, c := range snap.Chunks {
		if len(c.Blocks) != protocol.ChunkVolume {
			return snap, fmt.Errorf("chunk %v has %d blocks", c.Coord, len(c.Blocks))
		}
	}
	return snap, nil
}

// PathFor names a snapshot file by its save time.
func PathFor(dir string, t time.Time) string {
	return filepath.Join(dir, strconv.FormatInt(t.UnixMilli(), 10)+".snap.zst")
}

// Latest returns the newest snapshot in dir, or "" if there is none.
func Latest(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTS int64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || ts > bestTS {
			bestTS = ts
			best = filepath.Join(dir, name)
		}
	}
	return best
}

// Prune deletes all but the newest keep snapshots in dir.
func Prune(dir string, keep int) error {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range ents {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".snap.zst") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return nil
	}
	sort.Slice(names, func(i, j int) bool {
		a, _ := strconv.ParseInt(strings.TrimSuffix(names[i], ".snap.zst"), 10, 64)
		b, _ := strconv.ParseInt(strings.TrimSuffix(names[j], ".snap.zst"), 10, 64)
		return a > b
	})
	for _, n := range names[keep:] {
		if err := os.Remove(filepath.Join(dir, n)); err != nil {
			return err
		}
	}
	return nil
}
