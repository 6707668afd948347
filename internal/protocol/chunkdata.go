package protocol

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	zOnce sync.Once
	zEnc  *zstd.Encoder
	zDec  *zstd.Decoder
)

func codecs() (*zstd.Encoder, *zstd.Decoder) {
	zOnce.Do(func() {
		// nil writer/reader: EncodeAll/DecodeAll only, safe for concurrent use.
		zEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		zDec, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(ChunkVolume*4*2))
	})
	return zEnc, zDec
}

// EncodeChunkData packs ChunkVolume block ids as uint32 LE and compresses them.
func EncodeChunkData(ids []uint32) ([]byte, error) {
	if len(ids) != ChunkVolume {
		return nil, fmt.Errorf("chunk data: got %d ids, want %d", len(ids), ChunkVolume)
	}
	raw := make([]byte, ChunkVolume*4)
	for i, id := range ids {
		binary.LittleEndian.PutUint32(raw[i*4:], id)
	}
	enc, _ := codecs()
	return enc.EncodeAll(raw, make([]byte, 0, 512)), nil
}

func DecodeChunkData(data []byte) ([]uint32, error) {
	_, dec := codecs()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("chunk data: %w", err)
	}
	if len(raw) != ChunkVolume*4 {
		return nil, fmt.Errorf("chunk data: got %d bytes, want %d", len(raw), ChunkVolume*4)
	}
	ids := make([]uint32, ChunkVolume)
	for i := range ids {
		ids[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return ids, nil
}
