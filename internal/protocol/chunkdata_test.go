package protocol

import "testing"

func TestChunkDataRoundTrip(t *testing.T) {
	ids := make([]uint32, ChunkVolume)
	for i := range ids {
		if i%7 == 0 {
			ids[i] = uint32(i) << BlockVariantBits
		}
	}
	data, err := EncodeChunkData(ids)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) >= ChunkVolume*4 {
		t.Fatalf("expected compression, got %d bytes", len(data))
	}
	got, err := DecodeChunkData(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range ids {
		if got[i] != ids[i] {
			t.Fatalf("id %d: got %d want %d", i, got[i], ids[i])
		}
	}
}

func TestChunkDataWrongLength(t *testing.T) {
	if _, err := EncodeChunkData(make([]uint32, 10)); err == nil {
		t.Fatalf("expected length error")
	}
	if _, err := DecodeChunkData([]byte("not zstd")); err == nil {
		t.Fatalf("expected decode error")
	}
}
