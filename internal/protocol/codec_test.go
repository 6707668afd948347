package protocol

import (
	"errors"
	"testing"
)

func TestClientEnvelopeRoundTrip(t *testing.T) {
	in := ClientEnvelope{
		Sequence:   42,
		ClientTick: 1000,
		Msg: &PlaceAction{
			Coord:    BlockCoord{X: 1, Y: -2, Z: 3},
			Anchor:   BlockCoord{X: 1, Y: -3, Z: 3},
			ItemSlot: 4,
		},
	}
	b, err := EncodeClient(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeClient(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Sequence != 42 || out.ClientTick != 1000 {
		t.Fatalf("header mismatch: %+v", out)
	}
	pa, ok := out.Msg.(*PlaceAction)
	if !ok {
		t.Fatalf("got %T, want *PlaceAction", out.Msg)
	}
	if pa.Coord != (BlockCoord{X: 1, Y: -2, Z: 3}) || pa.Anchor != (BlockCoord{X: 1, Y: -3, Z: 3}) || pa.ItemSlot != 4 {
		t.Fatalf("body mismatch: %+v", pa)
	}
	if pa.Position != nil {
		t.Fatalf("expected nil position")
	}
}

func TestKindIsFirstByte(t *testing.T) {
	b, err := EncodeServer(ServerEnvelope{Tick: 7, Msg: &HandledSequence{Sequence: 3}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if Kind(b[0]) != KindHandledSequence || b[1] != 7 {
		t.Fatalf("unexpected header bytes: %v", b[:2])
	}
}

func TestDecodeUnknownKindKeepsHeader(t *testing.T) {
	// kind 77, sequence 9, client_tick 1, empty map body.
	frame := []byte{77, 9, 1, 0x80}
	env, err := DecodeClient(frame)
	var uk *UnknownKindError
	if !errors.As(err, &uk) {
		t.Fatalf("expected UnknownKindError, got %v", err)
	}
	if uk.Kind != 77 {
		t.Fatalf("kind=%d", uk.Kind)
	}
	if env.Sequence != 9 || env.Msg != nil {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestDecodeTruncatedHeader(t *testing.T) {
	if _, err := DecodeClient([]byte{byte(KindNop), 1}); err == nil {
		t.Fatalf("expected error for missing client_tick")
	}
	if _, err := DecodeServer(nil); err == nil {
		t.Fatalf("expected error for empty frame")
	}
}

func TestDecodeBadBody(t *testing.T) {
	frame := []byte{byte(KindStartAuth), 1, 0, 0xc1}
	if _, err := DecodeClient(frame); err == nil {
		t.Fatalf("expected body decode error")
	}
}

func TestServerInventoryUpdateRoundTrip(t *testing.T) {
	inv := Inventory{Height: 1, Width: 2, Contents: []ItemStack{
		{ItemName: "default:dirt", Quantity: 12, MaxStack: 256, Stackable: true},
		{},
	}}
	b, err := EncodeServer(ServerEnvelope{Tick: 5, Msg: &InventoryUpdate{ViewID: 3, Inventory: inv, CanTake: true}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, err := DecodeServer(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	u := env.Msg.(*InventoryUpdate)
	if env.Tick != 5 || u.ViewID != 3 || !u.CanTake || u.CanPlace {
		t.Fatalf("unexpected update: %+v", u)
	}
	if !u.Inventory.Valid() || u.Inventory.Contents[0].Quantity != 12 || !u.Inventory.Contents[1].IsEmpty() {
		t.Fatalf("unexpected inventory: %+v", u.Inventory)
	}
}
