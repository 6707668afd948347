package inventory

import (
	"errors"
	"reflect"
	"testing"

	"voxelwire.io/internal/protocol"
)

type fixture struct {
	mgr      *Manager
	reg      *Registry
	srcKey   Key
	dstKey   Key
	src, dst ViewID
}

func newFixture(t *testing.T, srcCaps, dstCaps Caps) *fixture {
	t.Helper()
	mgr := NewManager(nil)
	a, err := mgr.Make(1, 4)
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	b, err := mgr.Make(1, 4)
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	f := &fixture{mgr: mgr, reg: NewRegistry(mgr), srcKey: a, dstKey: b, src: NextViewID(), dst: NextViewID()}
	if _, err := f.reg.Publish(View{ID: f.src, Backing: Stored{Key: a}, Caps: srcCaps}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := f.reg.Publish(View{ID: f.dst, Backing: Stored{Key: b}, Caps: dstCaps}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	return f
}

func (f *fixture) set(t *testing.T, key Key, slot int, s protocol.ItemStack) {
	t.Helper()
	if err := f.mgr.Mutate(key, func(inv *protocol.Inventory) error {
		inv.Contents[slot] = s
		return nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
}

func (f *fixture) snapshot(t *testing.T) (protocol.Inventory, protocol.Inventory) {
	t.Helper()
	a, err := f.mgr.Get(f.srcKey)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, err := f.mgr.Get(f.dstKey)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return a, b
}

var rw = Caps{CanPlace: true, CanTake: true}

func expectCode(t *testing.T, err error, code string) {
	t.Helper()
	var ve *Error
	if !errors.As(err, &ve) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if ve.Code != code {
		t.Fatalf("code=%s want %s", ve.Code, code)
	}
}

func TestTransferMoreThanAvailableRejected(t *testing.T) {
	f := newFixture(t, rw, rw)
	f.set(t, f.srcKey, 0, dirt(3))
	beforeA, beforeB := f.snapshot(t)

	_, err := f.reg.ApplyTransfer(protocol.InventoryAction{
		SourceView: uint64(f.src), SourceSlot: 0,
		DestView: uint64(f.dst), DestSlot: 0,
		Count: 5,
	})
	expectCode(t, err, protocol.ErrBadCount)

	afterA, afterB := f.snapshot(t)
	if !reflect.DeepEqual(beforeA, afterA) || !reflect.DeepEqual(beforeB, afterB) {
		t.Fatalf("inventories changed on rejected transfer")
	}
}

func TestTransferPartial(t *testing.T) {
	f := newFixture(t, rw, rw)
	f.set(t, f.srcKey, 0, dirt(10))
	f.set(t, f.dstKey, 1, dirt(1))
	ups, err := f.reg.ApplyTransfer(protocol.InventoryAction{
		SourceView: uint64(f.src), DestView: uint64(f.dst), DestSlot: 1, Count: 4,
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if len(ups) != 2 || ups[0].ViewID != uint64(f.src) || ups[1].ViewID != uint64(f.dst) {
		t.Fatalf("unexpected updates: %+v", ups)
	}
	a, b := f.snapshot(t)
	if a.Contents[0].Quantity != 6 || b.Contents[1].Quantity != 5 {
		t.Fatalf("a=%+v b=%+v", a.Contents, b.Contents)
	}
	if !a.Valid() || !b.Valid() {
		t.Fatalf("cardinality broken")
	}
}

func TestTransferIntoIncompatibleSlotRejected(t *testing.T) {
	f := newFixture(t, rw, rw)
	f.set(t, f.srcKey, 0, dirt(3))
	f.set(t, f.dstKey, 0, protocol.ItemStack{ItemName: "default:stone", Quantity: 1, MaxStack: 256, Stackable: true})
	beforeA, beforeB := f.snapshot(t)
	_, err := f.reg.ApplyTransfer(protocol.InventoryAction{SourceView: uint64(f.src), DestView: uint64(f.dst)})
	expectCode(t, err, protocol.ErrConflict)
	afterA, afterB := f.snapshot(t)
	if !reflect.DeepEqual(beforeA, afterA) || !reflect.DeepEqual(beforeB, afterB) {
		t.Fatalf("inventories changed on rejected transfer")
	}
}

func TestTransferCapabilities(t *testing.T) {
	f := newFixture(t, Caps{CanPlace: true}, rw)
	f.set(t, f.srcKey, 0, dirt(3))
	_, err := f.reg.ApplyTransfer(protocol.InventoryAction{SourceView: uint64(f.src), DestView: uint64(f.dst)})
	expectCode(t, err, protocol.ErrNoPermission)

	g := newFixture(t, rw, Caps{CanTake: true})
	g.set(t, g.srcKey, 0, dirt(3))
	_, err = g.reg.ApplyTransfer(protocol.InventoryAction{SourceView: uint64(g.src), DestView: uint64(g.dst)})
	expectCode(t, err, protocol.ErrNoPermission)
}

func TestTransferBadSlotAndView(t *testing.T) {
	f := newFixture(t, rw, rw)
	f.set(t, f.srcKey, 0, dirt(3))
	_, err := f.reg.ApplyTransfer(protocol.InventoryAction{SourceView: uint64(f.src), DestView: uint64(f.dst), DestSlot: 4})
	expectCode(t, err, protocol.ErrBadSlot)
	_, err = f.reg.ApplyTransfer(protocol.InventoryAction{SourceView: 1 << 60, DestView: uint64(f.dst)})
	expectCode(t, err, protocol.ErrNotFound)
	a, _ := f.snapshot(t)
	if a.Contents[0].Quantity != 3 {
		t.Fatalf("source changed")
	}
}

func TestTakeExactRejectsPartial(t *testing.T) {
	f := newFixture(t, Caps{CanTake: true, TakeExact: true}, rw)
	f.set(t, f.srcKey, 0, dirt(3))
	_, err := f.reg.ApplyTransfer(protocol.InventoryAction{SourceView: uint64(f.src), DestView: uint64(f.dst), Count: 2})
	expectCode(t, err, protocol.ErrBadCount)
	if _, err := f.reg.ApplyTransfer(protocol.InventoryAction{SourceView: uint64(f.src), DestView: uint64(f.dst), Count: 3}); err != nil {
		t.Fatalf("full take: %v", err)
	}
	a, b := f.snapshot(t)
	if !a.Contents[0].IsEmpty() || b.Contents[0].Quantity != 3 {
		t.Fatalf("a=%+v b=%+v", a.Contents[0], b.Contents[0])
	}
}

func TestTransferWearItemMovesWhole(t *testing.T) {
	f := newFixture(t, rw, rw)
	pick := protocol.ItemStack{ItemName: "default:pickaxe", Quantity: 120}
	f.set(t, f.srcKey, 0, pick)
	if _, err := f.reg.ApplyTransfer(protocol.InventoryAction{SourceView: uint64(f.src), DestView: uint64(f.dst), DestSlot: 2, Count: 1}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	a, b := f.snapshot(t)
	if !a.Contents[0].IsEmpty() || b.Contents[2] != pick {
		t.Fatalf("a=%+v b=%+v", a.Contents[0], b.Contents[2])
	}
	// Counts above the wear value are not an error either.
	if _, err := f.reg.ApplyTransfer(protocol.InventoryAction{SourceView: uint64(f.dst), SourceSlot: 2, DestView: uint64(f.src), Count: 500}); err != nil {
		t.Fatalf("transfer back: %v", err)
	}
	if a, _ := f.snapshot(t); a.Contents[0] != pick {
		t.Fatalf("a=%+v", a.Contents[0])
	}
}

func TestSwapIgnoresCount(t *testing.T) {
	f := newFixture(t, rw, rw)
	stone := protocol.ItemStack{ItemName: "default:stone", Quantity: 7, MaxStack: 256, Stackable: true}
	f.set(t, f.srcKey, 2, dirt(3))
	f.set(t, f.dstKey, 1, stone)
	if _, err := f.reg.ApplyTransfer(protocol.InventoryAction{
		SourceView: uint64(f.src), SourceSlot: 2, DestView: uint64(f.dst), DestSlot: 1, Count: 99, Swap: true,
	}); err != nil {
		t.Fatalf("swap: %v", err)
	}
	a, b := f.snapshot(t)
	if a.Contents[2] != stone || b.Contents[1] != dirt(3) {
		t.Fatalf("a=%+v b=%+v", a.Contents[2], b.Contents[1])
	}
}

func TestSwapNeedsFullCapabilities(t *testing.T) {
	f := newFixture(t, rw, Caps{CanPlace: true})
	f.set(t, f.srcKey, 0, dirt(3))
	_, err := f.reg.ApplyTransfer(protocol.InventoryAction{SourceView: uint64(f.src), DestView: uint64(f.dst), Swap: true})
	expectCode(t, err, protocol.ErrNoPermission)
}

func TestTransientView(t *testing.T) {
	f := newFixture(t, rw, rw)
	f.set(t, f.srcKey, 0, dirt(3))
	slot, _ := New(1, 1)
	tr := &Transient{Inv: slot}
	cursor := NextViewID()
	if _, err := f.reg.Publish(View{ID: cursor, Backing: tr, Caps: rw}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ups, err := f.reg.ApplyTransfer(protocol.InventoryAction{SourceView: uint64(f.src), DestView: uint64(cursor), Count: 2})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if len(ups) != 2 || ups[1].Inventory.Contents[0].Quantity != 2 {
		t.Fatalf("unexpected updates %+v", ups)
	}
	inv, ok := f.reg.Remove(cursor)
	if !ok || inv.Contents[0].Quantity != 2 {
		t.Fatalf("transient contents lost: %+v", inv)
	}
}

func TestRefreshSelectsBackedViews(t *testing.T) {
	f := newFixture(t, rw, rw)
	ups, err := f.reg.Refresh([]Key{f.dstKey})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(ups) != 1 || ups[0].ViewID != uint64(f.dst) {
		t.Fatalf("unexpected updates %+v", ups)
	}
}

func TestManagerBroadcast(t *testing.T) {
	mgr := NewManager(nil)
	key, err := mgr.Make(1, 1)
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	sub := mgr.Subscribe()
	for i := 0; i < 3; i++ {
		if err := mgr.Mutate(key, func(inv *protocol.Inventory) error { return nil }); err != nil {
			t.Fatalf("mutate: %v", err)
		}
	}
	select {
	case <-sub.C:
	default:
		t.Fatalf("expected signal")
	}
	keys := sub.Drain()
	if len(keys) != 1 || keys[0] != key {
		t.Fatalf("keys=%v", keys)
	}
	mgr.Unsubscribe(sub)
	_ = mgr.Mutate(key, func(inv *protocol.Inventory) error { return nil })
	if keys := sub.Drain(); len(keys) != 0 {
		t.Fatalf("unsubscribed subscription received %v", keys)
	}
}

func TestManagerRejectsShapeChange(t *testing.T) {
	mgr := NewManager(nil)
	key, _ := mgr.Make(2, 2)
	err := mgr.Mutate(key, func(inv *protocol.Inventory) error {
		inv.Contents = inv.Contents[:3]
		return nil
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	inv, _ := mgr.Get(key)
	if len(inv.Contents) != 4 {
		t.Fatalf("store changed: %d", len(inv.Contents))
	}
}
