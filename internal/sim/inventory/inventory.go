package inventory

import (
	"fmt"

	"github.com/google/uuid"

	"voxelwire.io/internal/protocol"
)

// Key identifies a persistent inventory.
type Key uuid.UUID

func NewKey() Key { return Key(uuid.New()) }

func ParseKey(b []byte) (Key, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return Key{}, fmt.Errorf("inventory key: %w", err)
	}
	return Key(u), nil
}

func (k Key) Bytes() []byte  { b := uuid.UUID(k); return b[:] }
func (k Key) String() string { return uuid.UUID(k).String() }
func (k Key) IsZero() bool   { return k == Key{} }

// New returns an empty height x width inventory.
func New(height, width uint32) (protocol.Inventory, error) {
	if height == 0 || width == 0 || uint64(height)*uint64(width) > 1<<16 {
		return protocol.Inventory{}, fmt.Errorf("bad inventory dimensions %dx%d", height, width)
	}
	return protocol.Inventory{
		Height:   height,
		Width:    width,
		Contents: make([]protocol.ItemStack, int(height)*int(width)),
	}, nil
}

// Clone deep-copies inv.
func Clone(inv protocol.Inventory) protocol.Inventory {
	out := inv
	out.Contents = append([]protocol.ItemStack(nil), inv.Contents...)
	return out
}

// TryInsert merges s into existing stacks first, then into the first empty
// slot. It returns what did not fit.
func TryInsert(inv *protocol.Inventory, s protocol.ItemStack) protocol.ItemStack {
	for i := range inv.Contents {
		if s.IsEmpty() {
			return s
		}
		if inv.Contents[i].IsEmpty() {
			continue
		}
		s = TryMerge(&inv.Contents[i], s)
	}
	if s.IsEmpty() {
		return s
	}
	for i := range inv.Contents {
		if inv.Contents[i].IsEmpty() {
			inv.Contents[i] = s
			return protocol.ItemStack{}
		}
	}
	return s
}
