package inventory

import "voxelwire.io/internal/protocol"

// NewStack creates a stack whose stacking rules are fixed from def.
// Later changes to def do not affect the returned stack. A zero quantity
// means one item, or full wear for wear-based items.
func NewStack(def protocol.ItemDef, quantity uint32) protocol.ItemStack {
	s := protocol.ItemStack{ItemName: def.ShortName, Quantity: quantity}
	if def.Quantity.Kind == protocol.QuantityStack {
		s.MaxStack = def.Quantity.Value
		s.Stackable = true
	}
	if s.Quantity == 0 {
		s.Quantity = 1
		if def.Quantity.Kind == protocol.QuantityWear {
			s.Quantity = def.Quantity.Value
		}
	}
	return s
}

// TryMerge moves as much of src into dst as fits and returns what is left.
// An empty dst takes src whole. Stacks with MaxStack == 0 never merge.
func TryMerge(dst *protocol.ItemStack, src protocol.ItemStack) (leftover protocol.ItemStack) {
	if src.IsEmpty() {
		return protocol.ItemStack{}
	}
	if dst.IsEmpty() {
		*dst = src
		return protocol.ItemStack{}
	}
	if dst.MaxStack == 0 || src.MaxStack == 0 || dst.ItemName != src.ItemName {
		return src
	}
	space := uint32(0)
	if dst.MaxStack > dst.Quantity {
		space = dst.MaxStack - dst.Quantity
	}
	move := min(src.Quantity, space)
	dst.Quantity += move
	if src.Quantity == move {
		return protocol.ItemStack{}
	}
	src.Quantity -= move
	return src
}

// TryMergeAll merges src into dst only if all of it fits.
func TryMergeAll(dst *protocol.ItemStack, src protocol.ItemStack) bool {
	if src.IsEmpty() {
		return true
	}
	if dst.IsEmpty() {
		*dst = src
		return true
	}
	if dst.MaxStack == 0 || src.MaxStack == 0 || dst.ItemName != src.ItemName {
		return false
	}
	if dst.MaxStack < dst.Quantity || dst.MaxStack-dst.Quantity < src.Quantity {
		return false
	}
	dst.Quantity += src.Quantity
	return true
}

// TakeItems removes up to count items from s; count 0 takes the whole stack.
// Non-stackable stacks cannot be split, so a partial take returns nothing.
func TakeItems(s *protocol.ItemStack, count uint32) protocol.ItemStack {
	if s.IsEmpty() {
		return protocol.ItemStack{}
	}
	if count == 0 {
		out := *s
		*s = protocol.ItemStack{}
		return out
	}
	if !s.Stackable {
		return protocol.ItemStack{}
	}
	if count >= s.Quantity {
		out := *s
		*s = protocol.ItemStack{}
		return out
	}
	out := *s
	out.Quantity = count
	s.Quantity -= count
	return out
}

// TryTakeAll removes exactly count items or nothing; count 0 takes the whole stack.
func TryTakeAll(s *protocol.ItemStack, count uint32) (protocol.ItemStack, bool) {
	if s.IsEmpty() {
		return protocol.ItemStack{}, false
	}
	if count == 0 || count == s.Quantity {
		out := *s
		*s = protocol.ItemStack{}
		return out, true
	}
	if !s.Stackable || count > s.Quantity {
		return protocol.ItemStack{}, false
	}
	out := *s
	out.Quantity = count
	s.Quantity -= count
	return out, true
}

// Decrement returns s with one item removed, or an empty stack.
func Decrement(s protocol.ItemStack) protocol.ItemStack {
	if s.Quantity <= 1 {
		return protocol.ItemStack{}
	}
	s.Quantity--
	return s
}
