package inventory

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"voxelwire.io/internal/protocol"
)

type ViewID uint64

var viewCounter atomic.Uint64

// NextViewID returns a process-wide unique view id, starting at 1.
func NextViewID() ViewID { return ViewID(viewCounter.Add(1)) }

// Backing is where a view's slots live: Stored or *Transient.
type Backing interface {
	backing()
}

// Stored views alias a persistent inventory.
type Stored struct {
	Key Key
}

// Transient views hold items that exist only for the life of the view.
type Transient struct {
	Inv protocol.Inventory
}

func (Stored) backing()     {}
func (*Transient) backing() {}

type Caps struct {
	CanPlace  bool
	CanTake   bool
	TakeExact bool
}

type View struct {
	ID      ViewID
	Backing Backing
	Caps    Caps
}

// Error is a rejected view operation. Nothing was modified.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func reject(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Registry is the per-session set of inventory views. It is owned by a single
// session goroutine and is not safe for concurrent use.
type Registry struct {
	mgr   *Manager
	views map[ViewID]*View
}

func NewRegistry(mgr *Manager) *Registry {
	return &Registry{mgr: mgr, views: map[ViewID]*View{}}
}

func (r *Registry) Get(id ViewID) (*View, bool) {
	v, ok := r.views[id]
	return v, ok
}

func (r *Registry) Len() int { return len(r.views) }

// Publish upserts v and returns the InventoryUpdate describing it.
func (r *Registry) Publish(v View) (*protocol.InventoryUpdate, error) {
	if v.ID == 0 {
		return nil, fmt.Errorf("view id 0 is reserved")
	}
	if t, ok := v.Backing.(*Transient); ok && !t.Inv.Valid() {
		return nil, fmt.Errorf("view %d: transient contents do not match %dx%d", v.ID, t.Inv.Height, t.Inv.Width)
	}
	cp := v
	r.views[v.ID] = &cp
	return r.update(&cp)
}

// Remove drops a view. Transient contents are returned to the caller.
func (r *Registry) Remove(id ViewID) (protocol.Inventory, bool) {
	v, ok := r.views[id]
	if !ok {
		return protocol.Inventory{}, false
	}
	delete(r.views, id)
	if t, ok := v.Backing.(*Transient); ok {
		return t.Inv, true
	}
	return protocol.Inventory{}, true
}

// Refresh builds updates for every view backed by one of keys.
func (r *Registry) Refresh(keys []Key) ([]*protocol.InventoryUpdate, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	want := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	var out []*protocol.InventoryUpdate
	for _, id := range r.sortedIDs() {
		v := r.views[id]
		s, ok := v.Backing.(Stored)
		if !ok {
			continue
		}
		if _, ok := want[s.Key]; !ok {
			continue
		}
		u, err := r.update(v)
		if err != nil {
			return out, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (r *Registry) sortedIDs() []ViewID {
	ids := make([]ViewID, 0, len(r.views))
	for id := range r.views {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Peek returns the current contents of a view.
func (r *Registry) Peek(id ViewID) (protocol.Inventory, error) {
	v, ok := r.views[id]
	if !ok {
		return protocol.Inventory{}, reject(protocol.ErrNotFound, "view %d", id)
	}
	return r.contents(v)
}

func (r *Registry) contents(v *View) (protocol.Inventory, error) {
	switch b := v.Backing.(type) {
	case Stored:
		return r.mgr.Get(b.Key)
	case *Transient:
		return Clone(b.Inv), nil
	}
	return protocol.Inventory{}, fmt.Errorf("view %d: no backing", v.ID)
}

func (r *Registry) update(v *View) (*protocol.InventoryUpdate, error) {
	inv, err := r.contents(v)
	if err != nil {
		return nil, err
	}
	return &protocol.InventoryUpdate{
		ViewID:    uint64(v.ID),
		Inventory: inv,
		CanPlace:  v.Caps.CanPlace,
		CanTake:   v.Caps.CanTake,
		TakeExact: v.Caps.TakeExact,
	}, nil
}

// ApplyTransfer moves items between two view slots. Either both sides change
// or neither does; on success the updates for the touched views are returned.
//
// Count 0 means the whole source stack. Swap exchanges the two stacks
// wholesale, ignores count and needs both views placeable and takeable.
func (r *Registry) ApplyTransfer(a protocol.InventoryAction) ([]*protocol.InventoryUpdate, error) {
	src, ok := r.views[ViewID(a.SourceView)]
	if !ok {
		return nil, reject(protocol.ErrNotFound, "source view %d", a.SourceView)
	}
	dst, ok := r.views[ViewID(a.DestView)]
	if !ok {
		return nil, reject(protocol.ErrNotFound, "destination view %d", a.DestView)
	}
	if a.Swap {
		if !src.Caps.CanPlace || !src.Caps.CanTake || !dst.Caps.CanPlace || !dst.Caps.CanTake {
			return nil, reject(protocol.ErrNoPermission, "swap needs both views placeable and takeable")
		}
	} else {
		if !src.Caps.CanTake {
			return nil, reject(protocol.ErrNoPermission, "view %d does not allow take", src.ID)
		}
		if !dst.Caps.CanPlace {
			return nil, reject(protocol.ErrNoPermission, "view %d does not allow place", dst.ID)
		}
		if src.ID == dst.ID && a.SourceSlot == a.DestSlot {
			return nil, reject(protocol.ErrBadRequest, "source and destination are the same slot")
		}
	}

	// Resolve both sides to slices. Stored backings are mutated inside the
	// manager transaction, transient ones on copies committed afterwards.
	var keys []Key
	keyIdx := map[Key]int{}
	transient := map[*Transient]*protocol.Inventory{}
	locate := func(v *View) (key int, tr *protocol.Inventory) {
		switch b := v.Backing.(type) {
		case Stored:
			if i, ok := keyIdx[b.Key]; ok {
				return i, nil
			}
			keyIdx[b.Key] = len(keys)
			keys = append(keys, b.Key)
			return len(keys) - 1, nil
		case *Transient:
			if p, ok := transient[b]; ok {
				return -1, p
			}
			cp := Clone(b.Inv)
			transient[b] = &cp
			return -1, &cp
		}
		return -1, nil
	}
	srcKey, srcTr := locate(src)
	dstKey, dstTr := locate(dst)
	if (srcKey < 0 && srcTr == nil) || (dstKey < 0 && dstTr == nil) {
		return nil, fmt.Errorf("transfer: view without backing")
	}

	apply := func(stored []*protocol.Inventory) error {
		pick := func(k int, tr *protocol.Inventory) *protocol.Inventory {
			if k >= 0 {
				return stored[k]
			}
			return tr
		}
		sInv := pick(srcKey, srcTr)
		dInv := pick(dstKey, dstTr)
		if int(a.SourceSlot) >= len(sInv.Contents) {
			return reject(protocol.ErrBadSlot, "source slot %d out of range", a.SourceSlot)
		}
		if int(a.DestSlot) >= len(dInv.Contents) {
			return reject(protocol.ErrBadSlot, "destination slot %d out of range", a.DestSlot)
		}
		return transfer(&sInv.Contents[a.SourceSlot], &dInv.Contents[a.DestSlot], src.Caps, a)
	}

	var err error
	if len(keys) > 0 {
		err = r.mgr.MutateAtomically(keys, apply)
	} else {
		err = apply(nil)
	}
	if err != nil {
		var ve *Error
		if errors.As(err, &ve) {
			return nil, ve
		}
		if errors.Is(err, ErrNotFound) {
			return nil, reject(protocol.ErrNotFound, "%v", err)
		}
		return nil, err
	}
	for t, p := range transient {
		t.Inv = *p
	}

	touched := []*View{src}
	if dst != src {
		touched = append(touched, dst)
	}
	var out []*protocol.InventoryUpdate
	for _, v := range touched {
		u, err := r.update(v)
		if err != nil {
			return out, err
		}
		out = append(out, u)
	}
	return out, nil
}

func transfer(from, to *protocol.ItemStack, srcCaps Caps, a protocol.InventoryAction) error {
	if a.Swap {
		*from, *to = *to, *from
		return nil
	}
	if from.IsEmpty() {
		return reject(protocol.ErrBadCount, "source slot %d is empty", a.SourceSlot)
	}
	// A non-stackable stack's quantity is its wear, so it only moves whole.
	if !from.Stackable {
		a.Count = 0
	}
	if srcCaps.TakeExact && a.Count != 0 && a.Count != from.Quantity {
		return reject(protocol.ErrBadCount, "view requires taking all %d items", from.Quantity)
	}
	if a.Count > from.Quantity {
		return reject(protocol.ErrBadCount, "requested %d, slot has %d", a.Count, from.Quantity)
	}
	origFrom := *from
	taken, ok := TryTakeAll(from, a.Count)
	if !ok {
		return reject(protocol.ErrBadCount, "cannot take %d of %s", a.Count, origFrom.ItemName)
	}
	if !TryMergeAll(to, taken) {
		*from = origFrom
		return reject(protocol.ErrConflict, "destination slot %d cannot hold %s", a.DestSlot, taken.ItemName)
	}
	return nil
}

func (e *Error) RejectCode() string { return e.Code }
