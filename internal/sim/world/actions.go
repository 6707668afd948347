package world

import (
	"errors"
	"fmt"
	"log"

	"voxelwire.io/internal/protocol"
	"voxelwire.io/internal/sim/catalogs"
	"voxelwire.io/internal/sim/inventory"
)

// Error is a rejected player action. The world is unchanged.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string      { return e.Code + ": " + e.Message }
func (e *Error) RejectCode() string { return e.Code }

func reject(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Player is what the world needs to know about the acting player.
type Player struct {
	Name          string
	MainInventory inventory.Key
}

// Actions applies dig/tap/place/interact to the chunk store and the
// player's inventory. Safe for concurrent use.
type Actions struct {
	Chunks      *ChunkStore
	Catalogs    *catalogs.Catalogs
	Inventories *inventory.Manager
	Logger      *log.Logger
}

func (a *Actions) held(p Player, slot uint32) (protocol.ItemStack, protocol.ItemDef, error) {
	inv, err := a.Inventories.Get(p.MainInventory)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			return protocol.ItemStack{}, protocol.ItemDef{}, reject(protocol.ErrNotFound, "main inventory of %s", p.Name)
		}
		return protocol.ItemStack{}, protocol.ItemDef{}, err
	}
	if slot >= inv.Width || int(slot) >= len(inv.Contents) {
		return protocol.ItemStack{}, protocol.ItemDef{}, reject(protocol.ErrBadSlot, "hotbar slot %d out of range", slot)
	}
	stack := inv.Contents[slot]
	if stack.IsEmpty() {
		return stack, protocol.ItemDef{}, nil
	}
	def, ok := a.Catalogs.Items.Get(stack.ItemName)
	if !ok {
		// Unknown items dig like an empty hand.
		return stack, protocol.ItemDef{}, nil
	}
	return stack, def, nil
}

func (a *Actions) Dig(p Player, d *protocol.DigAction) error {
	held, item, err := a.held(p, d.ItemSlot)
	if err != nil {
		return err
	}
	id := a.Chunks.GetBlock(d.Coord)
	block, ok := a.Catalogs.Blocks.Get(id)
	if !ok {
		return reject(protocol.ErrNotFound, "block id %d at %v", id, d.Coord)
	}
	if block.ShortName == protocol.AirBlockName {
		return reject(protocol.ErrBadRequest, "nothing to dig at %v", d.Coord)
	}
	rule, ok := item.MatchRule(block.Groups)
	if !ok {
		return reject(protocol.ErrNoPermission, "%s cannot dig %s", orHand(item), block.ShortName)
	}
	if _, ok := rule.DigSeconds(block); !ok {
		return reject(protocol.ErrNoPermission, "%s cannot dig %s", orHand(item), block.ShortName)
	}
	wear := item.Quantity.Kind == protocol.QuantityWear && !held.IsEmpty()
	var drop protocol.ItemStack
	if block.DropItem != "" {
		if def, ok := a.Catalogs.Items.Get(block.DropItem); ok {
			drop = inventory.NewStack(def, 1)
		}
	}
	remove := func() error {
		if _, ok := a.Chunks.CompareAndSet(d.Coord, func(cur uint32) bool { return cur == id }, 0); !ok {
			return reject(protocol.ErrConflict, "block at %v changed", d.Coord)
		}
		return nil
	}
	if !wear && drop.IsEmpty() {
		return remove()
	}
	// The block is removed under the inventory lock and put back if the
	// inventory write fails.
	cleared := false
	err = a.Inventories.Mutate(p.MainInventory, func(inv *protocol.Inventory) error {
		if err := remove(); err != nil {
			return err
		}
		cleared = true
		if wear {
			s := &inv.Contents[d.ItemSlot]
			if s.ItemName == held.ItemName {
				*s = inventory.Decrement(*s)
			}
		}
		if left := inventory.TryInsert(inv, drop); !left.IsEmpty() && a.Logger != nil {
			a.Logger.Printf("dig: %s inventory full, dropped %d %s", p.Name, left.Quantity, left.ItemName)
		}
		return nil
	})
	if err != nil {
		if !cleared {
			return err
		}
		a.Chunks.CompareAndSet(d.Coord, func(cur uint32) bool { return cur == 0 }, id)
		return fmt.Errorf("dig: update inventory: %w", err)
	}
	return nil
}

// Place puts the held item's block into the empty cell at pl.Coord and
// consumes one item. pl.Anchor is the face that was clicked.
func (a *Actions) Place(p Player, pl *protocol.PlaceAction) error {
	held, item, err := a.held(p, pl.ItemSlot)
	if err != nil {
		return err
	}
	if held.IsEmpty() {
		return reject(protocol.ErrBadRequest, "slot %d is empty", pl.ItemSlot)
	}
	if item.PlaceBlock == "" {
		return reject(protocol.ErrBadRequest, "%s is not placeable", held.ItemName)
	}
	block, ok := a.Catalogs.Blocks.Lookup(item.PlaceBlock)
	if !ok {
		return reject(protocol.ErrNotFound, "block %q", item.PlaceBlock)
	}
	air, _ := a.Catalogs.Blocks.Lookup(protocol.AirBlockName)
	placed := false
	err = a.Inventories.Mutate(p.MainInventory, func(inv *protocol.Inventory) error {
		s := &inv.Contents[pl.ItemSlot]
		if s.IsEmpty() || s.ItemName != held.ItemName {
			return reject(protocol.ErrConflict, "slot %d changed", pl.ItemSlot)
		}
		if _, ok := a.Chunks.CompareAndSet(pl.Coord, func(cur uint32) bool { return cur == air.ID }, block.ID); !ok {
			return reject(protocol.ErrConflict, "%v is occupied", pl.Coord)
		}
		placed = true
		*s = inventory.Decrement(*s)
		return nil
	})
	if err != nil && placed {
		a.Chunks.CompareAndSet(pl.Coord, func(cur uint32) bool { return cur == block.ID }, air.ID)
		return fmt.Errorf("place: update inventory: %w", err)
	}
	return err
}

// Tap is a left-click that is not a dig. The reference world has no tap
// handlers, so it only validates the slot and the target block.
func (a *Actions) Tap(p Player, t *protocol.TapAction) error {
	if _, _, err := a.held(p, t.ItemSlot); err != nil {
		return err
	}
	if _, ok := a.Catalogs.Blocks.Get(a.Chunks.GetBlock(t.Coord)); !ok {
		return reject(protocol.ErrNotFound, "block at %v", t.Coord)
	}
	return nil
}

// Interact is the interact key on a block. No reference block defines an
// interaction, so this validates and reports not found.
func (a *Actions) Interact(p Player, k *protocol.InteractKeyAction) error {
	if _, _, err := a.held(p, k.ItemSlot); err != nil {
		return err
	}
	block, ok := a.Catalogs.Blocks.Get(a.Chunks.GetBlock(k.Coord))
	if !ok {
		return reject(protocol.ErrNotFound, "block at %v", k.Coord)
	}
	return reject(protocol.ErrNotFound, "%s has no interaction", block.ShortName)
}

func orHand(d protocol.ItemDef) string {
	if d.ShortName == "" {
		return "hand"
	}
	return d.ShortName
}
