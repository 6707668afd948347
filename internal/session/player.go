package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voxelwire.io/internal/persistence/invdb"
	"voxelwire.io/internal/protocol"
	"voxelwire.io/internal/sim/inventory"
	"voxelwire.io/internal/sim/world"
)

const (
	mainInventoryHeight = 4
	mainInventoryWidth  = 8

	buttonEmptyTrash = "empty_trash"
)

type popup struct {
	id      uint64
	title   string
	views   []inventory.ViewID
	buttons []protocol.PopupButton

	// Transient slot cleared by the empty_trash button and on close.
	trash inventory.ViewID
}

func (p *popup) show() protocol.ShowPopup {
	ids := make([]uint64, len(p.views))
	for i, v := range p.views {
		ids[i] = uint64(v)
	}
	return protocol.ShowPopup{PopupID: p.id, Title: p.title, ViewIDs: ids, Buttons: p.buttons}
}

// activate loads or creates the player, subscribes to world and inventory
// changes and sends the initial client state.
func (s *Session) activate(ctx context.Context) error {
	deps := s.srv.deps
	rec, err := deps.Players.LoadPlayer(s.username)
	switch {
	case errors.Is(err, invdb.ErrNoPlayer):
		key, err := deps.Inventories.Make(mainInventoryHeight, mainInventoryWidth)
		if err != nil {
			return internalErr("create inventory: %v", err)
		}
		rec = invdb.Player{Name: s.username, MainInventory: key.Bytes(), Position: deps.Spawn}
		if err := deps.Players.SavePlayer(rec); err != nil {
			return internalErr("save player: %v", err)
		}
		s.log.Printf("new player %s", s.username)
	case err != nil:
		return internalErr("load player: %v", err)
	}
	key, err := inventory.ParseKey(rec.MainInventory)
	if err != nil {
		return internalErr("player %s: %v", s.username, err)
	}
	main, err := deps.Inventories.Get(key)
	if err != nil {
		return internalErr("player %s main inventory: %v", s.username, err)
	}

	s.player = world.Player{Name: s.username, MainInventory: key}
	s.position = rec.Position
	s.lastWriteback = time.Now()
	s.hotbarWidth = main.Width

	// Subscribe before the first snapshot so no change falls in between.
	s.invSub = deps.Inventories.Subscribe()
	s.mailbox = deps.Chunks.Hub().Subscribe(s.cfg.MailboxSize)
	s.state, s.flow = Active, flowNone

	if err := s.send(ctx, &protocol.AuthSuccess{SessionID: s.id}); err != nil {
		return err
	}

	s.hotbar = inventory.NextViewID()
	mainView := inventory.NextViewID()
	trash, _ := inventory.New(1, 1)
	s.nextPopup++
	inv := &popup{
		id:      s.nextPopup,
		title:   "Inventory",
		views:   []inventory.ViewID{mainView},
		buttons: []protocol.PopupButton{{Key: buttonEmptyTrash, Label: "Empty trash"}},
		trash:   inventory.NextViewID(),
	}
	inv.views = append(inv.views, inv.trash)
	s.popups[inv.id] = inv

	for _, v := range []inventory.View{
		{ID: s.hotbar, Backing: inventory.Stored{Key: key}},
		{ID: mainView, Backing: inventory.Stored{Key: key}, Caps: inventory.Caps{CanPlace: true, CanTake: true}},
		{ID: inv.trash, Backing: &inventory.Transient{Inv: trash}, Caps: inventory.Caps{CanPlace: true, CanTake: true}},
	} {
		u, err := s.views.Publish(v)
		if err != nil {
			return internalErr("publish view %d: %v", v.ID, err)
		}
		if err := s.send(ctx, u); err != nil {
			return err
		}
	}

	if err := s.send(ctx, &protocol.SetClientState{
		Position:       s.position,
		HotbarViewID:   uint64(s.hotbar),
		InventoryPopup: inv.show(),
	}); err != nil {
		return err
	}
	s.retarget()
	return nil
}

func internalErr(format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: protocol.ErrInternal, Reason: fmt.Sprintf(format, args...)}
}

func (s *Session) updatePosition(p *protocol.PlayerPosition) {
	if p == nil {
		return
	}
	s.position = *p
	s.retarget()
}

// retarget recomputes the wanted chunk set when the player changes chunk.
func (s *Session) retarget() {
	c := s.position.Position.BlockCoord().Chunk()
	if s.centered && c == s.center {
		return
	}
	s.center, s.centered = c, true
	s.maps.Retarget(s.srv.deps.Selector.Wanted(c))
}

func (s *Session) savePlayer() {
	rec := invdb.Player{Name: s.username, MainInventory: s.player.MainInventory.Bytes(), Position: s.position}
	if err := s.srv.deps.Players.SavePlayer(rec); err != nil {
		s.log.Printf("save player: %v", err)
	}
}

func (s *Session) popupResponse(ctx context.Context, m *protocol.PopupResponse) error {
	p, ok := s.popups[m.PopupID]
	if !ok {
		return validationErr(protocol.ErrNotFound, "popup %d", m.PopupID)
	}
	if m.Closed {
		// The inventory popup stays loaded; closing it only empties the trash.
		return s.emptyTrash(ctx, p)
	}
	if m.ClickedButton == "" {
		return nil
	}
	for _, b := range p.buttons {
		if b.Key != m.ClickedButton {
			continue
		}
		if b.Key == buttonEmptyTrash {
			return s.emptyTrash(ctx, p)
		}
		return nil
	}
	return validationErr(protocol.ErrBadRequest, "popup %d has no button %q", p.id, m.ClickedButton)
}

func (s *Session) emptyTrash(ctx context.Context, p *popup) error {
	if p.trash == 0 {
		return nil
	}
	v, ok := s.views.Get(p.trash)
	if !ok {
		return nil
	}
	t, ok := v.Backing.(*inventory.Transient)
	if !ok {
		return nil
	}
	empty := true
	for _, st := range t.Inv.Contents {
		if !st.IsEmpty() {
			empty = false
		}
	}
	if empty {
		return nil
	}
	cleared, _ := inventory.New(t.Inv.Height, t.Inv.Width)
	u, err := s.views.Publish(inventory.View{ID: v.ID, Backing: &inventory.Transient{Inv: cleared}, Caps: v.Caps})
	if err != nil {
		return err
	}
	return s.send(ctx, u)
}
