package client

import (
	"context"

	"voxelwire.io/internal/protocol"
)

// Update reports position and pacing. A nil pos leaves the position alone.
func (c *Client) Update(pos *protocol.PlayerPosition, pendingChunks uint32) (uint64, error) {
	return c.Send(&protocol.ClientUpdate{Position: pos, Pacing: protocol.ClientPacing{PendingChunks: pendingChunks}})
}

func (c *Client) Dig(coord protocol.BlockCoord, slot uint32) (uint64, error) {
	return c.Send(&protocol.DigAction{Coord: coord, PrevCoord: coord, ItemSlot: slot})
}

func (c *Client) Tap(coord protocol.BlockCoord, slot uint32) (uint64, error) {
	return c.Send(&protocol.TapAction{Coord: coord, PrevCoord: coord, ItemSlot: slot})
}

// Place puts the held item at coord; anchor is the face it was placed against.
func (c *Client) Place(coord, anchor protocol.BlockCoord, slot uint32) (uint64, error) {
	return c.Send(&protocol.PlaceAction{Coord: coord, Anchor: anchor, ItemSlot: slot})
}

func (c *Client) Interact(coord protocol.BlockCoord, slot uint32) (uint64, error) {
	return c.Send(&protocol.InteractKeyAction{Coord: coord, ItemSlot: slot})
}

func (c *Client) MoveItems(srcView uint64, srcSlot uint32, dstView uint64, dstSlot uint32, count uint32, swap bool) (uint64, error) {
	return c.Send(&protocol.InventoryAction{
		SourceView: srcView,
		SourceSlot: srcSlot,
		DestView:   dstView,
		DestSlot:   dstSlot,
		Count:      count,
		Swap:       swap,
	})
}

func (c *Client) ClickButton(popupID uint64, key string) (uint64, error) {
	return c.Send(&protocol.PopupResponse{PopupID: popupID, ClickedButton: key})
}

func (c *Client) BugCheck(desc, details string) (uint64, error) {
	return c.Send(&protocol.ClientBugCheck{Description: desc, Details: details})
}

// Do calls send and waits for the message it sent to be handled.
func (c *Client) Do(ctx context.Context, send func() (uint64, error)) error {
	seq, err := send()
	if err != nil {
		return err
	}
	return c.WaitHandled(ctx, seq)
}
