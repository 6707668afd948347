package protocol

type ServerRegistrationResponse struct {
	Opaque []byte `msgpack:"resp"`
}

// RegistrationComplete tells the client to start a login flow.
type RegistrationComplete struct{}

type ServerLoginResponse struct {
	Opaque []byte `msgpack:"resp"`
}

type AuthSuccess struct {
	SessionID string `msgpack:"session"`
}

// HandledSequence: every client message with sequence <= Sequence has been
// fully processed.
type HandledSequence struct {
	Sequence uint64 `msgpack:"seq"`
}

// SetClientState carries the player's position, the view backing the hotbar
// and the always-loaded inventory popup.
type SetClientState struct {
	Position       PlayerPosition `msgpack:"pos"`
	HotbarViewID   uint64         `msgpack:"hotbar_view"`
	InventoryPopup ShowPopup      `msgpack:"inv_popup"`
}

// MapChunk carries zstd-compressed block ids, see EncodeChunkData.
type MapChunk struct {
	Coord ChunkCoord `msgpack:"coord"`
	Data  []byte     `msgpack:"data"`
}

type MapDeltaUpdate struct {
	Block BlockCoord `msgpack:"block"`
	NewID uint32     `msgpack:"id"`
}

type MapDeltaUpdateBatch struct {
	Updates []MapDeltaUpdate `msgpack:"updates"`
}

type MapChunkUnsubscribe struct {
	Coords []ChunkCoord `msgpack:"coords"`
}

type InventoryUpdate struct {
	ViewID    uint64    `msgpack:"view"`
	Inventory Inventory `msgpack:"inv"`
	CanPlace  bool      `msgpack:"can_place"`
	CanTake   bool      `msgpack:"can_take"`
	TakeExact bool      `msgpack:"take_exact"`
}

type PopupButton struct {
	Key   string `msgpack:"key"`
	Label string `msgpack:"label"`
}

type ShowPopup struct {
	PopupID uint64        `msgpack:"popup"`
	Title   string        `msgpack:"title"`
	ViewIDs []uint64      `msgpack:"views,omitempty"`
	Buttons []PopupButton `msgpack:"buttons,omitempty"`
}

// ActionRejected reports a validation failure for the client message with
// the given sequence. The session stays open.
type ActionRejected struct {
	Sequence uint64 `msgpack:"seq"`
	Code     string `msgpack:"code"`
	Message  string `msgpack:"msg,omitempty"`
}

// Disconnect is the last message before the server closes the stream.
type Disconnect struct {
	Code   string `msgpack:"code"`
	Reason string `msgpack:"reason,omitempty"`
}

func (*ServerRegistrationResponse) Kind() Kind { return KindServerRegistrationResponse }
func (*RegistrationComplete) Kind() Kind       { return KindRegistrationComplete }
func (*ServerLoginResponse) Kind() Kind        { return KindServerLoginResponse }
func (*AuthSuccess) Kind() Kind                { return KindAuthSuccess }
func (*HandledSequence) Kind() Kind            { return KindHandledSequence }
func (*SetClientState) Kind() Kind             { return KindSetClientState }
func (*MapChunk) Kind() Kind                   { return KindMapChunk }
func (*MapDeltaUpdateBatch) Kind() Kind        { return KindMapDeltaUpdateBatch }
func (*MapChunkUnsubscribe) Kind() Kind        { return KindMapChunkUnsubscribe }
func (*InventoryUpdate) Kind() Kind            { return KindInventoryUpdate }
func (*ShowPopup) Kind() Kind                  { return KindShowPopup }
func (*ActionRejected) Kind() Kind             { return KindActionRejected }
func (*Disconnect) Kind() Kind                 { return KindDisconnect }

func (*ServerRegistrationResponse) serverMessage() {}
func (*RegistrationComplete) serverMessage()       {}
func (*ServerLoginResponse) serverMessage()        {}
func (*AuthSuccess) serverMessage()                {}
func (*HandledSequence) serverMessage()            {}
func (*SetClientState) serverMessage()             {}
func (*MapChunk) serverMessage()                   {}
func (*MapDeltaUpdateBatch) serverMessage()        {}
func (*MapChunkUnsubscribe) serverMessage()        {}
func (*InventoryUpdate) serverMessage()            {}
func (*ShowPopup) serverMessage()                  {}
func (*ActionRejected) serverMessage()             {}
func (*Disconnect) serverMessage()                 {}
