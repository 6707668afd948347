package protocol

// StartAuth (client -> server): first message of every session.
type StartAuth struct {
	Username      string `msgpack:"user"`
	Register      bool   `msgpack:"register"`
	OpaqueRequest []byte `msgpack:"req"`
}

type ClientRegistrationUpload struct {
	Upload []byte `msgpack:"upload"`
}

type ClientLoginCredential struct {
	Credential []byte `msgpack:"cred"`
}

// ClientPacing reports how many chunks the client has received but not yet
// processed.
type ClientPacing struct {
	PendingChunks uint32 `msgpack:"pending"`
}

type ClientUpdate struct {
	Position *PlayerPosition `msgpack:"pos,omitempty"`
	Pacing   ClientPacing    `msgpack:"pacing"`
}

type Nop struct{}

type DigAction struct {
	Coord     BlockCoord      `msgpack:"coord"`
	PrevCoord BlockCoord      `msgpack:"prev"`
	ItemSlot  uint32          `msgpack:"slot"`
	Position  *PlayerPosition `msgpack:"pos,omitempty"`
}

type TapAction struct {
	Coord     BlockCoord      `msgpack:"coord"`
	PrevCoord BlockCoord      `msgpack:"prev"`
	ItemSlot  uint32          `msgpack:"slot"`
	Position  *PlayerPosition `msgpack:"pos,omitempty"`
}

type PlaceAction struct {
	Coord    BlockCoord      `msgpack:"coord"`
	Anchor   BlockCoord      `msgpack:"anchor"`
	ItemSlot uint32          `msgpack:"slot"`
	Position *PlayerPosition `msgpack:"pos,omitempty"`
}

type InteractKeyAction struct {
	Coord    BlockCoord      `msgpack:"coord"`
	ItemSlot uint32          `msgpack:"slot"`
	Position *PlayerPosition `msgpack:"pos,omitempty"`
}

type InventoryAction struct {
	SourceView uint64 `msgpack:"src_view"`
	SourceSlot uint32 `msgpack:"src_slot"`
	DestView   uint64 `msgpack:"dst_view"`
	DestSlot   uint32 `msgpack:"dst_slot"`
	Count      uint32 `msgpack:"count"`
	Swap       bool   `msgpack:"swap"`
}

type PopupResponse struct {
	PopupID       uint64            `msgpack:"popup"`
	ClickedButton string            `msgpack:"button,omitempty"`
	TextFields    map[string]string `msgpack:"fields,omitempty"`
	Closed        bool              `msgpack:"closed"`
}

// ClientBugCheck is diagnostic only and legal in every state.
type ClientBugCheck struct {
	Description string `msgpack:"desc"`
	Details     string `msgpack:"details,omitempty"`
}

func (*StartAuth) Kind() Kind                { return KindStartAuth }
func (*ClientRegistrationUpload) Kind() Kind { return KindClientRegistrationUpload }
func (*ClientLoginCredential) Kind() Kind    { return KindClientLoginCredential }
func (*ClientUpdate) Kind() Kind             { return KindClientUpdate }
func (*Nop) Kind() Kind                      { return KindNop }
func (*DigAction) Kind() Kind                { return KindDigAction }
func (*TapAction) Kind() Kind                { return KindTapAction }
func (*PlaceAction) Kind() Kind              { return KindPlaceAction }
func (*InteractKeyAction) Kind() Kind        { return KindInteractKeyAction }
func (*InventoryAction) Kind() Kind          { return KindInventoryAction }
func (*PopupResponse) Kind() Kind            { return KindPopupResponse }
func (*ClientBugCheck) Kind() Kind           { return KindClientBugCheck }

func (*StartAuth) clientMessage()                {}
func (*ClientRegistrationUpload) clientMessage() {}
func (*ClientLoginCredential) clientMessage()    {}
func (*ClientUpdate) clientMessage()             {}
func (*Nop) clientMessage()                      {}
func (*DigAction) clientMessage()                {}
func (*TapAction) clientMessage()                {}
func (*PlaceAction) clientMessage()              {}
func (*InteractKeyAction) clientMessage()        {}
func (*InventoryAction) clientMessage()          {}
func (*PopupResponse) clientMessage()            {}
func (*ClientBugCheck) clientMessage()           {}
