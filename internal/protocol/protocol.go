package protocol

// Version is advertised in the WebSocket subprotocol and the TCP preamble.
const Version = "1.0"

// Kind is the stable oneof tag of a message. Numbers are part of the wire
// contract: never renumber, only append.
type Kind uint64

// Client -> server kinds.
const (
	KindStartAuth                Kind = 1
	KindClientRegistrationUpload Kind = 2
	KindClientLoginCredential    Kind = 3

	KindClientUpdate Kind = 10
	KindNop          Kind = 11

	KindDigAction         Kind = 20
	KindTapAction         Kind = 21
	KindPlaceAction       Kind = 22
	KindInteractKeyAction Kind = 23
	KindInventoryAction   Kind = 24
	KindPopupResponse     Kind = 25

	KindClientBugCheck Kind = 90
)

// Server -> client kinds.
const (
	KindServerRegistrationResponse Kind = 1
	KindRegistrationComplete       Kind = 2
	KindServerLoginResponse        Kind = 3
	KindAuthSuccess                Kind = 4

	KindHandledSequence Kind = 10
	KindSetClientState  Kind = 11

	KindMapChunk            Kind = 20
	KindMapDeltaUpdateBatch Kind = 21
	KindMapChunkUnsubscribe Kind = 22

	KindInventoryUpdate Kind = 30
	KindShowPopup       Kind = 31

	KindActionRejected Kind = 40

	KindDisconnect Kind = 90
)

// ClientMessage is one variant of the client -> server union.
type ClientMessage interface {
	Kind() Kind
	clientMessage()
}

// ServerMessage is one variant of the server -> client union.
type ServerMessage interface {
	Kind() Kind
	serverMessage()
}

// ClientEnvelope wraps every client -> server message.
// Sequence is chosen by the client and must strictly increase.
type ClientEnvelope struct {
	Sequence   uint64
	ClientTick uint64
	Msg        ClientMessage
}

// ServerEnvelope wraps every server -> client message.
type ServerEnvelope struct {
	Tick uint64
	Msg  ServerMessage
}

func newClientMessage(k Kind) ClientMessage {
	switch k {
	case KindStartAuth:
		return &StartAuth{}
	case KindClientRegistrationUpload:
		return &ClientRegistrationUpload{}
	case KindClientLoginCredential:
		return &ClientLoginCredential{}
	case KindClientUpdate:
		return &ClientUpdate{}
	case KindNop:
		return &Nop{}
	case KindDigAction:
		return &DigAction{}
	case KindTapAction:
		return &TapAction{}
	case KindPlaceAction:
		return &PlaceAction{}
	case KindInteractKeyAction:
		return &InteractKeyAction{}
	case KindInventoryAction:
		return &InventoryAction{}
	case KindPopupResponse:
		return &PopupResponse{}
	case KindClientBugCheck:
		return &ClientBugCheck{}
	}
	return nil
}

func newServerMessage(k Kind) ServerMessage {
	switch k {
	case KindServerRegistrationResponse:
		return &ServerRegistrationResponse{}
	case KindRegistrationComplete:
		return &RegistrationComplete{}
	case KindServerLoginResponse:
		return &ServerLoginResponse{}
	case KindAuthSuccess:
		return &AuthSuccess{}
	case KindHandledSequence:
		return &HandledSequence{}
	case KindSetClientState:
		return &SetClientState{}
	case KindMapChunk:
		return &MapChunk{}
	case KindMapDeltaUpdateBatch:
		return &MapDeltaUpdateBatch{}
	case KindMapChunkUnsubscribe:
		return &MapChunkUnsubscribe{}
	case KindInventoryUpdate:
		return &InventoryUpdate{}
	case KindShowPopup:
		return &ShowPopup{}
	case KindActionRejected:
		return &ActionRejected{}
	case KindDisconnect:
		return &Disconnect{}
	}
	return nil
}
