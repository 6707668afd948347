package session

import "voxelwire.io/internal/protocol"

type State uint8

const (
	Unauthenticated State = iota
	Authenticating
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Active:
		return "active"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// flow is the authentication sub-flow selected by StartAuth.
type flow uint8

const (
	flowNone flow = iota
	flowRegister
	flowLogin
)

// legal reports whether a message of kind k may arrive in state s. While
// Authenticating only the continuation matching the selected flow is legal.
func legal(s State, f flow, k protocol.Kind) bool {
	if k == protocol.KindClientBugCheck {
		return s != Closed
	}
	switch s {
	case Unauthenticated:
		return k == protocol.KindStartAuth
	case Authenticating:
		switch f {
		case flowRegister:
			return k == protocol.KindClientRegistrationUpload
		case flowLogin:
			return k == protocol.KindClientLoginCredential
		}
		return false
	case Active:
		switch k {
		case protocol.KindClientUpdate,
			protocol.KindNop,
			protocol.KindDigAction,
			protocol.KindTapAction,
			protocol.KindPlaceAction,
			protocol.KindInteractKeyAction,
			protocol.KindInventoryAction,
			protocol.KindPopupResponse:
			return true
		}
	}
	return false
}
