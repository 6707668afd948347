package protocol

const (
	// Session/transport. Fatal: the session is closed after the Disconnect.
	ErrProtoViolation = "E_PROTO_VIOLATION"
	ErrProtoBadFrame  = "E_PROTO_BAD_FRAME"
	ErrAuthFailed     = "E_AUTH_FAILED"
	ErrAuthTimeout    = "E_AUTH_TIMEOUT"
	ErrShutdown       = "E_SHUTDOWN"

	// Action layer. Reported with ActionRejected; the session continues.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrBadSlot      = "E_BAD_SLOT"
	ErrBadCount     = "E_BAD_COUNT"
	ErrNoPermission = "E_NO_PERMISSION"
	ErrNotFound     = "E_NOT_FOUND"
	ErrNoSpace      = "E_NO_SPACE"
	ErrConflict     = "E_CONFLICT"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoViolation: {},
	ErrProtoBadFrame:  {},
	ErrAuthFailed:     {},
	ErrAuthTimeout:    {},
	ErrShutdown:       {},
	ErrBadRequest:     {},
	ErrBadSlot:        {},
	ErrBadCount:       {},
	ErrNoPermission:   {},
	ErrNotFound:       {},
	ErrNoSpace:        {},
	ErrConflict:       {},
	ErrInternal:       {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
