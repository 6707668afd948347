package session

import (
	"errors"
	"fmt"

	"voxelwire.io/internal/protocol"
)

// ProtocolError is fatal: the session sends Disconnect and closes.
type ProtocolError struct {
	Code   string
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error " + e.Code + ": " + e.Reason }

func protocolErr(code, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// ValidationError rejects a single client message. The session continues.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return "rejected " + e.Code + ": " + e.Message }

func validationErr(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// TransportError wraps a failed read or write on the underlying stream.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// rejecter is implemented by collaborator errors that map onto a wire code.
type rejecter interface {
	error
	RejectCode() string
}

// asValidation turns collaborator rejections into a ValidationError.
func asValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	var r rejecter
	if errors.As(err, &r) {
		code := r.RejectCode()
		if !protocol.IsKnownCode(code) {
			code = protocol.ErrInternal
		}
		return &ValidationError{Code: code, Message: r.Error()}, true
	}
	return nil, false
}

// fatal reports whether err must end the session.
func fatal(err error) bool {
	var pe *ProtocolError
	var te *TransportError
	return errors.As(err, &pe) || errors.As(err, &te)
}
