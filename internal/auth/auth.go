// Package auth implements the challenge/response handshake that runs inside
// the session stream. Payloads are opaque to the session layer; it only
// forwards them between the client and an Authenticator.
package auth

import (
	"context"
	"errors"
)

var (
	// ErrAuthFailed covers every credential mismatch. Callers must not tell
	// an unknown user apart from a wrong password.
	ErrAuthFailed = errors.New("auth: authentication failed")
	ErrUserExists = errors.New("auth: user already registered")
	ErrBadPayload = errors.New("auth: malformed payload")
)

// Authenticator runs the two-message-pair registration and login exchanges.
type Authenticator interface {
	StartRegistration(ctx context.Context, username string, request []byte) (response []byte, flow RegistrationFlow, err error)
	StartLogin(ctx context.Context, username string, request []byte) (response []byte, flow LoginFlow, err error)
}

// RegistrationFlow completes a registration with the client's upload.
type RegistrationFlow interface {
	Finish(ctx context.Context, upload []byte) error
}

// LoginFlow completes a login with the client's credential.
type LoginFlow interface {
	Finish(ctx context.Context, credential []byte) error
}

// CredentialStore persists per-user salt and verifier records.
type CredentialStore interface {
	CreateUser(ctx context.Context, username string, salt, verifier []byte) error
	// LookupUser returns found=false for an unknown username.
	LookupUser(ctx context.Context, username string) (salt, verifier []byte, found bool, err error)
}

// ValidUsername accepts 1..32 bytes of [A-Za-z0-9_.-].
func ValidUsername(name string) bool {
	if len(name) == 0 || len(name) > 32 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_', c == '.', c == '-':
		default:
			return false
		}
	}
	return true
}
