package auth

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// DeriveVerifier stretches a password with argon2id. The server never sees
// the password itself.
func DeriveVerifier(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, VerifierSize)
}

// RegistrationUpload answers a registration response (the salt).
func RegistrationUpload(password string, response []byte) ([]byte, error) {
	if len(response) != SaltSize {
		return nil, fmt.Errorf("%w: salt is %d bytes", ErrBadPayload, len(response))
	}
	return DeriveVerifier(password, response), nil
}

// NewLoginRequest returns a fresh client nonce to send in StartAuth.
func NewLoginRequest() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

// LoginCredential answers a login response (salt ‖ server nonce).
func LoginCredential(password string, request, response []byte) ([]byte, error) {
	if len(response) != SaltSize+NonceSize {
		return nil, fmt.Errorf("%w: login response is %d bytes", ErrBadPayload, len(response))
	}
	salt, snonce := response[:SaltSize], response[SaltSize:]
	transcript := make([]byte, 0, len(request)+NonceSize)
	transcript = append(transcript, request...)
	transcript = append(transcript, snonce...)
	return signTranscript(DeriveVerifier(password, salt), transcript), nil
}
