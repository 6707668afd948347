package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sync"
)

const (
	SaltSize     = 16
	NonceSize    = 16
	VerifierSize = 32
)

// Challenge is the reference Authenticator.
//
// Registration: request is ignored, response is a fresh salt, upload is the
// verifier derived from (password, salt).
// Login: request is the client nonce, response is salt ‖ server nonce,
// credential is HMAC-SHA256(verifier, client nonce ‖ server nonce).
type Challenge struct {
	Store CredentialStore

	// Secret seeds the decoy salt handed out for unknown users.
	Secret []byte
}

func NewChallenge(store CredentialStore, secret []byte) *Challenge {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
	}
	return &Challenge{Store: store, Secret: secret}
}

func (c *Challenge) StartRegistration(ctx context.Context, username string, request []byte) ([]byte, RegistrationFlow, error) {
	if !ValidUsername(username) {
		return nil, nil, fmt.Errorf("%w: bad username", ErrBadPayload)
	}
	_, _, found, err := c.Store.LookupUser(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	if found {
		return nil, nil, ErrUserExists
	}
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, err
	}
	return salt, &registration{store: c.Store, username: username, salt: salt}, nil
}

func (c *Challenge) StartLogin(ctx context.Context, username string, request []byte) ([]byte, LoginFlow, error) {
	if len(request) != NonceSize {
		return nil, nil, fmt.Errorf("%w: client nonce is %d bytes", ErrBadPayload, len(request))
	}
	salt, verifier, found, err := c.Store.LookupUser(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	if !found || !ValidUsername(username) {
		salt = c.decoySalt(username)
		verifier = nil
	}
	snonce := make([]byte, NonceSize)
	if _, err := rand.Read(snonce); err != nil {
		return nil, nil, err
	}
	resp := make([]byte, 0, SaltSize+NonceSize)
	resp = append(resp, salt...)
	resp = append(resp, snonce...)

	transcript := make([]byte, 0, 2*NonceSize)
	transcript = append(transcript, request...)
	transcript = append(transcript, snonce...)
	return resp, &login{verifier: verifier, transcript: transcript}, nil
}

func (c *Challenge) decoySalt(username string) []byte {
	h := hmac.New(sha256.New, c.Secret)
	_, _ = h.Write([]byte(username))
	return h.Sum(nil)[:SaltSize]
}

type registration struct {
	store    CredentialStore
	username string
	salt     []byte
	once     sync.Once
}

func (r *registration) Finish(ctx context.Context, upload []byte) error {
	if len(upload) != VerifierSize {
		return fmt.Errorf("%w: verifier is %d bytes", ErrBadPayload, len(upload))
	}
	err := ErrAuthFailed
	r.once.Do(func() {
		err = r.store.CreateUser(ctx, r.username, r.salt, upload)
	})
	return err
}

type login struct {
	verifier   []byte
	transcript []byte
}

func (l *login) Finish(_ context.Context, credential []byte) error {
	if l.verifier == nil {
		return ErrAuthFailed
	}
	if !hmac.Equal(credential, signTranscript(l.verifier, l.transcript)) {
		return ErrAuthFailed
	}
	return nil
}

func signTranscript(verifier, transcript []byte) []byte {
	h := hmac.New(sha256.New, verifier)
	_, _ = h.Write(transcript)
	return h.Sum(nil)
}
