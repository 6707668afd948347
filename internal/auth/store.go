package auth

import (
	"context"
	"errors"
	"sync"

	"voxelwire.io/internal/persistence/indexdb"
)

// SQLStore adapts the sqlite index to CredentialStore.
type SQLStore struct {
	DB *indexdb.SQLiteIndex
}

func (s SQLStore) CreateUser(ctx context.Context, username string, salt, verifier []byte) error {
	err := s.DB.CreateUser(ctx, username, salt, verifier)
	if errors.Is(err, indexdb.ErrUserExists) {
		return ErrUserExists
	}
	return err
}

func (s SQLStore) LookupUser(ctx context.Context, username string) ([]byte, []byte, bool, error) {
	salt, ver, err := s.DB.LookupUser(ctx, username)
	if errors.Is(err, indexdb.ErrNoUser) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	return salt, ver, true, nil
}

type memUser struct {
	salt, verifier []byte
}

// MemStore is an in-memory CredentialStore.
type MemStore struct {
	mu    sync.Mutex
	users map[string]memUser
}

func NewMemStore() *MemStore {
	return &MemStore{users: map[string]memUser{}}
}

func (m *MemStore) CreateUser(_ context.Context, username string, salt, verifier []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return ErrUserExists
	}
	m.users[username] = memUser{
		salt:     append([]byte(nil), salt...),
		verifier: append([]byte(nil), verifier...),
	}
	return nil
}

func (m *MemStore) LookupUser(_ context.Context, username string) ([]byte, []byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, nil, false, nil
	}
	return u.salt, u.verifier, true, nil
}
