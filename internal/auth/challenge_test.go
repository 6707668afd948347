package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"voxelwire.io/internal/persistence/indexdb"
)

func register(t *testing.T, a Authenticator, user, pw string) {
	t.Helper()
	ctx := context.Background()
	resp, flow, err := a.StartRegistration(ctx, user, nil)
	if err != nil {
		t.Fatalf("start registration: %v", err)
	}
	up, err := RegistrationUpload(pw, resp)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := flow.Finish(ctx, up); err != nil {
		t.Fatalf("finish registration: %v", err)
	}
}

func loginAs(a Authenticator, user, pw string) error {
	ctx := context.Background()
	req, err := NewLoginRequest()
	if err != nil {
		return err
	}
	resp, flow, err := a.StartLogin(ctx, user, req)
	if err != nil {
		return err
	}
	cred, err := LoginCredential(pw, req, resp)
	if err != nil {
		return err
	}
	return flow.Finish(ctx, cred)
}

func TestChallenge_RegisterThenLogin(t *testing.T) {
	a := NewChallenge(NewMemStore(), nil)
	register(t, a, "alice", "hunter2")

	if err := loginAs(a, "alice", "hunter2"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := loginAs(a, "alice", "wrong"); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("wrong password: err=%v want ErrAuthFailed", err)
	}
}

func TestChallenge_UnknownUserLooksLikeWrongPassword(t *testing.T) {
	a := NewChallenge(NewMemStore(), []byte("secret"))
	req, _ := NewLoginRequest()
	resp1, flow, err := a.StartLogin(context.Background(), "ghost", req)
	if err != nil {
		t.Fatalf("start login for unknown user should not fail early: %v", err)
	}
	resp2, _, _ := a.StartLogin(context.Background(), "ghost", req)
	if string(resp1[:SaltSize]) != string(resp2[:SaltSize]) {
		t.Fatalf("decoy salt must be stable per username")
	}
	cred, _ := LoginCredential("anything", req, resp1)
	if err := flow.Finish(context.Background(), cred); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("err=%v want ErrAuthFailed", err)
	}
}

func TestChallenge_DuplicateRegistration(t *testing.T) {
	a := NewChallenge(NewMemStore(), nil)
	register(t, a, "bob", "pw")
	if _, _, err := a.StartRegistration(context.Background(), "bob", nil); !errors.Is(err, ErrUserExists) {
		t.Fatalf("err=%v want ErrUserExists", err)
	}
}

func TestChallenge_BadPayloads(t *testing.T) {
	a := NewChallenge(NewMemStore(), nil)
	ctx := context.Background()
	if _, _, err := a.StartLogin(ctx, "bob", []byte("short")); !errors.Is(err, ErrBadPayload) {
		t.Fatalf("short nonce: err=%v", err)
	}
	if _, _, err := a.StartRegistration(ctx, "bad name!", nil); !errors.Is(err, ErrBadPayload) {
		t.Fatalf("bad username: err=%v", err)
	}
	_, flow, err := a.StartRegistration(ctx, "carol", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := flow.Finish(ctx, []byte{1, 2, 3}); !errors.Is(err, ErrBadPayload) {
		t.Fatalf("short verifier: err=%v", err)
	}
}

func TestChallenge_SQLStore(t *testing.T) {
	db, err := indexdb.OpenSQLite(filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	a := NewChallenge(SQLStore{DB: db}, nil)
	register(t, a, "dave", "pw")
	if err := loginAs(a, "dave", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, _, err := a.StartRegistration(context.Background(), "dave", nil); !errors.Is(err, ErrUserExists) {
		t.Fatalf("err=%v want ErrUserExists", err)
	}
}
