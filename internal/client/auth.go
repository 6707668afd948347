package client

import (
	"context"
	"fmt"

	"voxelwire.io/internal/auth"
	"voxelwire.io/internal/protocol"
)

func (c *Client) awaitAuth(ctx context.Context) (protocol.ServerMessage, error) {
	select {
	case m := <-c.authCh:
		return m, nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return nil, err
		}
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Register runs the registration flow. The session is back in the
// unauthenticated state afterwards, ready for Login.
func (c *Client) Register(ctx context.Context, username, password string) error {
	if _, err := c.Send(&protocol.StartAuth{Username: username, Register: true}); err != nil {
		return err
	}
	m, err := c.awaitAuth(ctx)
	if err != nil {
		return err
	}
	resp, ok := m.(*protocol.ServerRegistrationResponse)
	if !ok {
		return fmt.Errorf("register: unexpected %T", m)
	}
	upload, err := auth.RegistrationUpload(password, resp.Opaque)
	if err != nil {
		return err
	}
	if _, err := c.Send(&protocol.ClientRegistrationUpload{Upload: upload}); err != nil {
		return err
	}
	m, err = c.awaitAuth(ctx)
	if err != nil {
		return err
	}
	if _, ok := m.(*protocol.RegistrationComplete); !ok {
		return fmt.Errorf("register: unexpected %T", m)
	}
	return nil
}

// Login runs the login flow and waits for the initial SetClientState.
func (c *Client) Login(ctx context.Context, username, password string) error {
	req, err := auth.NewLoginRequest()
	if err != nil {
		return err
	}
	if _, err := c.Send(&protocol.StartAuth{Username: username, OpaqueRequest: req}); err != nil {
		return err
	}
	m, err := c.awaitAuth(ctx)
	if err != nil {
		return err
	}
	resp, ok := m.(*protocol.ServerLoginResponse)
	if !ok {
		return fmt.Errorf("login: unexpected %T", m)
	}
	cred, err := auth.LoginCredential(password, req, resp.Opaque)
	if err != nil {
		return err
	}
	if _, err := c.Send(&protocol.ClientLoginCredential{Credential: cred}); err != nil {
		return err
	}
	m, err = c.awaitAuth(ctx)
	if err != nil {
		return err
	}
	if _, ok := m.(*protocol.AuthSuccess); !ok {
		return fmt.Errorf("login: unexpected %T", m)
	}
	return c.waitFor(ctx, func() bool { return c.state != nil })
}
