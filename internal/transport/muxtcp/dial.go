package muxtcp

import (
	"context"
	"fmt"
	"net"

	"github.com/hashicorp/yamux"

	"voxelwire.io/internal/catalogsvc"
)

// ClientConn is the client end of a muxtcp connection.
type ClientConn struct {
	mux     *yamux.Session
	Session *FrameConn
}

// Dial connects, sends the preamble and opens the session stream.
func Dial(ctx context.Context, addr string) (*ClientConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(Preamble); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("write preamble: %w", err)
	}
	mux, err := yamux.Client(conn, yamuxConfig())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	stream, err := mux.Open()
	if err != nil {
		_ = mux.Close()
		return nil, fmt.Errorf("open session stream: %w", err)
	}
	return &ClientConn{mux: mux, Session: NewFrameConn(stream)}, nil
}

// Catalog opens a new stream for catalog RPCs.
func (c *ClientConn) Catalog() (*catalogsvc.Client, error) {
	stream, err := c.mux.Open()
	if err != nil {
		return nil, fmt.Errorf("open rpc stream: %w", err)
	}
	return catalogsvc.NewClient(stream), nil
}

func (c *ClientConn) Close() error { return c.mux.Close() }
