// Package client is the client end of a session. It keeps a mirror of the
// chunks, inventory views and popups the server has sent and offers blocking
// helpers for the auth flows and for waiting on acknowledgements.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voxelwire.io/internal/catalogsvc"
	"voxelwire.io/internal/protocol"
	"voxelwire.io/internal/transport/muxtcp"
	"voxelwire.io/internal/transport/ws"
)

// Conn is a framed bidirectional stream. ws.Conn and muxtcp.FrameConn both
// satisfy it.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame([]byte) error
	SetWriteDeadline(time.Time) error
	Close() error
}

// ErrClosed is returned once the stream has ended without a Disconnect.
var ErrClosed = errors.New("client: connection closed")

// DisconnectError reports the server's Disconnect message.
type DisconnectError struct {
	Code   string
	Reason string
}

func (e *DisconnectError) Error() string {
	if e.Reason == "" {
		return "disconnected: " + e.Code
	}
	return fmt.Sprintf("disconnected: %s: %s", e.Code, e.Reason)
}

// RejectedError is the ActionRejected for one of our messages.
type RejectedError struct {
	Sequence uint64
	Code     string
	Message  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("seq %d rejected: %s %s", e.Sequence, e.Code, e.Message)
}

type Client struct {
	conn   Conn
	tcp    *muxtcp.ClientConn
	log    *log.Logger
	authCh chan protocol.ServerMessage

	writeMu sync.Mutex
	seq     uint64

	mu        sync.RWMutex
	changed   chan struct{}
	sessionID string
	state     *protocol.SetClientState
	handled   uint64
	lastTick  uint64
	chunks    map[protocol.ChunkCoord][]uint32
	views     map[uint64]protocol.InventoryUpdate
	popups    map[uint64]protocol.ShowPopup
	rejected  map[uint64]protocol.ActionRejected
	err       error

	closeOnce sync.Once
	done      chan struct{}
}

// New starts reading from conn. A nil logger discards.
func New(conn Conn, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Client{
		conn:     conn,
		log:      logger,
		authCh:   make(chan protocol.ServerMessage, 8),
		changed:  make(chan struct{}),
		chunks:   map[protocol.ChunkCoord][]uint32{},
		views:    map[uint64]protocol.InventoryUpdate{},
		popups:   map[uint64]protocol.ShowPopup{},
		rejected: map[uint64]protocol.ActionRejected{},
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// DialWS connects to a ws:// or wss:// session endpoint.
func DialWS(ctx context.Context, url string, logger *log.Logger) (*Client, error) {
	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
		Subprotocols:     []string{ws.Subprotocol},
	}
	conn, resp, err := d.DialContext(ctx, url, http.Header{})
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	conn.SetReadLimit(protocol.MaxFrameSize)
	return New(ws.NewConn(conn), logger), nil
}

// DialTCP connects to a muxtcp listener. Catalog is available on the result.
func DialTCP(ctx context.Context, addr string, logger *log.Logger) (*Client, error) {
	cc, err := muxtcp.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	c := New(cc.Session, logger)
	c.tcp = cc
	return c, nil
}

// Catalog opens a catalog RPC stream. Only TCP clients have one.
func (c *Client) Catalog() (*catalogsvc.Client, error) {
	if c.tcp == nil {
		return nil, errors.New("client: catalog RPC needs a TCP connection")
	}
	return c.tcp.Catalog()
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		if c.tcp != nil {
			_ = c.tcp.Close()
		}
	})
	<-c.done
	return err
}

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err is why the stream ended, nil while it is open.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Send writes msg with the next sequence number and returns it.
func (c *Client) Send(msg protocol.ClientMessage) (uint64, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.RLock()
	tick := c.lastTick
	c.mu.RUnlock()
	seq := c.seq + 1
	b, err := protocol.EncodeClient(protocol.ClientEnvelope{Sequence: seq, ClientTick: tick, Msg: msg})
	if err != nil {
		return 0, err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteFrame(b); err != nil {
		return 0, err
	}
	c.seq = seq
	return seq, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		b, err := c.conn.ReadFrame()
		if err != nil {
			c.fail(ErrClosed)
			return
		}
		env, err := protocol.DecodeServer(b)
		if err != nil {
			var unknown *protocol.UnknownKindError
			if errors.As(err, &unknown) {
				c.log.Printf("skipping %v", err)
				if _, err := c.BugCheck("unknown server message", err.Error()); err != nil {
					c.log.Printf("bug check: %v", err)
				}
				continue
			}
			c.fail(fmt.Errorf("client: %w", err))
			_ = c.conn.Close()
			return
		}
		if d, ok := env.Msg.(*protocol.Disconnect); ok {
			c.fail(&DisconnectError{Code: d.Code, Reason: d.Reason})
			continue
		}
		c.apply(env)
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.broadcastLocked()
	c.mu.Unlock()
}

// broadcastLocked wakes every waiter. Callers hold c.mu.
func (c *Client) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Client) apply(env protocol.ServerEnvelope) {
	switch m := env.Msg.(type) {
	case *protocol.ServerRegistrationResponse, *protocol.RegistrationComplete,
		*protocol.ServerLoginResponse, *protocol.AuthSuccess:
		select {
		case c.authCh <- m:
		default:
			c.log.Printf("dropping unexpected %T", m)
		}
		if a, ok := m.(*protocol.AuthSuccess); ok {
			c.mu.Lock()
			c.sessionID = a.SessionID
			c.mu.Unlock()
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTick = env.Tick
	switch m := env.Msg.(type) {
	case *protocol.HandledSequence:
		if m.Sequence > c.handled {
			c.handled = m.Sequence
		}
	case *protocol.SetClientState:
		st := *m
		c.state = &st
		c.popups[m.InventoryPopup.PopupID] = m.InventoryPopup
	case *protocol.MapChunk:
		ids, err := protocol.DecodeChunkData(m.Data)
		if err != nil {
			c.log.Printf("chunk %v: %v", m.Coord, err)
			return
		}
		c.chunks[m.Coord] = ids
	case *protocol.MapDeltaUpdateBatch:
		for _, u := range m.Updates {
			if ids, ok := c.chunks[u.Block.Chunk()]; ok {
				ids[u.Block.Offset()] = u.NewID
			}
		}
	case *protocol.MapChunkUnsubscribe:
		for _, cc := range m.Coords {
			delete(c.chunks, cc)
		}
	case *protocol.InventoryUpdate:
		c.views[m.ViewID] = *m
	case *protocol.ShowPopup:
		c.popups[m.PopupID] = *m
	case *protocol.ActionRejected:
		c.rejected[m.Sequence] = *m
	}
	c.broadcastLocked()
}

// waitFor blocks until cond (called with c.mu read-locked) holds.
func (c *Client) waitFor(ctx context.Context, cond func() bool) error {
	for {
		c.mu.RLock()
		ok := cond()
		err := c.err
		ch := c.changed
		c.mu.RUnlock()
		if ok {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// WaitHandled waits until the server acknowledges seq. It returns a
// *RejectedError if the message was rejected.
func (c *Client) WaitHandled(ctx context.Context, seq uint64) error {
	if err := c.waitFor(ctx, func() bool { return c.handled >= seq }); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.rejected[seq]; ok {
		return &RejectedError{Sequence: r.Sequence, Code: r.Code, Message: r.Message}
	}
	return nil
}

// WaitChunks waits until at least n chunks are loaded.
func (c *Client) WaitChunks(ctx context.Context, n int) error {
	return c.waitFor(ctx, func() bool { return len(c.chunks) >= n })
}

// WaitBlock waits until the mirrored block at b is id.
func (c *Client) WaitBlock(ctx context.Context, b protocol.BlockCoord, id uint32) error {
	return c.waitFor(ctx, func() bool {
		ids, ok := c.chunks[b.Chunk()]
		return ok && ids[b.Offset()] == id
	})
}

func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// State is the last SetClientState, or nil before login completes.
func (c *Client) State() *protocol.SetClientState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == nil {
		return nil
	}
	st := *c.state
	return &st
}

// Block returns the mirrored block id at b. ok is false when the chunk is not
// loaded.
func (c *Client) Block(b protocol.BlockCoord) (id uint32, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids, ok := c.chunks[b.Chunk()]
	if !ok {
		return 0, false
	}
	return ids[b.Offset()], true
}

func (c *Client) Chunks() []protocol.ChunkCoord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.ChunkCoord, 0, len(c.chunks))
	for cc := range c.chunks {
		out = append(out, cc)
	}
	return out
}

func (c *Client) View(id uint64) (protocol.InventoryUpdate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.views[id]
	return v, ok
}

func (c *Client) Popup(id uint64) (protocol.ShowPopup, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.popups[id]
	return p, ok
}
