package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"voxelwire.io/internal/protocol"
	"voxelwire.io/internal/session"
)

// Subprotocol is negotiated on upgrade; clients that offer nothing are accepted.
const Subprotocol = "voxelwire." + protocol.Version

type Server struct {
	ctx      context.Context
	sessions *session.Server
	log      *log.Logger

	upgrader websocket.Upgrader
}

// NewServer serves sessions over WebSocket. Sessions end when ctx is done.
func NewServer(ctx context.Context, sessions *session.Server, logger *log.Logger) *Server {
	s := &Server{
		ctx:      ctx,
		sessions: sessions,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			Subprotocols:    []string{Subprotocol},
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		conn.SetReadLimit(protocol.MaxFrameSize)
		if err := s.sessions.Serve(s.ctx, NewConn(conn)); err != nil {
			s.log.Printf("ws %s: %v", r.RemoteAddr, err)
		}
	}
}

// Conn adapts a websocket connection to session.Conn: one binary message per
// frame.
type Conn struct {
	ws *websocket.Conn
}

func NewConn(ws *websocket.Conn) *Conn { return &Conn{ws: ws} }

var errTextFrame = errors.New("ws: text frames are not part of the protocol")

func (c *Conn) ReadFrame() ([]byte, error) {
	typ, b, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	if typ != websocket.BinaryMessage {
		return nil, errTextFrame
	}
	return b, nil
}

func (c *Conn) WriteFrame(b []byte) error {
	return c.ws.WriteMessage(websocket.BinaryMessage, b)
}

func (c *Conn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
func (c *Conn) RemoteAddr() string                 { return c.ws.RemoteAddr().String() }

func (c *Conn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.ws.Close()
}
