// Package muxtcp serves the protocol over raw TCP. Each connection is a yamux
// session: the first stream the client opens is the session stream, every
// later stream is a JSON-RPC connection to the catalog service.
package muxtcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"time"

	"github.com/hashicorp/yamux"

	"voxelwire.io/internal/protocol"
	"voxelwire.io/internal/session"
)

// Preamble is written by the client before the yamux handshake.
var Preamble = []byte("VXW/" + protocol.Version + "\n")

type Server struct {
	sessions  *session.Server
	rpcServer *rpc.Server
	log       *log.Logger

	wg sync.WaitGroup
}

func NewServer(sessions *session.Server, rpcServer *rpc.Server, logger *log.Logger) *Server {
	return &Server{sessions: sessions, rpcServer: rpcServer, log: logger}
}

func yamuxConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.LogOutput = io.Discard
	cfg.KeepAliveInterval = 15 * time.Second
	return cfg
}

// Serve accepts connections until ctx is done or l fails, then waits for
// live connections to finish.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()
	defer s.wg.Wait()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Printf("tcp accept: %v", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	if err := readPreamble(conn); err != nil {
		s.log.Printf("tcp %s: %v", conn.RemoteAddr(), err)
		return
	}
	mux, err := yamux.Server(conn, yamuxConfig())
	if err != nil {
		s.log.Print(err)
		return
	}
	defer mux.Close()

	stream, err := mux.Accept()
	if err != nil {
		s.log.Printf("tcp %s: no session stream: %v", conn.RemoteAddr(), err)
		return
	}
	go s.serveRPC(mux)

	if err := s.sessions.Serve(ctx, NewFrameConn(stream)); err != nil {
		s.log.Printf("tcp %s: %v", conn.RemoteAddr(), err)
	}
}

func (s *Server) serveRPC(mux *yamux.Session) {
	for {
		stream, err := mux.Accept()
		if err != nil {
			return
		}
		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(stream))
	}
}

func readPreamble(conn net.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	buf := make([]byte, len(Preamble))
	if _, err := io.ReadFull(conn, buf); err != nil {
		return fmt.Errorf("read preamble: %w", err)
	}
	if string(buf) != string(Preamble) {
		return fmt.Errorf("bad preamble %q", buf)
	}
	return nil
}
