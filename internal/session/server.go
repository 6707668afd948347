// Package session runs one client connection: the authentication handshake,
// then map and inventory synchronization and player actions, all over a
// single ordered frame stream.
package session

import (
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"voxelwire.io/internal/auth"
	"voxelwire.io/internal/persistence/indexdb"
	"voxelwire.io/internal/persistence/invdb"
	vlog "voxelwire.io/internal/persistence/log"
	"voxelwire.io/internal/protocol"
	"voxelwire.io/internal/session/mapsync"
	"voxelwire.io/internal/sim/catalogs"
	"voxelwire.io/internal/sim/inventory"
	"voxelwire.io/internal/sim/world"
)

// Conn is one bidirectional, ordered, reliable frame stream.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(b []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

type Config struct {
	TickInterval time.Duration

	Pacing mapsync.Config

	// Flush HandledSequence every this many ticks, when it advanced.
	HandledSequenceEveryTicks int

	OutboxSize  int
	MailboxSize int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	AuthTimeout  time.Duration

	// Save the active player's record this often, besides on disconnect.
	PlayerWritebackEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 50 * time.Millisecond
	}
	if c.HandledSequenceEveryTicks <= 0 {
		c.HandledSequenceEveryTicks = 4
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = 256
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = 1024
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 30 * time.Second
	}
	if c.PlayerWritebackEvery <= 0 {
		c.PlayerWritebackEvery = 10 * time.Second
	}
	if c.Pacing.MaxPendingChunks == 0 {
		c.Pacing.MaxPendingChunks = 64
	}
	return c
}

// PlayerStore persists player records by name.
type PlayerStore interface {
	LoadPlayer(name string) (invdb.Player, error)
	SavePlayer(p invdb.Player) error
}

// SessionIndex records session lifecycle events.
type SessionIndex interface {
	RecordSession(ev indexdb.SessionEvent)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Catalogs    *catalogs.Catalogs
	Chunks      *world.ChunkStore
	Actions     *world.Actions
	Inventories *inventory.Manager
	Players     PlayerStore
	Auth        auth.Authenticator
	Selector    mapsync.Selector

	// Optional.
	Index  SessionIndex
	Audit  *vlog.AuditLogger
	Logger *log.Logger

	// Position of newly created players.
	Spawn protocol.PlayerPosition
}

type Stats struct {
	Active           int64
	Total            uint64
	SubscribedChunks int64
	Rejected         uint64
	ProtocolErrors   uint64
}

// Server owns the set of live sessions.
type Server struct {
	cfg  Config
	deps Deps
	log  *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	// Players with a live session; a second login for the same name is refused.
	online map[string]string

	total       atomic.Uint64
	rejected    atomic.Uint64
	protoErrors atomic.Uint64

	wg sync.WaitGroup
}

func NewServer(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if deps.Selector == nil {
		deps.Selector = mapsync.NearestFirst{Radius: 4, VerticalRadius: 2}
	}
	return &Server{
		cfg:      cfg.withDefaults(),
		deps:     deps,
		log:      logger,
		sessions: map[string]*Session{},
		online:   map[string]string{},
	}
}

// Serve runs a session on conn until the client leaves, a protocol error
// occurs, or ctx is cancelled. conn is closed on return.
func (s *Server) Serve(ctx context.Context, conn Conn) error {
	s.wg.Add(1)
	defer s.wg.Done()
	sess := newSession(s, conn)
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	s.total.Add(1)
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		if sess.username != "" && s.online[sess.username] == sess.id {
			delete(s.online, sess.username)
		}
		s.mu.Unlock()
	}()
	return sess.run(ctx)
}

// Wait blocks until every Serve call has returned or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// claim marks username online for session id.
func (s *Server) claim(username, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if other, ok := s.online[username]; ok && other != id {
		return false
	}
	s.online[username] = id
	return true
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	st := Stats{Active: int64(len(s.sessions))}
	for _, sess := range s.sessions {
		st.SubscribedChunks += sess.subscribed.Load()
	}
	s.mu.Unlock()
	st.Total = s.total.Load()
	st.Rejected = s.rejected.Load()
	st.ProtocolErrors = s.protoErrors.Load()
	return st
}

func (s *Server) audit(e vlog.AuditEntry) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.WriteAudit(e); err != nil {
		s.log.Printf("audit write: %v", err)
	}
}

func (s *Server) record(ev indexdb.SessionEvent) {
	if s.deps.Index != nil {
		s.deps.Index.RecordSession(ev)
	}
}
