package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"voxelwire.io/internal/auth"
	"voxelwire.io/internal/persistence/indexdb"
	vlog "voxelwire.io/internal/persistence/log"
	"voxelwire.io/internal/protocol"
	"voxelwire.io/internal/session/mapsync"
	"voxelwire.io/internal/sim/inventory"
	"voxelwire.io/internal/sim/world"
)

// Session is the per-connection state. Everything except subscribed is owned
// by the goroutine running run.
type Session struct {
	srv  *Server
	cfg  Config
	id   string
	conn Conn
	log  *log.Logger

	state    State
	flow     flow
	username string
	regFlow  auth.RegistrationFlow
	logFlow  auth.LoginFlow

	seq   SequenceTracker
	ticks uint64

	lastWriteback time.Time

	maps  *mapsync.Engine
	views *inventory.Registry

	player   world.Player
	position protocol.PlayerPosition
	center   protocol.ChunkCoord
	centered bool
	hotbar   inventory.ViewID

	// Hotbar slots are the first row of the main inventory.
	hotbarWidth uint32
	popups      map[uint64]*popup
	nextPopup   uint64

	mailbox *world.Mailbox
	invSub  *inventory.Subscription

	out        chan []byte
	writerDone chan struct{}
	writeErr   atomic.Pointer[error]

	subscribed atomic.Int64
}

type inbound struct {
	env protocol.ClientEnvelope
	err error
}

func newSession(srv *Server, conn Conn) *Session {
	id := uuid.NewString()
	return &Session{
		srv:        srv,
		cfg:        srv.cfg,
		id:         id,
		conn:       conn,
		log:        log.New(srv.log.Writer(), srv.log.Prefix()+"session="+id[:8]+" ", srv.log.Flags()),
		maps:       mapsync.New(srv.cfg.Pacing, srv.deps.Chunks),
		views:      inventory.NewRegistry(srv.deps.Inventories),
		popups:     map[uint64]*popup{},
		out:        make(chan []byte, srv.cfg.OutboxSize),
		writerDone: make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	s.srv.record(indexdb.SessionEvent{SessionID: s.id, Event: "open", Remote: s.conn.RemoteAddr()})

	go s.writeLoop(cancel)
	in := make(chan inbound)
	go s.readLoop(ctx, in)

	authTimer := time.NewTimer(s.cfg.AuthTimeout)
	defer authTimer.Stop()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	var err error
	for err == nil {
		// Both are nil until the session is Active.
		var blockC <-chan world.BlockChange
		var invC <-chan struct{}
		if s.mailbox != nil {
			blockC = s.mailbox.C
		}
		if s.invSub != nil {
			invC = s.invSub.C
		}

		select {
		case <-ctx.Done():
			err = ctx.Err()
			if we := s.writeErr.Load(); we != nil {
				err = &TransportError{Err: *we}
			}
		case <-authTimer.C:
			if s.state != Active {
				err = protocolErr(protocol.ErrAuthTimeout, "not authenticated after %s", s.cfg.AuthTimeout)
			}
		case m := <-in:
			err = s.handleInbound(ctx, m)
		case ch := <-blockC:
			s.maps.NotifyBlockChanged(ch.Block, ch.NewID)
		case <-invC:
			err = s.syncInventories(ctx)
		case <-ticker.C:
			err = s.tick(ctx)
		}
	}

	s.shutdown(parent, err)
	if errors.Is(err, context.Canceled) && parent.Err() != nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return nil
	}
	return err
}

// handleInbound processes one client frame. Only fatal errors are returned.
func (s *Session) handleInbound(ctx context.Context, m inbound) error {
	var unknown *protocol.UnknownKindError
	switch {
	case m.err == nil:
	case errors.As(m.err, &unknown):
		if err := s.seq.Accept(m.env.Sequence); err != nil {
			return err
		}
		s.log.Printf("unknown message kind %d at seq %d", unknown.Kind, m.env.Sequence)
		s.srv.audit(vlog.AuditEntry{SessionID: s.id, Username: s.username, Event: vlog.EventUnknownKind,
			Sequence: m.env.Sequence, Kind: uint64(unknown.Kind)})
		s.seq.Handled(m.env.Sequence)
		return nil
	default:
		var te *TransportError
		if errors.As(m.err, &te) {
			return te
		}
		return protocolErr(protocol.ErrProtoBadFrame, "%v", m.err)
	}

	if err := s.seq.Accept(m.env.Sequence); err != nil {
		return err
	}
	err := s.dispatch(ctx, m.env)
	if err != nil {
		if fatal(err) || errors.Is(err, context.Canceled) {
			return err
		}
		ve, ok := asValidation(err)
		if !ok {
			s.log.Printf("seq %d: %v", m.env.Sequence, err)
			ve = &ValidationError{Code: protocol.ErrInternal, Message: "internal error"}
		}
		s.srv.rejected.Add(1)
		s.srv.audit(vlog.AuditEntry{SessionID: s.id, Username: s.username, Event: vlog.EventActionRejected,
			Sequence: m.env.Sequence, Kind: uint64(m.env.Msg.Kind()), Code: ve.Code, Message: ve.Message})
		if err := s.send(ctx, &protocol.ActionRejected{Sequence: m.env.Sequence, Code: ve.Code, Message: ve.Message}); err != nil {
			return err
		}
	}
	s.seq.Handled(m.env.Sequence)
	return nil
}

// tick flushes map sync and, every few ticks, the handled sequence. The
// sequence report runs in every state so a client still authenticating sees
// its lag too.
func (s *Session) tick(ctx context.Context) error {
	s.ticks++
	if s.state == Closed {
		return nil
	}
	if s.state == Active {
		if err := s.tickActive(ctx); err != nil {
			return err
		}
	}
	if s.ticks%uint64(s.cfg.HandledSequenceEveryTicks) == 0 {
		if seq, ok := s.seq.TakeReport(); ok {
			return s.send(ctx, &protocol.HandledSequence{Sequence: seq})
		}
	}
	return nil
}

func (s *Session) tickActive(ctx context.Context) error {
	if s.mailbox.TakeOverflow() {
		s.log.Printf("block change mailbox overflowed, resyncing %d chunks", s.maps.Stats().Subscribed)
		s.srv.audit(vlog.AuditEntry{SessionID: s.id, Username: s.username, Event: vlog.EventResync})
		s.maps.Resync()
	}
	if err := s.maps.Flush(ctx, func(m protocol.ServerMessage) error { return s.send(ctx, m) }); err != nil {
		if fatal(err) || errors.Is(err, context.Canceled) {
			return err
		}
		// A chunk that cannot be produced is retried on a later tick.
		s.log.Printf("map flush: %v", err)
	}
	s.subscribed.Store(int64(s.maps.Stats().Subscribed))

	if now := time.Now(); now.Sub(s.lastWriteback) >= s.cfg.PlayerWritebackEvery {
		s.lastWriteback = now
		s.savePlayer()
	}
	return nil
}

// syncInventories pushes updates for every view whose stored inventory changed.
func (s *Session) syncInventories(ctx context.Context) error {
	if s.invSub == nil {
		return nil
	}
	keys := s.invSub.Drain()
	updates, err := s.views.Refresh(keys)
	for _, u := range updates {
		if serr := s.send(ctx, u); serr != nil {
			return serr
		}
	}
	if err != nil {
		s.log.Printf("inventory refresh: %v", err)
	}
	return nil
}

// send encodes m and queues it for the writer. It blocks while the outbox is
// full, so a slow client slows its own session only.
func (s *Session) send(ctx context.Context, m protocol.ServerMessage) error {
	b, err := protocol.EncodeServer(protocol.ServerEnvelope{Tick: s.seq.NextTick(), Msg: m})
	if err != nil {
		return fmt.Errorf("encode %T: %w", m, err)
	}
	select {
	case s.out <- b:
		return nil
	case <-ctx.Done():
		if we := s.writeErr.Load(); we != nil {
			return &TransportError{Err: *we}
		}
		return ctx.Err()
	}
}

func (s *Session) readLoop(ctx context.Context, in chan<- inbound) {
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		b, err := s.conn.ReadFrame()
		var m inbound
		if err != nil {
			m.err = &TransportError{Err: err}
		} else {
			m.env, m.err = protocol.DecodeClient(b)
		}
		select {
		case in <- m:
		case <-ctx.Done():
			return
		}
		var te *TransportError
		if errors.As(m.err, &te) {
			return
		}
	}
}

// writeLoop drains the outbox until it is closed. After a write error it
// keeps draining so senders never block on a dead stream.
func (s *Session) writeLoop(cancel context.CancelFunc) {
	defer close(s.writerDone)
	failed := false
	for b := range s.out {
		if failed {
			continue
		}
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := s.conn.WriteFrame(b); err != nil {
			failed = true
			s.writeErr.Store(&err)
			cancel()
		}
	}
}

// shutdown releases subscriptions, says goodbye when there is a reason to,
// and closes the stream.
func (s *Session) shutdown(parent context.Context, cause error) {
	prevState := s.state
	s.state = Closed
	if s.mailbox != nil {
		s.srv.deps.Chunks.Hub().Unsubscribe(s.mailbox)
	}
	if s.invSub != nil {
		s.srv.deps.Inventories.Unsubscribe(s.invSub)
	}
	s.subscribed.Store(0)
	if prevState == Active {
		s.savePlayer()
	}

	var disc *protocol.Disconnect
	var pe *ProtocolError
	switch {
	case errors.As(cause, &pe):
		s.srv.protoErrors.Add(1)
		s.log.Printf("closing: %v", pe)
		s.srv.audit(vlog.AuditEntry{SessionID: s.id, Username: s.username, Event: vlog.EventProtocolViolation,
			Sequence: s.seq.LastSequence(), Code: pe.Code, Message: pe.Reason})
		disc = &protocol.Disconnect{Code: pe.Code, Reason: pe.Reason}
	case parent.Err() != nil:
		disc = &protocol.Disconnect{Code: protocol.ErrShutdown, Reason: "server shutting down"}
	}
	if disc != nil {
		if b, err := protocol.EncodeServer(protocol.ServerEnvelope{Tick: s.seq.NextTick(), Msg: disc}); err == nil {
			select {
			case s.out <- b:
			default:
			}
		}
	}
	close(s.out)
	select {
	case <-s.writerDone:
	case <-time.After(s.cfg.WriteTimeout):
	}
	_ = s.conn.Close()
	<-s.writerDone

	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	s.srv.audit(vlog.AuditEntry{SessionID: s.id, Username: s.username, Event: vlog.EventClosed, Message: detail})
	s.srv.record(indexdb.SessionEvent{SessionID: s.id, Username: s.username, Event: "close", Detail: detail})
}
