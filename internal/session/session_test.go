package session

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"voxelwire.io/internal/auth"
	"voxelwire.io/internal/persistence/invdb"
	"voxelwire.io/internal/protocol"
	"voxelwire.io/internal/session/mapsync"
	"voxelwire.io/internal/sim/catalogs"
	"voxelwire.io/internal/sim/inventory"
	"voxelwire.io/internal/sim/world"
)

// pipeConn is an in-memory Conn. The test plays the client side.
type pipeConn struct {
	in   chan []byte
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{in: make(chan []byte, 64), out: make(chan []byte, 4096), done: make(chan struct{})}
}

func (c *pipeConn) ReadFrame() ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *pipeConn) WriteFrame(b []byte) error {
	select {
	case <-c.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case c.out <- b:
		return nil
	case <-c.done:
		return io.ErrClosedPipe
	}
}

func (c *pipeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *pipeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *pipeConn) RemoteAddr() string               { return "pipe" }
func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

type memPlayers struct {
	mu sync.Mutex
	m  map[string]invdb.Player
}

func (p *memPlayers) LoadPlayer(name string) (invdb.Player, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.m[name]
	if !ok {
		return invdb.Player{}, invdb.ErrNoPlayer
	}
	return rec, nil
}

func (p *memPlayers) SavePlayer(rec invdb.Player) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[rec.Name] = rec
	return nil
}

type fixture struct {
	srv   *Server
	deps  Deps
	cat   *catalogs.Catalogs
	stone uint32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	_, file, _, _ := runtime.Caller(0)
	dir := filepath.Join(filepath.Dir(file), "..", "..", "configs")
	cat, err := catalogs.Load(dir, "")
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	dirt, _ := cat.Blocks.Lookup("default:dirt")
	stone, _ := cat.Blocks.Lookup("default:stone")
	gen := world.LayeredGen{Dirt: dirt.ID, Stone: stone.ID, Bedrock: stone.ID, SurfaceY: 8, DirtDepth: 2, BedrockY: -64}
	chunks := world.NewChunkStore(gen, nil)
	mgr := inventory.NewManager(nil)
	deps := Deps{
		Catalogs:    cat,
		Chunks:      chunks,
		Actions:     &world.Actions{Chunks: chunks, Catalogs: cat, Inventories: mgr},
		Inventories: mgr,
		Players:     &memPlayers{m: map[string]invdb.Player{}},
		Auth:        auth.NewChallenge(auth.NewMemStore(), nil),
		Selector:    mapsync.NearestFirst{MaxChunks: 1},
		Spawn:       protocol.PlayerPosition{Position: protocol.Vec3{X: 5, Y: 10, Z: 5}},
	}
	cfg := Config{TickInterval: 2 * time.Millisecond, HandledSequenceEveryTicks: 1, AuthTimeout: 5 * time.Second, PlayerWritebackEvery: 10 * time.Millisecond}
	return &fixture{srv: NewServer(cfg, deps), deps: deps, cat: cat, stone: stone.ID}
}

type client struct {
	t    *testing.T
	conn *pipeConn
	seq  uint64
	done chan error
}

func (f *fixture) connect(t *testing.T) *client {
	t.Helper()
	c := &client{t: t, conn: newPipeConn(), done: make(chan error, 1)}
	go func() { c.done <- f.srv.Serve(context.Background(), c.conn) }()
	t.Cleanup(func() { _ = c.conn.Close() })
	return c
}

func (c *client) send(m protocol.ClientMessage) uint64 {
	c.t.Helper()
	c.seq++
	b, err := protocol.EncodeClient(protocol.ClientEnvelope{Sequence: c.seq, Msg: m})
	if err != nil {
		c.t.Fatalf("encode: %v", err)
	}
	c.conn.in <- b
	return c.seq
}

func (c *client) recv() protocol.ServerMessage {
	c.t.Helper()
	select {
	case b := <-c.conn.out:
		env, err := protocol.DecodeServer(b)
		if err != nil {
			c.t.Fatalf("decode: %v", err)
		}
		return env.Msg
	case <-time.After(5 * time.Second):
		c.t.Fatalf("timed out waiting for server message")
	}
	return nil
}

// next returns the next message that is not a HandledSequence.
func (c *client) next() protocol.ServerMessage {
	c.t.Helper()
	for {
		m := c.recv()
		if _, ok := m.(*protocol.HandledSequence); !ok {
			return m
		}
	}
}

func (c *client) waitClosed() error {
	c.t.Helper()
	select {
	case err := <-c.done:
		return err
	case <-time.After(5 * time.Second):
		c.t.Fatalf("session did not close")
	}
	return nil
}

// rejected waits for the ActionRejected for seq.
func (c *client) rejected(seq uint64) *protocol.ActionRejected {
	c.t.Helper()
	for {
		switch m := c.next().(type) {
		case *protocol.ActionRejected:
			if m.Sequence == seq {
				return m
			}
		case *protocol.Disconnect:
			c.t.Fatalf("unexpected disconnect %+v", m)
		}
	}
}

// handled waits until the server reports seq as handled.
func (c *client) handled(seq uint64) {
	c.t.Helper()
	for {
		switch m := c.recv().(type) {
		case *protocol.HandledSequence:
			if m.Sequence >= seq {
				return
			}
		case *protocol.Disconnect:
			c.t.Fatalf("unexpected disconnect %+v", m)
		}
	}
}

// register runs only the registration flow, which ends unauthenticated.
func (c *client) register(user, pw string) {
	c.t.Helper()
	c.send(&protocol.StartAuth{Username: user, Register: true})
	rr, ok := c.next().(*protocol.ServerRegistrationResponse)
	if !ok {
		c.t.Fatalf("want ServerRegistrationResponse")
	}
	up, err := auth.RegistrationUpload(pw, rr.Opaque)
	if err != nil {
		c.t.Fatalf("upload: %v", err)
	}
	c.send(&protocol.ClientRegistrationUpload{Upload: up})
	if _, ok := c.next().(*protocol.RegistrationComplete); !ok {
		c.t.Fatalf("want RegistrationComplete")
	}
}

type loggedIn struct {
	hotbar, main, trash uint64
	state               *protocol.SetClientState
}

func (c *client) registerAndLogin(user, pw string) loggedIn {
	c.t.Helper()
	c.register(user, pw)

	req, _ := auth.NewLoginRequest()
	c.send(&protocol.StartAuth{Username: user, OpaqueRequest: req})
	lr, ok := c.next().(*protocol.ServerLoginResponse)
	if !ok {
		c.t.Fatalf("want ServerLoginResponse")
	}
	cred, err := auth.LoginCredential(pw, req, lr.Opaque)
	if err != nil {
		c.t.Fatalf("credential: %v", err)
	}
	c.send(&protocol.ClientLoginCredential{Credential: cred})
	if _, ok := c.next().(*protocol.AuthSuccess); !ok {
		c.t.Fatalf("want AuthSuccess")
	}
	var ids []uint64
	for i := 0; i < 3; i++ {
		u, ok := c.next().(*protocol.InventoryUpdate)
		if !ok {
			c.t.Fatalf("want InventoryUpdate %d", i)
		}
		ids = append(ids, u.ViewID)
	}
	st, ok := c.next().(*protocol.SetClientState)
	if !ok {
		c.t.Fatalf("want SetClientState")
	}
	if st.HotbarViewID != ids[0] || len(st.InventoryPopup.ViewIDs) != 2 {
		c.t.Fatalf("client state %+v does not match views %v", st, ids)
	}
	return loggedIn{hotbar: ids[0], main: ids[1], trash: ids[2], state: st}
}

func TestPreAuthActionClosesSession(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)

	target := protocol.BlockCoord{X: 1, Y: 5, Z: 1}
	before := f.deps.Chunks.GetBlock(target)
	c.send(&protocol.DigAction{Coord: target})

	d, ok := c.next().(*protocol.Disconnect)
	if !ok || d.Code != protocol.ErrProtoViolation {
		t.Fatalf("want Disconnect E_PROTO_VIOLATION, got %+v", d)
	}
	var pe *ProtocolError
	if err := c.waitClosed(); !errors.As(err, &pe) {
		t.Fatalf("Serve err=%v want ProtocolError", err)
	}
	if got := f.deps.Chunks.GetBlock(target); got != before {
		t.Fatalf("block changed before auth: %d -> %d", before, got)
	}
}

func TestLoginThenBlockEditSendsOneDelta(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	c.registerAndLogin("alice", "pw")

	mc, ok := c.next().(*protocol.MapChunk)
	if !ok {
		t.Fatalf("want MapChunk")
	}
	if mc.Coord != (protocol.ChunkCoord{}) {
		t.Fatalf("chunk %v want origin", mc.Coord)
	}
	ids, err := protocol.DecodeChunkData(mc.Data)
	if err != nil {
		t.Fatalf("chunk data: %v", err)
	}
	edit := protocol.BlockCoord{X: 1, Y: 12, Z: 1}
	if ids[edit.Offset()] != 0 {
		t.Fatalf("expected air at %v", edit)
	}

	f.deps.Chunks.SetBlock(edit, f.stone)

	batch, ok := c.next().(*protocol.MapDeltaUpdateBatch)
	if !ok {
		t.Fatalf("want MapDeltaUpdateBatch")
	}
	if len(batch.Updates) != 1 || batch.Updates[0].Block != edit || batch.Updates[0].NewID != f.stone {
		t.Fatalf("batch %+v", batch.Updates)
	}
}

func TestTransferRejectionLeavesInventoriesUnchanged(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	li := c.registerAndLogin("bob", "pw")

	rec, _ := f.deps.Players.LoadPlayer("bob")
	key, _ := inventory.ParseKey(rec.MainInventory)
	dirt, _ := f.cat.Items.Get("default:dirt")
	if err := f.deps.Inventories.Mutate(key, func(inv *protocol.Inventory) error {
		inv.Contents[0] = inventory.NewStack(dirt, 3)
		return nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	before, _ := f.deps.Inventories.Get(key)

	seq := c.send(&protocol.InventoryAction{SourceView: li.main, SourceSlot: 0, DestView: li.trash, DestSlot: 0, Count: 5})
	for {
		m := c.next()
		if r, ok := m.(*protocol.ActionRejected); ok {
			if r.Sequence != seq || r.Code != protocol.ErrBadCount {
				t.Fatalf("rejection %+v", r)
			}
			break
		}
	}
	after, _ := f.deps.Inventories.Get(key)
	if after.Contents[0] != before.Contents[0] {
		t.Fatalf("source changed: %+v -> %+v", before.Contents[0], after.Contents[0])
	}

	// The session is still usable.
	c.send(&protocol.InventoryAction{SourceView: li.main, SourceSlot: 0, DestView: li.trash, DestSlot: 0, Count: 2})
	for {
		u, ok := c.next().(*protocol.InventoryUpdate)
		if ok && u.ViewID == li.trash {
			if u.Inventory.Contents[0].Quantity != 2 {
				t.Fatalf("trash %+v", u.Inventory.Contents[0])
			}
			break
		}
	}
}

func TestDuplicateSequenceIsFatal(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	c.registerAndLogin("carol", "pw")

	c.seq-- // resend the last sequence number
	c.send(&protocol.Nop{})
	for {
		if d, ok := c.next().(*protocol.Disconnect); ok {
			if d.Code != protocol.ErrProtoViolation {
				t.Fatalf("code %s", d.Code)
			}
			break
		}
	}
	c.waitClosed()
}

func TestUnknownKindDoesNotCloseSession(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	c.registerAndLogin("dave", "pw")

	c.seq++
	frame := binary.AppendUvarint(nil, 77)
	frame = binary.AppendUvarint(frame, c.seq)
	frame = binary.AppendUvarint(frame, 0)
	frame = append(frame, 0x80) // empty msgpack map
	c.conn.in <- frame
	want := c.send(&protocol.Nop{})

	for {
		m := c.recv()
		if d, ok := m.(*protocol.Disconnect); ok {
			t.Fatalf("unexpected disconnect %+v", d)
		}
		if h, ok := m.(*protocol.HandledSequence); ok && h.Sequence >= want {
			break
		}
	}
}

func TestBadCredentialDisconnects(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	req, _ := auth.NewLoginRequest()
	c.send(&protocol.StartAuth{Username: "nobody", OpaqueRequest: req})
	if _, ok := c.next().(*protocol.ServerLoginResponse); !ok {
		t.Fatalf("want ServerLoginResponse")
	}
	c.send(&protocol.ClientLoginCredential{Credential: make([]byte, 32)})
	d, ok := c.next().(*protocol.Disconnect)
	if !ok || d.Code != protocol.ErrAuthFailed {
		t.Fatalf("want Disconnect E_AUTH_FAILED, got %+v", d)
	}
	c.waitClosed()
}

func TestSecondLoginForSameUserIsRefused(t *testing.T) {
	f := newFixture(t)
	c1 := f.connect(t)
	c1.registerAndLogin("erin", "pw")

	c2 := f.connect(t)
	req, _ := auth.NewLoginRequest()
	c2.send(&protocol.StartAuth{Username: "erin", OpaqueRequest: req})
	lr := c2.next().(*protocol.ServerLoginResponse)
	cred, _ := auth.LoginCredential("pw", req, lr.Opaque)
	c2.send(&protocol.ClientLoginCredential{Credential: cred})
	d, ok := c2.next().(*protocol.Disconnect)
	if !ok || d.Code != protocol.ErrAuthFailed {
		t.Fatalf("want Disconnect E_AUTH_FAILED, got %+v", d)
	}
}

func TestShutdownSendsDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	conn := newPipeConn()
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, conn) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve err=%v want nil on shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not stop")
	}
	b := <-conn.out
	env, err := protocol.DecodeServer(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d, ok := env.Msg.(*protocol.Disconnect); !ok || d.Code != protocol.ErrShutdown {
		t.Fatalf("got %+v want Disconnect E_SHUTDOWN", env.Msg)
	}
	if st := f.srv.Stats(); st.Active != 0 || st.Total != 1 {
		t.Fatalf("stats %+v", st)
	}
}

func TestActionOutsideSubscribedChunksRejected(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	c.registerAndLogin("fay", "pw")
	if _, ok := c.next().(*protocol.MapChunk); !ok {
		t.Fatalf("want MapChunk")
	}
	before := f.deps.Chunks.LoadedChunks()

	for i := int32(1); i <= 20; i++ {
		far := protocol.BlockCoord{X: i * 1000 * protocol.ChunkSize, Y: 8, Z: 0}
		seq := c.send(&protocol.TapAction{Coord: far})
		if r := c.rejected(seq); r.Code != protocol.ErrNotFound {
			t.Fatalf("tap %v: %+v", far, r)
		}
	}
	seq := c.send(&protocol.PlaceAction{Coord: protocol.BlockCoord{X: 1, Y: 12, Z: 1}, Anchor: protocol.BlockCoord{X: 1, Y: 12, Z: -5000}})
	if r := c.rejected(seq); r.Code != protocol.ErrNotFound {
		t.Fatalf("place with far anchor: %+v", r)
	}
	if after := f.deps.Chunks.LoadedChunks(); after != before {
		t.Fatalf("loaded chunks %d -> %d", before, after)
	}
	c.handled(c.send(&protocol.Nop{}))
}

func TestHotbarSlotOutOfRangeRejected(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	c.registerAndLogin("gus", "pw")

	target := protocol.BlockCoord{X: 1, Y: 8, Z: 1}
	before := f.deps.Chunks.GetBlock(target)
	seq := c.send(&protocol.DigAction{Coord: target, ItemSlot: 99})
	if r := c.rejected(seq); r.Code != protocol.ErrBadSlot {
		t.Fatalf("rejection %+v", r)
	}
	if got := f.deps.Chunks.GetBlock(target); got != before {
		t.Fatalf("block changed: %d -> %d", before, got)
	}
	c.handled(c.send(&protocol.Nop{}))
}

func TestRegistrationAloneDoesNotActivate(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	c.register("hal", "pw")

	c.send(&protocol.DigAction{Coord: protocol.BlockCoord{X: 1, Y: 8, Z: 1}})
	d, ok := c.next().(*protocol.Disconnect)
	if !ok || d.Code != protocol.ErrProtoViolation {
		t.Fatalf("want Disconnect E_PROTO_VIOLATION, got %+v", d)
	}
	c.waitClosed()
}

func TestBugCheckBeforeAuthKeepsSessionOpen(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)

	// The handled report also flows before authentication.
	c.handled(c.send(&protocol.ClientBugCheck{Description: "texture missing", Details: "default:dirt"}))
	c.register("ida", "pw")
	select {
	case err := <-c.done:
		t.Fatalf("session closed: %v", err)
	default:
	}
}

// fillTrash moves n dirt from the main inventory into the trash slot and
// waits for the trash view to show it.
func fillTrash(t *testing.T, f *fixture, c *client, li loggedIn, user string, n uint32) {
	t.Helper()
	rec, _ := f.deps.Players.LoadPlayer(user)
	key, _ := inventory.ParseKey(rec.MainInventory)
	dirt, _ := f.cat.Items.Get("default:dirt")
	if err := f.deps.Inventories.Mutate(key, func(inv *protocol.Inventory) error {
		inv.Contents[0] = inventory.NewStack(dirt, n)
		return nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	c.send(&protocol.InventoryAction{SourceView: li.main, DestView: li.trash, Count: n})
	for {
		u, ok := c.next().(*protocol.InventoryUpdate)
		if ok && u.ViewID == li.trash && u.Inventory.Contents[0].Quantity == n {
			return
		}
	}
}

func waitTrashEmpty(t *testing.T, c *client, li loggedIn) {
	t.Helper()
	for {
		switch m := c.next().(type) {
		case *protocol.InventoryUpdate:
			if m.ViewID == li.trash {
				if !m.Inventory.Contents[0].IsEmpty() {
					t.Fatalf("trash not emptied: %+v", m.Inventory.Contents[0])
				}
				return
			}
		case *protocol.ActionRejected:
			t.Fatalf("rejected %+v", m)
		}
	}
}

func TestInventoryPopupEmptiesTrash(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	li := c.registerAndLogin("jo", "pw")
	popupID := li.state.InventoryPopup.PopupID

	fillTrash(t, f, c, li, "jo", 3)
	c.send(&protocol.PopupResponse{PopupID: popupID, ClickedButton: buttonEmptyTrash})
	waitTrashEmpty(t, c, li)

	fillTrash(t, f, c, li, "jo", 2)
	c.send(&protocol.PopupResponse{PopupID: popupID, Closed: true})
	waitTrashEmpty(t, c, li)

	// The popup stays usable after closing.
	c.handled(c.send(&protocol.PopupResponse{PopupID: popupID, ClickedButton: buttonEmptyTrash}))
}

func TestPopupResponseRejections(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	li := c.registerAndLogin("kim", "pw")

	seq := c.send(&protocol.PopupResponse{PopupID: 999, ClickedButton: buttonEmptyTrash})
	if r := c.rejected(seq); r.Code != protocol.ErrNotFound {
		t.Fatalf("unknown popup: %+v", r)
	}
	seq = c.send(&protocol.PopupResponse{PopupID: li.state.InventoryPopup.PopupID, ClickedButton: "launch"})
	if r := c.rejected(seq); r.Code != protocol.ErrBadRequest {
		t.Fatalf("unknown button: %+v", r)
	}
	c.handled(c.send(&protocol.Nop{}))
}

func TestPlayerWrittenBackWhileConnected(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	c.registerAndLogin("lee", "pw")

	moved := protocol.PlayerPosition{Position: protocol.Vec3{X: 9, Y: 10, Z: 5}}
	c.handled(c.send(&protocol.ClientUpdate{Position: &moved}))

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, err := f.deps.Players.LoadPlayer("lee")
		if err == nil && rec.Position == moved {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("position not written back: %+v err=%v", rec.Position, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case err := <-c.done:
		t.Fatalf("session closed: %v", err)
	default:
	}
}
