package session

import (
	"context"
	"errors"

	"voxelwire.io/internal/auth"
	"voxelwire.io/internal/persistence/indexdb"
	vlog "voxelwire.io/internal/persistence/log"
	"voxelwire.io/internal/protocol"
	"voxelwire.io/internal/sim/inventory"
)

// dispatch gates env on the session state and routes it. Returned errors are
// ProtocolError or TransportError (fatal), or anything else, which rejects
// only this message.
func (s *Session) dispatch(ctx context.Context, env protocol.ClientEnvelope) error {
	k := env.Msg.Kind()
	if !legal(s.state, s.flow, k) {
		return protocolErr(protocol.ErrProtoViolation, "%T not allowed while %s", env.Msg, s.state)
	}

	switch m := env.Msg.(type) {
	case *protocol.ClientBugCheck:
		s.log.Printf("client bug check: %s", m.Description)
		s.srv.audit(vlog.AuditEntry{SessionID: s.id, Username: s.username, Event: vlog.EventBugCheck,
			Sequence: env.Sequence, Message: m.Description + "\n" + m.Details})
		return nil

	case *protocol.StartAuth:
		return s.startAuth(ctx, m)
	case *protocol.ClientRegistrationUpload:
		return s.finishRegistration(ctx, m)
	case *protocol.ClientLoginCredential:
		return s.finishLogin(ctx, m)

	case *protocol.ClientUpdate:
		s.maps.SetPacing(m.Pacing.PendingChunks)
		s.updatePosition(m.Position)
		return nil
	case *protocol.Nop:
		return nil

	case *protocol.DigAction:
		s.updatePosition(m.Position)
		if err := s.checkTarget(m.ItemSlot, m.Coord); err != nil {
			return err
		}
		return s.afterAction(ctx, s.srv.deps.Actions.Dig(s.player, m))
	case *protocol.TapAction:
		s.updatePosition(m.Position)
		if err := s.checkTarget(m.ItemSlot, m.Coord); err != nil {
			return err
		}
		return s.afterAction(ctx, s.srv.deps.Actions.Tap(s.player, m))
	case *protocol.PlaceAction:
		s.updatePosition(m.Position)
		if err := s.checkTarget(m.ItemSlot, m.Coord, m.Anchor); err != nil {
			return err
		}
		return s.afterAction(ctx, s.srv.deps.Actions.Place(s.player, m))
	case *protocol.InteractKeyAction:
		s.updatePosition(m.Position)
		if err := s.checkTarget(m.ItemSlot, m.Coord); err != nil {
			return err
		}
		return s.afterAction(ctx, s.srv.deps.Actions.Interact(s.player, m))

	case *protocol.InventoryAction:
		return s.inventoryAction(ctx, m)
	case *protocol.PopupResponse:
		return s.popupResponse(ctx, m)
	}
	return protocolErr(protocol.ErrProtoViolation, "unhandled %T", env.Msg)
}

func (s *Session) startAuth(ctx context.Context, m *protocol.StartAuth) error {
	if !auth.ValidUsername(m.Username) {
		return s.authFailed(m.Username, "bad username")
	}
	s.username = m.Username
	a := s.srv.deps.Auth
	if m.Register {
		resp, f, err := a.StartRegistration(ctx, m.Username, m.OpaqueRequest)
		if err != nil {
			if errors.Is(err, auth.ErrUserExists) {
				return s.authFailed(m.Username, "user already registered")
			}
			return s.authFailed(m.Username, err.Error())
		}
		s.state, s.flow, s.regFlow = Authenticating, flowRegister, f
		return s.send(ctx, &protocol.ServerRegistrationResponse{Opaque: resp})
	}
	resp, f, err := a.StartLogin(ctx, m.Username, m.OpaqueRequest)
	if err != nil {
		return s.authFailed(m.Username, err.Error())
	}
	s.state, s.flow, s.logFlow = Authenticating, flowLogin, f
	return s.send(ctx, &protocol.ServerLoginResponse{Opaque: resp})
}

func (s *Session) finishRegistration(ctx context.Context, m *protocol.ClientRegistrationUpload) error {
	if err := s.regFlow.Finish(ctx, m.Upload); err != nil {
		return s.authFailed(s.username, err.Error())
	}
	s.log.Printf("registered %s", s.username)
	s.srv.audit(vlog.AuditEntry{SessionID: s.id, Username: s.username, Event: vlog.EventRegistered})
	// A login on the same stream must follow.
	s.state, s.flow, s.regFlow, s.username = Unauthenticated, flowNone, nil, ""
	return s.send(ctx, &protocol.RegistrationComplete{})
}

func (s *Session) finishLogin(ctx context.Context, m *protocol.ClientLoginCredential) error {
	if err := s.logFlow.Finish(ctx, m.Credential); err != nil {
		return s.authFailed(s.username, "bad credential")
	}
	s.logFlow = nil
	if !s.srv.claim(s.username, s.id) {
		return s.authFailed(s.username, "already connected")
	}
	s.log.SetPrefix(s.log.Prefix() + "user=" + s.username + " ")
	s.srv.audit(vlog.AuditEntry{SessionID: s.id, Username: s.username, Event: vlog.EventAuthOK})
	s.srv.record(indexdb.SessionEvent{SessionID: s.id, Username: s.username, Event: "auth_ok", Remote: s.conn.RemoteAddr()})
	return s.activate(ctx)
}

func (s *Session) authFailed(username, reason string) error {
	s.srv.audit(vlog.AuditEntry{SessionID: s.id, Username: username, Event: vlog.EventAuthFailed, Message: reason})
	s.srv.record(indexdb.SessionEvent{SessionID: s.id, Username: username, Event: "auth_failed", Detail: reason})
	return protocolErr(protocol.ErrAuthFailed, "%s", reason)
}

// checkTarget rejects a block action whose hotbar slot is out of range or
// that touches a chunk outside the session's subscription.
func (s *Session) checkTarget(slot uint32, blocks ...protocol.BlockCoord) error {
	if slot >= s.hotbarWidth {
		return validationErr(protocol.ErrBadSlot, "hotbar slot %d out of range", slot)
	}
	for _, b := range blocks {
		if !s.maps.Subscribed(b.Chunk()) {
			return validationErr(protocol.ErrNotFound, "chunk %v not loaded", b.Chunk())
		}
	}
	return nil
}

// afterAction pushes inventory changes the action caused before its result
// is acknowledged.
func (s *Session) afterAction(ctx context.Context, actionErr error) error {
	if err := s.syncInventories(ctx); err != nil {
		return err
	}
	return actionErr
}

func (s *Session) inventoryAction(ctx context.Context, m *protocol.InventoryAction) error {
	updates, err := s.views.ApplyTransfer(*m)
	if err != nil {
		return err
	}
	// Stored views are refreshed from the inventory broadcast below.
	for _, u := range updates {
		if v, ok := s.views.Get(inventory.ViewID(u.ViewID)); ok {
			if _, stored := v.Backing.(inventory.Stored); stored {
				continue
			}
		}
		if err := s.send(ctx, u); err != nil {
			return err
		}
	}
	return s.syncInventories(ctx)
}
