// Package ws carries the lobby and match protocols over WebSocket. Each
// accepted socket becomes a session with its own flood guard, a reader
// loop on the handler goroutine and a writer goroutine draining the outbox.
package ws

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tilefall-backend/internal/clock"
	"github.com/DoyleJ11/tilefall-backend/internal/engine"
	"github.com/DoyleJ11/tilefall-backend/internal/floodguard"
	"github.com/DoyleJ11/tilefall-backend/internal/lobby"
	"github.com/DoyleJ11/tilefall-backend/internal/match"
	"github.com/DoyleJ11/tilefall-backend/internal/types"
	wire "github.com/DoyleJ11/tilefall-backend/pkg/types"
)

type Options struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	OutboxSize     int
	OriginPatterns []string
}

// LobbyInbox is the lobby as seen by the transport.
type LobbyInbox interface {
	Send(lobby.Msg)
}

// MatchInbox is a match as seen by the transport.
type MatchInbox interface {
	ID() string
	IsPlayer(wallet string) bool
	Send(match.Msg)
}

type Server struct {
	lobby  LobbyInbox
	bans   *floodguard.BanList
	limits floodguard.Limits
	clock  clock.Clock
	opts   Options
	log    *zap.Logger
}

func NewServer(lb LobbyInbox, bans *floodguard.BanList, limits floodguard.Limits, c clock.Clock, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{lobby: lb, bans: bans, limits: limits, clock: c, opts: opts, log: log.Named("ws")}
}

// Bans is the identity ban list shared by every session.
func (s *Server) Bans() *floodguard.BanList { return s.bans }

func (s *Server) accept(w http.ResponseWriter, r *http.Request, wallet string) (*session, bool) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.opts.OriginPatterns})
	if err != nil {
		s.log.Debug("accept failed", zap.String("wallet", wallet), zap.Error(err))
		return nil, false
	}
	guard := floodguard.NewGuard(wallet, s.limits, s.clock, s.bans, s.log)
	sess := newSession(r.Context(), conn, wallet, guard, s.opts, s.log)
	go sess.writeLoop()
	return sess, true
}

// close lets a pending final message go out before tearing the socket down.
func (s *Server) close(sess *session) {
	sess.mu.Lock()
	closing := sess.closing
	sess.mu.Unlock()
	if closing {
		sess.wait(s.opts.WriteTimeout)
	}
	sess.cancel()
	sess.conn.CloseNow()
}

// ServeLobby runs a lobby session for wallet until the socket closes.
func (s *Server) ServeLobby(w http.ResponseWriter, r *http.Request, wallet, username string) {
	sess, ok := s.accept(w, r, wallet)
	if !ok {
		return
	}
	defer s.close(sess)

	s.lobby.Send(lobby.Join{Wallet: wallet, Username: username, Conn: sess})
	defer s.lobby.Send(lobby.Leave{Wallet: wallet, Conn: sess})

	sess.readLoop(func(cm wire.ClientMessage) {
		switch cm.Action {
		case wire.ActionPing:
		case wire.ActionPay:
			sess.guard.ResetOnValidAction()
			s.lobby.Send(lobby.Pay{Wallet: wallet, Conn: sess})
		case wire.ActionCancelPayment:
			sess.guard.ResetOnValidAction()
			s.lobby.Send(lobby.CancelPayment{Wallet: wallet, Conn: sess})
		default:
			sess.Send(unknownAction(cm.Action))
		}
	})
}

// ServeMatch runs a match session. Wallets on the roster play; anyone else
// watches.
func (s *Server) ServeMatch(w http.ResponseWriter, r *http.Request, m MatchInbox, wallet string) {
	sess, ok := s.accept(w, r, wallet)
	if !ok {
		return
	}
	defer s.close(sess)

	role := types.RoleSpectator
	if m.IsPlayer(wallet) {
		role = types.RolePlayer
	}
	m.Send(match.Register{Wallet: wallet, Role: role, Conn: sess})
	defer m.Send(match.Unregister{Wallet: wallet, Role: role, Conn: sess})

	sess.readLoop(func(cm wire.ClientMessage) {
		switch cm.Action {
		case wire.ActionPing:
			return
		case wire.ActionMove, wire.ActionShoot, wire.ActionVoteMode:
		default:
			sess.Send(unknownAction(cm.Action))
			return
		}
		if role == types.RoleSpectator {
			sess.Send(wire.NewError(wire.CodeSpectatorCommand, "Spectators cannot send game commands.",
				map[string]any{"action": cm.Action}))
			return
		}

		msg, err := toMatchMsg(cm, wallet, sess)
		if err != nil {
			sess.Send(wire.NewError(wire.CodeInvalidAction, err.Error(), map[string]any{"action": cm.Action}))
			return
		}
		sess.guard.ResetOnValidAction()
		m.Send(msg)
	})
}

func toMatchMsg(cm wire.ClientMessage, wallet string, conn types.Conn) (match.Msg, error) {
	env := wire.Envelope{Action: cm.Action, Data: cm.Data}
	switch cm.Action {
	case wire.ActionMove:
		var d wire.MoveData
		if err := env.DecodeData(&d); err != nil {
			return nil, err
		}
		dir, ok := engine.ParseDirection(d.Direction)
		if !ok {
			return nil, engine.ErrInvalidDirection
		}
		return match.SubmitAction{Wallet: wallet, Conn: conn,
			Action: engine.Action{Kind: engine.ActionMove, Direction: dir}}, nil

	case wire.ActionShoot:
		var d wire.ShootData
		if err := env.DecodeData(&d); err != nil {
			return nil, err
		}
		return match.SubmitAction{Wallet: wallet, Conn: conn,
			Action: engine.Action{Kind: engine.ActionShoot, Target: engine.Position{X: d.X, Y: d.Y}}}, nil

	case wire.ActionVoteMode:
		var d wire.VoteModeData
		if err := env.DecodeData(&d); err != nil {
			return nil, err
		}
		return match.Vote{Wallet: wallet, Mode: d.Mode, Conn: conn}, nil
	}
	return nil, engine.ErrUnsupportedAction
}

func unknownAction(action string) wire.ServerMessage {
	return wire.NewError(wire.CodeInvalidAction, "Unknown action.", map[string]any{"action": action})
}
