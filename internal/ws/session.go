package ws

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tilefall-backend/internal/floodguard"
	wire "github.com/DoyleJ11/tilefall-backend/pkg/types"
)

type outbound struct {
	msg wire.ServerMessage
	// final messages are written without counting and then close the socket
	final  bool
	code   websocket.StatusCode
	reason string
}

// session is one accepted WebSocket. Coordinators see it as a types.Conn.
type session struct {
	id     string
	wallet string
	conn   *websocket.Conn
	guard  *floodguard.Guard
	log    *zap.Logger
	opts   Options

	out    chan outbound
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closing bool
}

func newSession(parent context.Context, conn *websocket.Conn, wallet string, guard *floodguard.Guard, opts Options, log *zap.Logger) *session {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	return &session{
		id:     id,
		wallet: wallet,
		conn:   conn,
		guard:  guard,
		log:    log.With(zap.String("conn", id), zap.String("wallet", wallet)),
		opts:   opts,
		out:    make(chan outbound, opts.OutboxSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *session) ID() string { return s.id }

// Send queues msg. Repeated error codes are swallowed. A full outbox means
// the client cannot keep up, and the connection is dropped.
func (s *session) Send(msg wire.ServerMessage) bool {
	if code := msg.ErrorCode(); code != "" && !s.guard.ShouldSendError(code) {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	select {
	case s.out <- outbound{msg: msg}:
		return true
	default:
		s.log.Warn("outbox full, dropping connection")
		s.closing = true
		s.cancel()
		s.conn.CloseNow()
		return false
	}
}

func (s *session) Kick(reason string) {
	s.finish(wire.NewSessionKicked(reason), websocket.StatusPolicyViolation, "session replaced")
}

func (s *session) banNotice() wire.ServerMessage {
	return wire.NewError(wire.CodeBanned, "Too many messages. You are temporarily banned.", map[string]any{
		"wallet":             s.wallet,
		"ban_remaining_secs": int(math.Ceil(s.guard.BanRemaining().Seconds())),
	})
}

// finish queues a last message and closes the socket after writing it.
func (s *session) finish(msg wire.ServerMessage, code websocket.StatusCode, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}
	s.closing = true
	select {
	case s.out <- outbound{msg: msg, final: true, code: code, reason: reason}:
	default:
		s.cancel()
		s.conn.CloseNow()
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return

		case o := <-s.out:
			if !o.final && s.guard.RecordResponse() {
				o = outbound{msg: s.banNotice(), final: true, code: websocket.StatusPolicyViolation, reason: "banned"}
				s.mu.Lock()
				s.closing = true
				s.mu.Unlock()
			}
			if err := s.write(o.msg); err != nil {
				s.log.Debug("write failed", zap.Error(err))
				s.cancel()
				s.conn.CloseNow()
				return
			}
			if o.final {
				s.conn.Close(o.code, o.reason)
				s.cancel()
				return
			}
		}
	}
}

func (s *session) write(msg wire.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("encode outbound message", zap.String("action", msg.Action), zap.Error(err))
		payload, _ = json.Marshal(wire.NewError(wire.CodeSerializationError,
			"The server could not encode a message.", map[string]any{"action": msg.Action}))
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.WriteTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, payload)
}

// readLoop feeds decoded envelopes to dispatch until the socket closes or
// the connection is banned.
func (s *session) readLoop(dispatch func(wire.ClientMessage)) {
	for {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.ReadTimeout)
		typ, data, err := s.conn.Read(ctx)
		cancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				s.log.Debug("client closed")
			default:
				s.log.Debug("read ended", zap.Error(err))
			}
			return
		}

		if s.guard.RecordRequest() {
			s.finish(s.banNotice(), websocket.StatusPolicyViolation, "banned")
			return
		}
		if typ != websocket.MessageText {
			s.Send(wire.NewError(wire.CodeProtocolError, "Only text frames are accepted.", nil))
			continue
		}

		var cm wire.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil || cm.Action == "" {
			s.Send(wire.NewError(wire.CodeInvalidAction, "Malformed message.", nil))
			continue
		}
		s.log.Debug("inbound", zap.String("action", cm.Action))
		dispatch(cm)
	}
}

// wait blocks until the writer has stopped or grace has elapsed.
func (s *session) wait(grace time.Duration) {
	select {
	case <-s.ctx.Done():
	case <-time.After(grace):
	}
}
