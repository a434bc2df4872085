// Package hub is the directory of matches. It holds rosters handed over by
// the lobby until the first connection arrives, creates match coordinators
// on demand, archives results and forgets ended matches after a while.
package hub

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tilefall-backend/internal/clock"
	"github.com/DoyleJ11/tilefall-backend/internal/engine"
	"github.com/DoyleJ11/tilefall-backend/internal/match"
	"github.com/DoyleJ11/tilefall-backend/internal/store"
	wire "github.com/DoyleJ11/tilefall-backend/pkg/types"
)

var ErrMatchNotFound = errors.New("match not found")

// PhasePending is reported for a roster whose match has not been created yet.
const PhasePending match.Phase = "Pending"

const archiveTimeout = 5 * time.Second

type HubMsg interface{ isHubMsg() }

type RegisterPendingMatch struct {
	MatchID string
	Roster  []wire.PlayerInfo
}

// EnsureMatch replies with the live match, creating it from a pending
// roster if needed. Reply receives nil when the id is unknown.
type EnsureMatch struct {
	MatchID string
	Reply   chan *match.Match
}

type GetMatch struct {
	MatchID string
	Reply   chan Lookup
}

type ShutdownHub struct{}

type matchEnded struct{ res match.Result }

type expireMatch struct{ matchID string }

type expirePending struct{ matchID string }

func (RegisterPendingMatch) isHubMsg() {}
func (EnsureMatch) isHubMsg()          {}
func (GetMatch) isHubMsg()             {}
func (ShutdownHub) isHubMsg()          {}
func (matchEnded) isHubMsg()           {}
func (expireMatch) isHubMsg()          {}
func (expirePending) isHubMsg()        {}

// Lookup is the answer to GetMatch. At most one of Match and Pending is set.
type Lookup struct {
	Match   *match.Match
	Pending []wire.PlayerInfo
}

type Config struct {
	Match      match.Config
	Retention  time.Duration
	PendingTTL time.Duration
}

type Deps struct {
	Rules   engine.Rules
	Clock   clock.Clock
	Log     *zap.Logger
	Archive store.Archive
	// NewRand seeds each match. Nil lets the match seed itself.
	NewRand func() engine.Rand
}

type Hub struct {
	inbox   chan HubMsg
	cfg     Config
	deps    Deps
	log     *zap.Logger
	pending map[string][]wire.PlayerInfo
	matches map[string]*match.Match
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, cfg Config, deps Deps) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Archive == nil {
		deps.Archive = store.Nop{}
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		cfg:     cfg,
		deps:    deps,
		log:     deps.Log.Named("hub"),
		pending: make(map[string][]wire.PlayerInfo),
		matches: make(map[string]*match.Match),
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) post(m HubMsg) {
	select {
	case h.inbox <- m:
	case <-h.ctx.Done():
	}
}

// RegisterPendingMatch hands a roster over from the lobby.
func (h *Hub) RegisterPendingMatch(matchID string, roster []wire.PlayerInfo) {
	h.post(RegisterPendingMatch{MatchID: matchID, Roster: roster})
}

// Ensure returns the match for id, creating it on first use.
func (h *Hub) Ensure(ctx context.Context, matchID string) (*match.Match, error) {
	reply := make(chan *match.Match, 1)
	select {
	case h.inbox <- EnsureMatch{MatchID: matchID, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case m := <-reply:
		if m == nil {
			return nil, ErrMatchNotFound
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// View describes a match, live or pending, without creating it.
func (h *Hub) View(ctx context.Context, matchID string) (match.View, error) {
	reply := make(chan Lookup, 1)
	select {
	case h.inbox <- GetMatch{MatchID: matchID, Reply: reply}:
	case <-ctx.Done():
		return match.View{}, ctx.Err()
	}
	var found Lookup
	select {
	case found = <-reply:
	case <-ctx.Done():
		return match.View{}, ctx.Err()
	}

	switch {
	case found.Match != nil:
		views := make(chan match.View, 1)
		found.Match.Send(match.GetView{Reply: views})
		select {
		case v := <-views:
			return v, nil
		case <-found.Match.Done():
			return match.View{}, ErrMatchNotFound
		case <-ctx.Done():
			return match.View{}, ctx.Err()
		}
	case found.Pending != nil:
		return match.View{ID: matchID, Phase: PhasePending, Roster: found.Pending, Alive: []string{}}, nil
	}
	return match.View{}, ErrMatchNotFound
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case RegisterPendingMatch:
				h.pending[msg.MatchID] = msg.Roster
				id := msg.MatchID
				h.deps.Clock.AfterFunc(h.cfg.PendingTTL, func() { h.post(expirePending{matchID: id}) })
				h.log.Info("match pending", zap.String("match_id", id), zap.Int("players", len(msg.Roster)))

			case EnsureMatch:
				msg.Reply <- h.ensure(msg.MatchID)

			case GetMatch:
				msg.Reply <- Lookup{Match: h.matches[msg.MatchID], Pending: h.pending[msg.MatchID]}

			case matchEnded:
				id := msg.res.MatchID
				h.deps.Clock.AfterFunc(h.cfg.Retention, func() { h.post(expireMatch{matchID: id}) })
				go h.archive(msg.res)

			case expireMatch:
				if mt, ok := h.matches[msg.matchID]; ok {
					mt.Send(match.Shutdown{})
					delete(h.matches, msg.matchID)
					h.log.Info("match released", zap.String("match_id", msg.matchID))
				}

			case expirePending:
				if _, ok := h.pending[msg.matchID]; ok {
					delete(h.pending, msg.matchID)
					h.log.Warn("pending match expired unused", zap.String("match_id", msg.matchID))
				}

			case ShutdownHub:
				for _, mt := range h.matches {
					mt.Send(match.Shutdown{})
				}
				clear(h.matches)
				clear(h.pending)
				h.cancel()
			}
		}
	}
}

func (h *Hub) ensure(id string) *match.Match {
	if mt := h.matches[id]; mt != nil {
		return mt
	}
	roster, ok := h.pending[id]
	if !ok {
		return nil
	}
	delete(h.pending, id)

	deps := match.Deps{
		Rules:   h.deps.Rules,
		Clock:   h.deps.Clock,
		Log:     h.deps.Log,
		OnEnded: func(res match.Result) { h.post(matchEnded{res: res}) },
	}
	if h.deps.NewRand != nil {
		deps.Rand = h.deps.NewRand()
	}
	mt := match.NewMatch(h.ctx, id, roster, h.cfg.Match, deps)
	h.matches[id] = mt
	h.log.Info("match created", zap.String("match_id", id))
	return mt
}

func (h *Hub) archive(res match.Result) {
	ctx, cancel := context.WithTimeout(h.ctx, archiveTimeout)
	defer cancel()
	if err := h.deps.Archive.SaveMatch(ctx, res); err != nil {
		h.log.Error("archive match", zap.String("match_id", res.MatchID), zap.Error(err))
	}
}
