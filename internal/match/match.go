// Package match runs one match from mode voting to its last turn.
//
// A Match is an actor: every mutation happens on its own goroutine while
// processing one inbox message at a time. Timers never touch state directly;
// they post a deadline message tagged with the phase or turn that scheduled
// it, and the handler drops it if that phase or turn has already resolved.
package match

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tilefall-backend/internal/clock"
	"github.com/DoyleJ11/tilefall-backend/internal/engine"
	"github.com/DoyleJ11/tilefall-backend/internal/registry"
	"github.com/DoyleJ11/tilefall-backend/internal/types"
	wire "github.com/DoyleJ11/tilefall-backend/pkg/types"
)

type Phase string

const (
	PhaseModeChoice Phase = "ModeChoice"
	PhaseInProgress Phase = "InProgress"
	PhaseEnded      Phase = "Ended"
)

type Config struct {
	ModeChoice time.Duration
	Turn       time.Duration
}

// Result summarises a finished match.
type Result struct {
	MatchID   string
	Mode      string
	ChosenBy  string
	Roster    []wire.PlayerInfo
	Winner    string
	Turns     int
	StartedAt time.Time
	EndedAt   time.Time
}

type Deps struct {
	Rules engine.Rules
	Clock clock.Clock
	Rand  engine.Rand
	Log   *zap.Logger
	// OnEnded is called once, from the match goroutine, when the match ends.
	// It must not block.
	OnEnded func(Result)
}

type Match struct {
	id     string
	roster []wire.PlayerInfo
	member map[string]bool

	inbox  chan Msg
	cfg    Config
	deps   Deps
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	reg   *registry.Registry
	phase Phase

	// mode choice
	votes        map[string]engine.Mode
	voters       []string
	modeDeadline time.Time
	modeTimer    clock.Timer
	modeGen      int
	finalized    bool
	mode         engine.Mode
	chosenBy     string

	// turns
	state          engine.State
	pending        map[string]engine.Action
	turnInProgress bool
	turnDeadline   time.Time
	turnTimer      clock.Timer
	resolved       int

	startedAt time.Time
	endedAt   time.Time
}

// NewMatch creates the match, opens mode voting and starts its loop.
func NewMatch(parent context.Context, id string, roster []wire.PlayerInfo, cfg Config, deps Deps) *Match {
	m := newMatch(parent, id, roster, cfg, deps)
	go m.loop()
	return m
}

func newMatch(parent context.Context, id string, roster []wire.PlayerInfo, cfg Config, deps Deps) *Match {
	ctx, cancel := context.WithCancel(parent)
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	log := deps.Log.With(zap.String("match_id", id))
	m := &Match{
		id:     id,
		roster: append([]wire.PlayerInfo(nil), roster...),
		member: make(map[string]bool, len(roster)),
		inbox:  make(chan Msg, 256),
		cfg:    cfg,
		deps:   deps,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		reg:    registry.New(log),
		phase:  PhaseModeChoice,
		votes:  make(map[string]engine.Mode),
	}
	for _, p := range roster {
		m.member[p.ID] = true
	}
	m.openModeChoice()
	return m
}

func (m *Match) ID() string { return m.id }

// IsPlayer reports whether wallet is on the roster. The roster never
// changes, so this is safe from any goroutine.
func (m *Match) IsPlayer(wallet string) bool { return m.member[wallet] }

func (m *Match) Roster() []wire.PlayerInfo {
	return append([]wire.PlayerInfo(nil), m.roster...)
}

func (m *Match) Inbox() chan<- Msg { return m.inbox }

// Send posts msg without blocking past the match's lifetime.
func (m *Match) Send(msg Msg) {
	select {
	case m.inbox <- msg:
	case <-m.ctx.Done():
	}
}

// Done is closed once the match loop has stopped.
func (m *Match) Done() <-chan struct{} { return m.ctx.Done() }

func (m *Match) loop() {
	for {
		select {
		case <-m.ctx.Done():
			m.shutdown()
			return

		case msg := <-m.inbox:
			if _, ok := msg.(Shutdown); ok {
				m.shutdown()
				return
			}
			m.handle(msg)
		}
	}
}

func (m *Match) handle(msg Msg) {
	switch msg := msg.(type) {
	case Register:
		m.register(msg)
	case Unregister:
		m.reg.Unregister(msg.Wallet, msg.Conn, msg.Role)
	case Vote:
		m.vote(msg)
	case SubmitAction:
		m.submitAction(msg)
	case modeDeadline:
		if msg.gen != m.modeGen {
			return
		}
		m.finalize()
	case turnDeadline:
		m.resolveTurn(msg.turn)
	case GetView:
		msg.Reply <- m.view()
	}
}

func (m *Match) register(msg Register) {
	m.reg.Register(msg.Wallet, msg.Conn, msg.Role)
	m.log.Info("connection registered", zap.String("wallet", msg.Wallet), zap.String("role", string(msg.Role)))

	switch m.phase {
	case PhaseModeChoice:
		msg.Conn.Send(m.preGameData())
		for _, w := range m.voters {
			msg.Conn.Send(voteUpdate(w, m.votes[w]))
		}
	case PhaseInProgress:
		msg.Conn.Send(m.stateUpdate(remainingSecs(m.turnDeadline, m.deps.Clock.Now())))
	case PhaseEnded:
		msg.Conn.Send(m.stateUpdate(0))
	}
}

func (m *Match) openModeChoice() {
	m.modeGen++
	gen := m.modeGen
	m.modeDeadline = m.deps.Clock.Now().Add(m.cfg.ModeChoice)
	m.modeTimer = m.deps.Clock.AfterFunc(m.cfg.ModeChoice, func() {
		m.Send(modeDeadline{gen: gen})
	})
	m.broadcast(m.preGameData())
}

func (m *Match) vote(msg Vote) {
	if !m.member[msg.Wallet] {
		m.reply(msg.Conn, wire.NewError(wire.CodeNotAPlayer, "Only players on the roster may vote.",
			map[string]any{"wallet": msg.Wallet}))
		return
	}
	if m.phase != PhaseModeChoice || m.finalized {
		m.log.Debug("vote dropped: voting closed", zap.String("wallet", msg.Wallet))
		return
	}
	mode, ok := engine.ParseMode(m.deps.Rules, msg.Mode)
	if !ok {
		m.reply(msg.Conn, wire.NewError(wire.CodeInvalidAction, "Unknown game mode.",
			map[string]any{"mode": msg.Mode}))
		return
	}

	if _, seen := m.votes[msg.Wallet]; !seen {
		m.voters = append(m.voters, msg.Wallet)
	}
	m.votes[msg.Wallet] = mode
	m.broadcast(voteUpdate(msg.Wallet, mode))

	if len(m.voters) == len(m.roster) {
		m.finalize()
	}
}

func (m *Match) finalize() {
	if m.finalized {
		return
	}
	m.finalized = true
	m.modeTimer.Stop()

	if len(m.voters) > 0 {
		by := m.voters[m.deps.Rand.IntN(len(m.voters))]
		m.mode, m.chosenBy = m.votes[by], by
	} else {
		modes := m.deps.Rules.Modes()
		m.mode = modes[m.deps.Rand.IntN(len(modes))]
		m.chosenBy = m.roster[m.deps.Rand.IntN(len(m.roster))].ID
	}
	m.log.Info("mode chosen", zap.String("mode", string(m.mode)), zap.String("chosen_by", m.chosenBy), zap.Int("votes", len(m.voters)))
	m.broadcast(wire.ServerMessage{
		Action: wire.ActionModeChosen,
		Data:   wire.ModeChosen{Mode: string(m.mode), ChosenBy: m.chosenBy},
	})

	m.state = m.deps.Rules.Init(m.roster, m.mode, m.deps.Rand)
	m.phase = PhaseInProgress
	m.startedAt = m.deps.Clock.Now()
	m.startTurn()
}

func (m *Match) startTurn() {
	m.pending = make(map[string]engine.Action)
	m.turnInProgress = true
	turn := m.state.Turn
	m.turnDeadline = m.deps.Clock.Now().Add(m.cfg.Turn)
	m.turnTimer = m.deps.Clock.AfterFunc(m.cfg.Turn, func() {
		m.Send(turnDeadline{turn: turn})
	})
	m.broadcast(m.stateUpdate(remainingSecs(m.turnDeadline, m.deps.Clock.Now())))
}

func (m *Match) submitAction(msg SubmitAction) {
	if !m.member[msg.Wallet] {
		m.reply(msg.Conn, wire.NewError(wire.CodeNotAPlayer, "Only players on the roster may act.",
			map[string]any{"wallet": msg.Wallet}))
		return
	}
	if m.phase != PhaseInProgress || !m.turnInProgress || !m.state.IsAlive(msg.Wallet) {
		m.log.Debug("action dropped: not accepting", zap.String("wallet", msg.Wallet))
		return
	}
	if _, dup := m.pending[msg.Wallet]; dup {
		m.log.Debug("action dropped: already acted this turn", zap.String("wallet", msg.Wallet), zap.Int("turn", m.state.Turn))
		return
	}
	if _, err := m.deps.Rules.Apply(m.state, msg.Action, msg.Wallet); err != nil {
		m.reply(msg.Conn, wire.NewError(wire.CodeInvalidAction, err.Error(), nil))
		return
	}

	m.pending[msg.Wallet] = msg.Action
	if len(m.pending) == m.state.AliveCount() {
		m.turnTimer.Stop()
		m.resolveTurn(m.state.Turn)
	}
}

func (m *Match) resolveTurn(turn int) {
	if !m.turnInProgress || turn != m.state.Turn {
		m.log.Debug("stale turn resolution ignored", zap.Int("turn", turn))
		return
	}
	m.turnInProgress = false
	m.turnTimer.Stop()

	s := m.state
	for _, p := range m.roster {
		if !s.IsAlive(p.ID) {
			continue
		}
		a, ok := m.pending[p.ID]
		if !ok {
			a = engine.Stay()
		}
		next, err := m.deps.Rules.Apply(s, a, p.ID)
		if err != nil {
			m.log.Warn("action rejected at resolution", zap.String("wallet", p.ID), zap.Error(err))
			continue
		}
		s = next
	}
	m.state = m.deps.Rules.Advance(s, m.deps.Rand)
	m.resolved++
	m.log.Debug("turn resolved", zap.Int("turn", turn), zap.Int("alive", m.state.AliveCount()))

	if m.state.AliveCount() > 1 {
		m.startTurn()
		return
	}
	m.end()
}

func (m *Match) end() {
	m.phase = PhaseEnded
	m.endedAt = m.deps.Clock.Now()
	m.broadcast(m.stateUpdate(0))

	res := Result{
		MatchID:   m.id,
		Mode:      string(m.mode),
		ChosenBy:  m.chosenBy,
		Roster:    m.Roster(),
		Turns:     m.resolved,
		StartedAt: m.startedAt,
		EndedAt:   m.endedAt,
	}
	if alive := m.state.AliveIDs(); len(alive) == 1 {
		res.Winner = alive[0]
	}
	m.log.Info("match ended", zap.String("winner", res.Winner), zap.Int("turns", res.Turns))
	if m.deps.OnEnded != nil {
		m.deps.OnEnded(res)
	}
}

func (m *Match) broadcast(msg wire.ServerMessage) {
	m.reg.Each(func(wallet string, _ types.Role, c types.Conn) {
		if !c.Send(msg) {
			m.log.Debug("message not delivered", zap.String("wallet", wallet), zap.String("action", msg.Action))
		}
	})
}

func (m *Match) reply(c types.Conn, msg wire.ServerMessage) {
	if c != nil {
		c.Send(msg)
	}
}

func (m *Match) preGameData() wire.ServerMessage {
	modes := m.deps.Rules.Modes()
	names := make([]string, len(modes))
	for i, md := range modes {
		names[i] = string(md)
	}
	return wire.ServerMessage{
		Action: wire.ActionPreGameData,
		Data: wire.PreGameData{
			Modes:        names,
			DeadlineSecs: remainingSecs(m.modeDeadline, m.deps.Clock.Now()),
			Players:      m.Roster(),
			GridDims:     m.deps.Rules.Dims(),
		},
	}
}

func (m *Match) stateUpdate(secs int) wire.ServerMessage {
	return wire.ServerMessage{
		Action: wire.ActionStateUpdate,
		Data:   wire.StateUpdate{GameState: m.state.Snapshot(), TurnDurationSecs: secs},
	}
}

func voteUpdate(wallet string, mode engine.Mode) wire.ServerMessage {
	return wire.ServerMessage{
		Action: wire.ActionModeVoteUpdate,
		Data:   wire.ModeVoteUpdate{Wallet: wallet, Mode: string(mode)},
	}
}

func (m *Match) view() View {
	v := View{
		ID:             m.id,
		Phase:          m.phase,
		Roster:         m.Roster(),
		Mode:           string(m.mode),
		ChosenBy:       m.chosenBy,
		Votes:          make(map[string]string, len(m.votes)),
		TurnInProgress: m.turnInProgress,
		Resolved:       m.resolved,
		Connections:    m.reg.Len(),
		Alive:          []string{},
	}
	for w, md := range m.votes {
		v.Votes[w] = string(md)
	}
	if m.phase != PhaseModeChoice {
		v.Turn = m.state.Turn
		v.Alive = m.state.AliveIDs()
	}
	return v
}

func (m *Match) shutdown() {
	if m.modeTimer != nil {
		m.modeTimer.Stop()
	}
	if m.turnTimer != nil {
		m.turnTimer.Stop()
	}
	m.cancel()
}

func remainingSecs(deadline, now time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
