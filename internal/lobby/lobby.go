// Package lobby is the single shared coordinator for players who have not
// yet been placed in a match. It forms ready groups, runs the launch
// countdown and hands finished groups to the match directory.
package lobby

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tilefall-backend/internal/clock"
	"github.com/DoyleJ11/tilefall-backend/internal/registry"
	"github.com/DoyleJ11/tilefall-backend/internal/types"
	wire "github.com/DoyleJ11/tilefall-backend/pkg/types"
)

type Msg interface{ isLobbyMsg() }

type Join struct {
	Wallet   string
	Username string
	Conn     types.Conn
}

func (Join) isLobbyMsg() {}

type Leave struct {
	Wallet string
	Conn   types.Conn
}

func (Leave) isLobbyMsg() {}

type Pay struct {
	Wallet string
	Conn   types.Conn
}

func (Pay) isLobbyMsg() {}

type CancelPayment struct {
	Wallet string
	Conn   types.Conn
}

func (CancelPayment) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

// countdownExpired is posted by the countdown timer. gen ties it to the
// countdown that scheduled it.
type countdownExpired struct{ gen int }

func (countdownExpired) isLobbyMsg() {}

// Launcher receives finished groups. It must not block.
type Launcher interface {
	RegisterPendingMatch(matchID string, roster []wire.PlayerInfo)
}

// Refunder is told when a player backs out of a ready group.
type Refunder interface {
	Refund(wallet string)
}

type LogRefunder struct{ Log *zap.Logger }

func (r LogRefunder) Refund(wallet string) {
	r.Log.Info("refund issued", zap.String("wallet", wallet))
}

type Config struct {
	MinPlayers int
	MaxPlayers int
	Countdown  time.Duration
}

type Deps struct {
	Launcher Launcher
	Refunder Refunder
	Clock    clock.Clock
	Log      *zap.Logger
	// NewID generates match ids. Defaults to uuid.NewString.
	NewID func() string
}

// View is a copy of the lobby state for tests and diagnostics.
type View struct {
	Waiting            []string
	Groups             [][]string
	CountdownActive    bool
	CountdownRemaining int
	Connections        int
}

type readyGroup struct {
	members []string
}

func (g *readyGroup) has(wallet string) bool {
	return indexOf(g.members, wallet) >= 0
}

type countdown struct {
	group    *readyGroup
	deadline time.Time
	timer    clock.Timer
	gen      int
}

type Lobby struct {
	inbox  chan Msg
	cfg    Config
	deps   Deps
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	reg       *registry.Registry
	names     map[string]string
	waiting   []string
	groups    []*readyGroup
	countdown *countdown
	gen       int
}

func NewLobby(parent context.Context, cfg Config, deps Deps) *Lobby {
	l := newLobby(parent, cfg, deps)
	go l.loop()
	return l
}

func newLobby(parent context.Context, cfg Config, deps Deps) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Refunder == nil {
		deps.Refunder = LogRefunder{Log: deps.Log}
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	log := deps.Log.Named("lobby")
	return &Lobby{
		inbox:  make(chan Msg, 256),
		cfg:    cfg,
		deps:   deps,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		reg:    registry.New(log),
		names:  make(map[string]string),
	}
}

// Inbox exposes the lobby's mailbox to the transport.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Send posts m without blocking past the lobby's lifetime.
func (l *Lobby) Send(m Msg) {
	select {
	case l.inbox <- m:
	case <-l.ctx.Done():
	}
}

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			if _, ok := m.(Shutdown); ok {
				l.shutdown()
				return
			}
			l.handle(m)
		}
	}
}

func (l *Lobby) handle(m Msg) {
	switch msg := m.(type) {
	case Join:
		l.join(msg)
	case Leave:
		l.leave(msg)
	case Pay:
		l.pay(msg)
	case CancelPayment:
		l.cancelPayment(msg)
	case countdownExpired:
		l.tryLaunchNextGame(msg.gen)
	case GetState:
		msg.Reply <- l.view()
	}
}

func (l *Lobby) join(msg Join) {
	name := msg.Username
	if name == "" {
		name = DefaultUsername(msg.Wallet)
	}
	l.reg.Register(msg.Wallet, msg.Conn, types.RolePlayer)
	if !l.present(msg.Wallet) {
		l.names[msg.Wallet] = name
		l.waiting = append(l.waiting, msg.Wallet)
		l.log.Info("player joined", zap.String("wallet", msg.Wallet), zap.String("username", name))
	}
	l.broadcast()
}

func (l *Lobby) leave(msg Leave) {
	if !l.reg.Matches(msg.Wallet, msg.Conn, types.RolePlayer) {
		l.log.Debug("leave ignored: stale session", zap.String("wallet", msg.Wallet))
		return
	}
	l.reg.Unregister(msg.Wallet, msg.Conn, types.RolePlayer)

	if g := l.groupOf(msg.Wallet); g != nil {
		if l.frozen(g) {
			// The seat is kept; the player can still reach the match.
			l.log.Warn("leave rejected: countdown active", zap.String("wallet", msg.Wallet))
			l.broadcast()
			return
		}
		l.removeFromGroup(g, msg.Wallet)
		l.deps.Refunder.Refund(msg.Wallet)
	} else {
		l.waiting = remove(l.waiting, msg.Wallet)
	}
	delete(l.names, msg.Wallet)
	l.log.Info("player left", zap.String("wallet", msg.Wallet))
	l.evaluate()
	l.broadcast()
}

func (l *Lobby) pay(msg Pay) {
	if !l.reg.Matches(msg.Wallet, msg.Conn, types.RolePlayer) {
		l.log.Debug("pay ignored: stale session", zap.String("wallet", msg.Wallet))
		return
	}
	if indexOf(l.waiting, msg.Wallet) < 0 {
		l.log.Debug("pay ignored: not waiting", zap.String("wallet", msg.Wallet))
		return
	}
	l.waiting = remove(l.waiting, msg.Wallet)

	var target *readyGroup
	for _, g := range l.groups {
		if len(g.members) < l.cfg.MaxPlayers {
			target = g
			break
		}
	}
	if target == nil {
		target = &readyGroup{}
		l.groups = append(l.groups, target)
	}
	target.members = append(target.members, msg.Wallet)
	l.log.Info("player ready", zap.String("wallet", msg.Wallet), zap.Int("group_size", len(target.members)))

	l.evaluate()
	l.broadcast()
}

func (l *Lobby) cancelPayment(msg CancelPayment) {
	if !l.reg.Matches(msg.Wallet, msg.Conn, types.RolePlayer) {
		l.log.Debug("cancel ignored: stale session", zap.String("wallet", msg.Wallet))
		return
	}
	g := l.groupOf(msg.Wallet)
	if g == nil {
		return
	}
	if l.frozen(g) {
		msg.Conn.Send(wire.NewError(wire.CodeCountdownActive,
			"Cannot cancel payment while the countdown is running.",
			map[string]any{"wallet": msg.Wallet},
		))
		return
	}
	l.removeFromGroup(g, msg.Wallet)
	l.waiting = append(l.waiting, msg.Wallet)
	l.deps.Refunder.Refund(msg.Wallet)
	l.log.Info("payment cancelled", zap.String("wallet", msg.Wallet))

	l.evaluate()
	l.broadcast()
}

// evaluate launches a full first group at once, or starts the countdown
// for a first group that has reached the minimum.
func (l *Lobby) evaluate() {
	for len(l.groups) > 0 {
		first := l.groups[0]
		if len(first.members) >= l.cfg.MaxPlayers {
			l.stopCountdown()
			l.launch(first)
			continue
		}
		if len(first.members) >= l.cfg.MinPlayers && l.countdown == nil {
			l.startCountdown(first)
		}
		return
	}
}

func (l *Lobby) tryLaunchNextGame(gen int) {
	if l.countdown == nil || l.countdown.gen != gen {
		l.log.Debug("stale countdown ignored", zap.Int("gen", gen))
		return
	}
	l.countdown = nil

	for _, g := range l.groups {
		if len(g.members) >= l.cfg.MinPlayers {
			l.launch(g)
			break
		}
	}
	l.evaluate()
	l.broadcast()
}

func (l *Lobby) startCountdown(g *readyGroup) {
	l.gen++
	gen := l.gen
	l.countdown = &countdown{
		group:    g,
		deadline: l.deps.Clock.Now().Add(l.cfg.Countdown),
		gen:      gen,
	}
	l.countdown.timer = l.deps.Clock.AfterFunc(l.cfg.Countdown, func() {
		l.Send(countdownExpired{gen: gen})
	})
	l.log.Info("countdown started", zap.Duration("duration", l.cfg.Countdown), zap.Int("group_size", len(g.members)))
}

func (l *Lobby) stopCountdown() {
	if l.countdown == nil {
		return
	}
	l.countdown.timer.Stop()
	l.countdown = nil
	l.log.Info("countdown cancelled")
}

func (l *Lobby) launch(g *readyGroup) {
	matchID := l.deps.NewID()
	roster := make([]wire.PlayerInfo, 0, len(g.members))
	for _, w := range g.members {
		roster = append(roster, wire.PlayerInfo{ID: w, Username: l.names[w]})
	}
	l.deps.Launcher.RegisterPendingMatch(matchID, roster)

	started := wire.ServerMessage{Action: wire.ActionGameStarted, Data: wire.GameStarted{MatchID: matchID}}
	for _, w := range g.members {
		if c, ok := l.reg.Lookup(w, types.RolePlayer); ok {
			c.Send(started)
		}
		l.reg.Remove(w, types.RolePlayer)
		delete(l.names, w)
	}
	l.dropGroup(g)
	l.log.Info("match launched", zap.String("match_id", matchID), zap.Int("players", len(roster)))
}

func (l *Lobby) broadcast() {
	msg := wire.ServerMessage{Action: wire.ActionUpdateState, Data: l.updateState()}
	l.reg.Each(func(wallet string, _ types.Role, c types.Conn) {
		if !c.Send(msg) {
			l.log.Debug("update not delivered", zap.String("wallet", wallet))
		}
	})
}

func (l *Lobby) updateState() wire.UpdateState {
	u := wire.UpdateState{
		LobbyPlayers: make([]wire.PlayerInfo, 0, len(l.waiting)),
		ReadyPlayers: []wire.PlayerInfo{},
	}
	for _, w := range l.waiting {
		u.LobbyPlayers = append(u.LobbyPlayers, wire.PlayerInfo{ID: w, Username: l.names[w]})
	}
	for _, g := range l.groups {
		for _, w := range g.members {
			u.ReadyPlayers = append(u.ReadyPlayers, wire.PlayerInfo{ID: w, Username: l.names[w]})
		}
	}
	if l.countdown != nil {
		u.CountdownActive = true
		u.CountdownRemaining = l.remainingSecs()
	}
	return u
}

func (l *Lobby) remainingSecs() int {
	d := l.countdown.deadline.Sub(l.deps.Clock.Now())
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func (l *Lobby) view() View {
	v := View{
		Waiting:     append([]string{}, l.waiting...),
		Groups:      make([][]string, 0, len(l.groups)),
		Connections: l.reg.Len(),
	}
	for _, g := range l.groups {
		v.Groups = append(v.Groups, append([]string{}, g.members...))
	}
	if l.countdown != nil {
		v.CountdownActive = true
		v.CountdownRemaining = l.remainingSecs()
	}
	return v
}

func (l *Lobby) shutdown() {
	l.stopCountdown()
	l.cancel()
}

func (l *Lobby) present(wallet string) bool {
	return indexOf(l.waiting, wallet) >= 0 || l.groupOf(wallet) != nil
}

func (l *Lobby) groupOf(wallet string) *readyGroup {
	for _, g := range l.groups {
		if g.has(wallet) {
			return g
		}
	}
	return nil
}

func (l *Lobby) frozen(g *readyGroup) bool {
	return l.countdown != nil && l.countdown.group == g
}

func (l *Lobby) removeFromGroup(g *readyGroup, wallet string) {
	g.members = remove(g.members, wallet)
	if len(g.members) == 0 {
		l.dropGroup(g)
	}
}

func (l *Lobby) dropGroup(g *readyGroup) {
	for i, o := range l.groups {
		if o == g {
			l.groups = append(l.groups[:i], l.groups[i+1:]...)
			return
		}
	}
}

// DefaultUsername is the display name used when a client sends none.
func DefaultUsername(wallet string) string {
	prefix := wallet
	if len(prefix) > 6 {
		prefix = prefix[:6]
	}
	return fmt.Sprintf("Player_%s", prefix)
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func remove(s []string, v string) []string {
	if i := indexOf(s, v); i >= 0 {
		return append(s[:i], s[i+1:]...)
	}
	return s
}
