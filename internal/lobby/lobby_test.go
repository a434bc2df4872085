package lobby

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/tilefall-backend/internal/clock"
	"github.com/DoyleJ11/tilefall-backend/internal/testutil"
	wire "github.com/DoyleJ11/tilefall-backend/pkg/types"
)

type launched struct {
	id     string
	roster []wire.PlayerInfo
}

type fakeLauncher struct {
	mu      sync.Mutex
	matches []launched
}

func (f *fakeLauncher) RegisterPendingMatch(id string, roster []wire.PlayerInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches = append(f.matches, launched{id: id, roster: roster})
}

func (f *fakeLauncher) all() []launched {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]launched(nil), f.matches...)
}

type fakeRefunder struct{ wallets []string }

func (f *fakeRefunder) Refund(w string) { f.wallets = append(f.wallets, w) }

type harness struct {
	l        *Lobby
	clock    *clock.Manual
	launcher *fakeLauncher
	refunder *fakeRefunder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		clock:    clock.NewManual(time.Unix(1_000, 0)),
		launcher: &fakeLauncher{},
		refunder: &fakeRefunder{},
	}
	n := 0
	h.l = newLobby(ctx,
		Config{MinPlayers: 2, MaxPlayers: 3, Countdown: 30 * time.Second},
		Deps{
			Launcher: h.launcher,
			Refunder: h.refunder,
			Clock:    h.clock,
			NewID: func() string {
				n++
				return fmt.Sprintf("match-%d", n)
			},
		},
	)
	return h
}

// do handles m and then anything the timers posted meanwhile.
func (h *harness) do(m Msg) {
	h.l.handle(m)
	h.drain()
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.drain()
}

func (h *harness) drain() {
	for {
		select {
		case m := <-h.l.inbox:
			h.l.handle(m)
		default:
			return
		}
	}
}

func (h *harness) join(wallet string) *testutil.Conn {
	c := testutil.NewConn("conn-" + wallet)
	h.do(Join{Wallet: wallet, Username: "user_" + wallet, Conn: c})
	return c
}

func lastUpdate(t *testing.T, c *testutil.Conn) wire.UpdateState {
	t.Helper()
	m, ok := c.Last(wire.ActionUpdateState)
	require.True(t, ok, "no UpdateState on %s", c.ID())
	return m.Data.(wire.UpdateState)
}

func recvView(t *testing.T, ch <-chan View, within time.Duration) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{}
	}
}

func TestJoin_PushesStateAndDefaultsUsername(t *testing.T) {
	h := newHarness(t)
	c := testutil.NewConn("c1")
	h.do(Join{Wallet: "0xabcdef123", Conn: c})

	u := lastUpdate(t, c)
	require.Len(t, u.LobbyPlayers, 1)
	assert.Equal(t, "Player_0xabcd", u.LobbyPlayers[0].Username)
	assert.Empty(t, u.ReadyPlayers)
	assert.False(t, u.CountdownActive)
}

func TestJoin_DuplicateKicksOldAndStaleLeaveIsIgnored(t *testing.T) {
	h := newHarness(t)
	a := h.join("w1")
	b := h.join("w1")

	assert.True(t, a.Kicked())
	assert.False(t, b.Kicked())
	assert.Equal(t, 1, len(lastUpdate(t, b).LobbyPlayers))

	h.do(Leave{Wallet: "w1", Conn: a})
	v := h.l.view()
	assert.Equal(t, []string{"w1"}, v.Waiting)
	assert.Equal(t, 1, v.Connections)

	// stale payments are ignored too
	h.do(Pay{Wallet: "w1", Conn: a})
	assert.Empty(t, h.l.view().Groups)
}

func TestPay_FillingGroupLaunchesImmediately(t *testing.T) {
	h := newHarness(t)
	c1 := h.join("w1")
	c2 := h.join("w2")

	h.do(Pay{Wallet: "w1", Conn: c1})
	assert.False(t, h.l.view().CountdownActive)

	h.do(Pay{Wallet: "w2", Conn: c2})
	v := h.l.view()
	require.True(t, v.CountdownActive)
	assert.Equal(t, 30, v.CountdownRemaining)
	assert.Equal(t, 1, h.clock.Pending())

	u := lastUpdate(t, c1)
	assert.True(t, u.CountdownActive)
	assert.Len(t, u.ReadyPlayers, 2)

	h.advance(10 * time.Second)
	c3 := h.join("w3")
	h.do(Pay{Wallet: "w3", Conn: c3})

	require.Len(t, h.launcher.all(), 1)
	m := h.launcher.all()[0]
	assert.Equal(t, "match-1", m.id)
	assert.Equal(t, []wire.PlayerInfo{
		{ID: "w1", Username: "user_w1"},
		{ID: "w2", Username: "user_w2"},
		{ID: "w3", Username: "user_w3"},
	}, m.roster)

	for _, c := range []*testutil.Conn{c1, c2, c3} {
		got, ok := c.Last(wire.ActionGameStarted)
		require.True(t, ok)
		assert.Equal(t, wire.GameStarted{MatchID: "match-1"}, got.Data)
	}

	v = h.l.view()
	assert.False(t, v.CountdownActive)
	assert.Empty(t, v.Groups)
	assert.Equal(t, 0, v.Connections)
	assert.Equal(t, 0, h.clock.Pending())

	// the cancelled countdown never launches a second match
	h.advance(time.Minute)
	assert.Len(t, h.launcher.all(), 1)
}

func TestCountdownExpiry_LaunchesGroupAtMinimum(t *testing.T) {
	h := newHarness(t)
	c1 := h.join("w1")
	c2 := h.join("w2")
	h.do(Pay{Wallet: "w1", Conn: c1})
	h.do(Pay{Wallet: "w2", Conn: c2})

	h.advance(29 * time.Second)
	assert.Empty(t, h.launcher.all())
	assert.Equal(t, 1, h.l.view().CountdownRemaining)

	h.advance(time.Second)
	require.Len(t, h.launcher.all(), 1)
	assert.Len(t, h.launcher.all()[0].roster, 2)
	assert.Empty(t, h.l.view().Groups)
}

func TestCountdownExpiry_StaleGenerationIgnored(t *testing.T) {
	h := newHarness(t)
	c1 := h.join("w1")
	c2 := h.join("w2")
	h.do(Pay{Wallet: "w1", Conn: c1})
	h.do(Pay{Wallet: "w2", Conn: c2})

	h.do(countdownExpired{gen: 99})
	assert.Empty(t, h.launcher.all())
	assert.True(t, h.l.view().CountdownActive)
}

func TestLeave_RejectedWhileCountdownActive(t *testing.T) {
	h := newHarness(t)
	c1 := h.join("w1")
	c2 := h.join("w2")
	h.do(Pay{Wallet: "w1", Conn: c1})
	h.do(Pay{Wallet: "w2", Conn: c2})

	h.do(Leave{Wallet: "w2", Conn: c2})
	v := h.l.view()
	assert.Equal(t, [][]string{{"w1", "w2"}}, v.Groups)
	assert.Empty(t, h.refunder.wallets)

	h.advance(30 * time.Second)
	require.Len(t, h.launcher.all(), 1)
	assert.Len(t, h.launcher.all()[0].roster, 2)
}

func TestLeave_FromGroupWithoutCountdownRefunds(t *testing.T) {
	h := newHarness(t)
	c1 := h.join("w1")
	h.join("w2")
	h.do(Pay{Wallet: "w1", Conn: c1})

	h.do(Leave{Wallet: "w1", Conn: c1})
	v := h.l.view()
	assert.Empty(t, v.Groups)
	assert.Equal(t, []string{"w2"}, v.Waiting)
	assert.Equal(t, []string{"w1"}, h.refunder.wallets)
}

func TestCancelPayment(t *testing.T) {
	h := newHarness(t)
	c1 := h.join("w1")
	c2 := h.join("w2")
	h.do(Pay{Wallet: "w1", Conn: c1})

	h.do(CancelPayment{Wallet: "w1", Conn: c1})
	v := h.l.view()
	assert.Empty(t, v.Groups)
	assert.ElementsMatch(t, []string{"w1", "w2"}, v.Waiting)
	assert.Equal(t, []string{"w1"}, h.refunder.wallets)

	h.do(Pay{Wallet: "w1", Conn: c1})
	h.do(Pay{Wallet: "w2", Conn: c2})
	require.True(t, h.l.view().CountdownActive)

	c1.Reset()
	h.do(CancelPayment{Wallet: "w1", Conn: c1})
	m, ok := c1.Last(wire.ActionError)
	require.True(t, ok)
	assert.Equal(t, wire.CodeCountdownActive, m.ErrorCode())
	assert.Equal(t, [][]string{{"w1", "w2"}}, h.l.view().Groups)
}

func TestRandomOperations_KeepLobbyInvariants(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewPCG(7, 11))
	wallets := []string{"a", "b", "c", "d", "e", "f", "g"}
	conns := map[string]*testutil.Conn{}

	for step := 0; step < 2000; step++ {
		w := wallets[rng.IntN(len(wallets))]
		switch rng.IntN(6) {
		case 0:
			conns[w] = h.join(w)
		case 1:
			if c, ok := conns[w]; ok {
				h.do(Leave{Wallet: w, Conn: c})
			}
		case 2, 3:
			if c, ok := conns[w]; ok {
				h.do(Pay{Wallet: w, Conn: c})
			}
		case 4:
			if c, ok := conns[w]; ok {
				h.do(CancelPayment{Wallet: w, Conn: c})
			}
		case 5:
			h.advance(time.Duration(rng.IntN(20)) * time.Second)
		}

		v := h.l.view()
		seen := map[string]bool{}
		for _, x := range v.Waiting {
			require.False(t, seen[x], "step %d: %s listed twice", step, x)
			seen[x] = true
		}
		for _, g := range v.Groups {
			require.LessOrEqual(t, len(g), 3)
			for _, x := range g {
				require.False(t, seen[x], "step %d: %s in lobby and a group", step, x)
				seen[x] = true
			}
		}
	}
	for _, m := range h.launcher.all() {
		assert.GreaterOrEqual(t, len(m.roster), 2)
		assert.LessOrEqual(t, len(m.roster), 3)
	}
}

func TestLobby_LoopServesInbox(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLobby(ctx, Config{MinPlayers: 2, MaxPlayers: 2, Countdown: time.Minute},
		Deps{Launcher: &fakeLauncher{}})

	c := testutil.NewConn("c1")
	l.Inbox() <- Join{Wallet: "w1", Username: "one", Conn: c}
	c.WaitFor(t, wire.ActionUpdateState, time.Second)

	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	v := recvView(t, reply, 100*time.Millisecond)
	assert.Equal(t, []string{"w1"}, v.Waiting)

	l.Inbox() <- Shutdown{}
}
