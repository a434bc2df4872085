// Package floodguard bounds per-connection request and response rates,
// suppresses repeated error notices, and tracks temporary bans.
package floodguard

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tilefall-backend/internal/clock"
)

const window = time.Second

type Limits struct {
	MaxRequestsPerSecond  int
	MaxResponsesPerSecond int
	BanDuration           time.Duration
}

// Guard is the flood state of one connection. The reader and writer
// goroutines of a connection share it, so it carries its own lock.
type Guard struct {
	mu sync.Mutex

	wallet string
	limits Limits
	clock  clock.Clock
	bans   *BanList
	log    *zap.Logger

	windowStart time.Time
	requests    int
	responses   int
	lastError   string
	bannedUntil time.Time
}

func NewGuard(wallet string, limits Limits, c clock.Clock, bans *BanList, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Guard{
		wallet:      wallet,
		limits:      limits,
		clock:       c,
		bans:        bans,
		log:         log,
		windowStart: c.Now(),
	}
	if bans != nil {
		if until, ok := bans.Until(wallet); ok {
			g.bannedUntil = until
		}
	}
	return g
}

// RecordRequest counts one inbound message and reports whether the
// connection is banned afterwards.
func (g *Guard) RecordRequest() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tick()
	g.requests++
	if g.requests > g.limits.MaxRequestsPerSecond {
		g.ban("too many requests per second")
		return true
	}
	return g.banned()
}

// RecordResponse counts one outbound message and reports whether the
// connection is banned afterwards.
func (g *Guard) RecordResponse() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tick()
	g.responses++
	if g.responses > g.limits.MaxResponsesPerSecond {
		g.ban("too many responses per second")
		return true
	}
	return g.banned()
}

// ShouldSendError reports whether an error with this code may be sent.
// Only the first of a run of identical codes passes.
func (g *Guard) ShouldSendError(code string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastError == code {
		g.log.Warn("suppressed duplicate error", zap.String("wallet", g.wallet), zap.String("code", code))
		return false
	}
	g.lastError = code
	return true
}

// ResetOnValidAction clears error suppression after a state-changing action.
func (g *Guard) ResetOnValidAction() {
	g.mu.Lock()
	g.lastError = ""
	g.mu.Unlock()
}

func (g *Guard) Banned() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.banned()
}

// BanRemaining is the time left on the ban, or zero.
func (g *Guard) BanRemaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d := g.bannedUntil.Sub(g.clock.Now()); d > 0 {
		return d
	}
	return 0
}

func (g *Guard) banned() bool {
	return g.clock.Now().Before(g.bannedUntil)
}

func (g *Guard) ban(reason string) {
	if g.banned() {
		return
	}
	g.bannedUntil = g.clock.Now().Add(g.limits.BanDuration)
	if g.bans != nil {
		g.bans.Ban(g.wallet, g.bannedUntil)
	}
	g.log.Warn("banned connection",
		zap.String("wallet", g.wallet),
		zap.Time("until", g.bannedUntil),
		zap.String("reason", reason),
	)
}

func (g *Guard) tick() {
	now := g.clock.Now()
	if now.Sub(g.windowStart) >= window {
		g.windowStart = now
		g.requests = 0
		g.responses = 0
	}
}
