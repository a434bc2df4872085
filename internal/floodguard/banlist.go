package floodguard

import (
	"sync"
	"time"

	"github.com/DoyleJ11/tilefall-backend/internal/clock"
)

// BanList remembers bans per wallet so that a reconnect cannot shed one.
// It is shared by every endpoint and safe for concurrent use.
type BanList struct {
	mu    sync.Mutex
	clock clock.Clock
	until map[string]time.Time
}

func NewBanList(c clock.Clock) *BanList {
	return &BanList{clock: c, until: make(map[string]time.Time)}
}

func (b *BanList) Ban(wallet string, until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.until[wallet]; ok && cur.After(until) {
		return
	}
	b.until[wallet] = until
}

// Until returns the ban expiry for wallet if a ban is still running.
func (b *BanList) Until(wallet string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.until[wallet]
	if !ok {
		return time.Time{}, false
	}
	if !b.clock.Now().Before(until) {
		delete(b.until, wallet)
		return time.Time{}, false
	}
	return until, true
}

// Remaining is the time left on the wallet's ban, or zero.
func (b *BanList) Remaining(wallet string) time.Duration {
	until, ok := b.Until(wallet)
	if !ok {
		return 0
	}
	return until.Sub(b.clock.Now())
}
