package floodguard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/tilefall-backend/internal/clock"
)

var testLimits = Limits{MaxRequestsPerSecond: 30, MaxResponsesPerSecond: 5, BanDuration: 300 * time.Second}

func TestRecordRequest_31stInOneSecondBans(t *testing.T) {
	c := clock.NewManual(time.Unix(100, 0))
	bans := NewBanList(c)
	g := NewGuard("w1", testLimits, c, bans, nil)

	for i := 0; i < 30; i++ {
		require.False(t, g.RecordRequest(), "request %d", i+1)
	}
	assert.True(t, g.RecordRequest())
	assert.True(t, g.Banned())
	assert.Equal(t, 300*time.Second, g.BanRemaining())

	// a fresh connection for the same wallet inherits the ban
	_, banned := bans.Until("w1")
	assert.True(t, banned)
	again := NewGuard("w1", testLimits, c, bans, nil)
	assert.True(t, again.Banned())

	c.Advance(301 * time.Second)
	_, banned = bans.Until("w1")
	assert.False(t, banned)
	assert.False(t, g.Banned())
}

func TestRecordRequest_WindowResets(t *testing.T) {
	c := clock.NewManual(time.Unix(100, 0))
	g := NewGuard("w1", testLimits, c, nil, nil)

	for i := 0; i < 30; i++ {
		require.False(t, g.RecordRequest())
	}
	c.Advance(time.Second)
	for i := 0; i < 30; i++ {
		require.False(t, g.RecordRequest())
	}
	assert.False(t, g.Banned())
}

func TestRecordResponse_BansOverThreshold(t *testing.T) {
	c := clock.NewManual(time.Unix(100, 0))
	g := NewGuard("w1", testLimits, c, nil, nil)
	for i := 0; i < 5; i++ {
		require.False(t, g.RecordResponse())
	}
	assert.True(t, g.RecordResponse())
}

func TestShouldSendError_SuppressesRepeatsUntilValidAction(t *testing.T) {
	c := clock.NewManual(time.Unix(100, 0))
	g := NewGuard("w1", testLimits, c, nil, nil)

	assert.True(t, g.ShouldSendError("INVALID_ACTION"))
	assert.False(t, g.ShouldSendError("INVALID_ACTION"))
	assert.True(t, g.ShouldSendError("SPECTATOR_COMMAND"))
	assert.True(t, g.ShouldSendError("INVALID_ACTION"))

	g.ResetOnValidAction()
	assert.True(t, g.ShouldSendError("INVALID_ACTION"))
}

func TestBanList_KeepsLongerBan(t *testing.T) {
	c := clock.NewManual(time.Unix(100, 0))
	b := NewBanList(c)
	b.Ban("w1", c.Now().Add(time.Minute))
	b.Ban("w1", c.Now().Add(time.Second))
	assert.Equal(t, time.Minute, b.Remaining("w1"))
	assert.Equal(t, time.Duration(0), b.Remaining("w2"))
}
