package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/tilefall-backend/internal/match"
	wire "github.com/DoyleJ11/tilefall-backend/pkg/types"
)

func TestRecordFromResult(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	res := match.Result{
		MatchID:   "m-1",
		Mode:      "Classic",
		ChosenBy:  "w2",
		Roster:    []wire.PlayerInfo{{ID: "w1", Username: "one"}, {ID: "w2", Username: "two"}},
		Winner:    "w1",
		Turns:     7,
		StartedAt: start,
		EndedAt:   start.Add(time.Minute),
	}

	rec, err := RecordFromResult(res)
	require.NoError(t, err)
	assert.Equal(t, "m-1", rec.ID)
	assert.Equal(t, "w1", rec.Winner)
	assert.Equal(t, 7, rec.Turns)
	assert.Equal(t, time.UTC, rec.StartedAt.Location())
	assert.True(t, rec.EndedAt.Equal(start.Add(time.Minute)))

	var roster []wire.PlayerInfo
	require.NoError(t, json.Unmarshal([]byte(rec.Roster), &roster))
	assert.Equal(t, res.Roster, roster)
	assert.Equal(t, "match_results", rec.TableName())
}

func TestNop(t *testing.T) {
	var a Archive = Nop{}
	assert.NoError(t, a.SaveMatch(context.Background(), match.Result{MatchID: "x"}))
	assert.NoError(t, a.Close())
}
