package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/tilefall-backend/internal/testutil"
	"github.com/DoyleJ11/tilefall-backend/internal/types"
	wire "github.com/DoyleJ11/tilefall-backend/pkg/types"
)

func TestRegister_NewConnectionKicksOld(t *testing.T) {
	r := New(nil)
	a := testutil.NewConn("A")
	b := testutil.NewConn("B")

	assert.Nil(t, r.Register("w1", a, types.RolePlayer))
	evicted := r.Register("w1", b, types.RolePlayer)

	require.Equal(t, a, evicted)
	assert.True(t, a.Kicked())
	assert.Equal(t, []string{wire.ActionSessionKicked}, a.Actions())
	assert.False(t, b.Kicked())

	cur, ok := r.Lookup("w1", types.RolePlayer)
	require.True(t, ok)
	assert.Equal(t, b, cur)
}

func TestUnregister_StaleConnectionDoesNotRemoveLive(t *testing.T) {
	r := New(nil)
	a := testutil.NewConn("A")
	b := testutil.NewConn("B")
	r.Register("w1", a, types.RolePlayer)
	r.Register("w1", b, types.RolePlayer)

	assert.False(t, r.Unregister("w1", a, types.RolePlayer))
	assert.True(t, r.Matches("w1", b, types.RolePlayer))

	assert.True(t, r.Unregister("w1", b, types.RolePlayer))
	assert.Equal(t, 0, r.Len())
}

func TestRegister_SameConnectionIsNoop(t *testing.T) {
	r := New(nil)
	a := testutil.NewConn("A")
	r.Register("w1", a, types.RolePlayer)
	assert.Nil(t, r.Register("w1", a, types.RolePlayer))
	assert.False(t, a.Kicked())
	assert.Equal(t, 1, r.Len())
}

func TestRoles_TrackedIndependently(t *testing.T) {
	r := New(nil)
	p := testutil.NewConn("P")
	s := testutil.NewConn("S")
	r.Register("w1", p, types.RolePlayer)
	r.Register("w1", s, types.RoleSpectator)

	assert.False(t, p.Kicked())
	assert.Equal(t, 2, r.Len())

	var seen []string
	r.Each(func(wallet string, role types.Role, c types.Conn) {
		seen = append(seen, c.ID())
	})
	assert.Equal(t, []string{"P", "S"}, seen)
}

func TestRemove_LeavesConnectionOpen(t *testing.T) {
	r := New(nil)
	a := testutil.NewConn("A")
	r.Register("w1", a, types.RolePlayer)
	r.Remove("w1", types.RolePlayer)

	_, ok := r.Lookup("w1", types.RolePlayer)
	assert.False(t, ok)
	assert.False(t, a.Kicked())
}
