// Package registry enforces one live connection per identity and role
// inside a single context (the lobby, or one match).
//
// A Registry is owned by exactly one coordinator and is not safe for
// concurrent use.
package registry

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/tilefall-backend/internal/types"
)

const kickReason = "Another session has connected with your wallet."

type key struct {
	wallet string
	role   types.Role
}

type Registry struct {
	conns map[key]types.Conn
	order []key
	log   *zap.Logger
}

func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{conns: make(map[key]types.Conn), log: log}
}

// Register binds conn to (wallet, role). A different connection already on
// file is kicked and returned.
func (r *Registry) Register(wallet string, conn types.Conn, role types.Role) (evicted types.Conn) {
	k := key{wallet, role}
	old, ok := r.conns[k]
	if ok && old == conn {
		return nil
	}
	if ok {
		r.log.Info("evicting stale session",
			zap.String("wallet", wallet),
			zap.String("role", string(role)),
			zap.String("old_conn", old.ID()),
			zap.String("new_conn", conn.ID()),
		)
		old.Kick(kickReason)
		evicted = old
	} else {
		r.order = append(r.order, k)
	}
	r.conns[k] = conn
	return evicted
}

// Unregister removes the mapping only if conn is the one on file.
func (r *Registry) Unregister(wallet string, conn types.Conn, role types.Role) bool {
	if !r.Matches(wallet, conn, role) {
		r.log.Debug("unregister ignored: connection not current",
			zap.String("wallet", wallet),
			zap.String("conn", conn.ID()),
		)
		return false
	}
	r.remove(key{wallet, role})
	return true
}

// Remove drops the mapping regardless of which connection is on file.
// The connection itself is left open.
func (r *Registry) Remove(wallet string, role types.Role) {
	r.remove(key{wallet, role})
}

func (r *Registry) Matches(wallet string, conn types.Conn, role types.Role) bool {
	cur, ok := r.conns[key{wallet, role}]
	return ok && cur == conn
}

func (r *Registry) Lookup(wallet string, role types.Role) (types.Conn, bool) {
	c, ok := r.conns[key{wallet, role}]
	return c, ok
}

func (r *Registry) Len() int { return len(r.conns) }

// Each visits every registered connection in registration order.
func (r *Registry) Each(fn func(wallet string, role types.Role, conn types.Conn)) {
	for _, k := range r.order {
		fn(k.wallet, k.role, r.conns[k])
	}
}

func (r *Registry) remove(k key) {
	if _, ok := r.conns[k]; !ok {
		return
	}
	delete(r.conns, k)
	for i, o := range r.order {
		if o == k {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
