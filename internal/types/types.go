package types

import wire "github.com/DoyleJ11/tilefall-backend/pkg/types"

type Role string

const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// Conn is a live client connection as seen by a coordinator.
// Send and Kick must not block the caller.
type Conn interface {
	ID() string
	// Send queues msg for delivery. It reports false if the connection is
	// already closed or could not keep up.
	Send(msg wire.ServerMessage) bool
	// Kick delivers a SessionKicked notice and then closes the connection.
	Kick(reason string)
}
