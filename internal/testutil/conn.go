// Package testutil holds fakes shared by coordinator tests.
package testutil

import (
	"sync"
	"testing"
	"time"

	wire "github.com/DoyleJ11/tilefall-backend/pkg/types"
)

// Conn records everything a coordinator sends to it.
type Conn struct {
	id string

	mu      sync.Mutex
	msgs    []wire.ServerMessage
	kicked  string
	closed  bool
	notify  chan struct{}
	refuses bool
}

func NewConn(id string) *Conn {
	return &Conn{id: id, notify: make(chan struct{}, 1024)}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(msg wire.ServerMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.refuses {
		return false
	}
	c.msgs = append(c.msgs, msg)
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

func (c *Conn) Kick(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.msgs = append(c.msgs, wire.NewSessionKicked(reason))
	c.kicked = reason
	c.closed = true
}

// Refuse makes every later Send fail, like a client that fell behind.
func (c *Conn) Refuse() {
	c.mu.Lock()
	c.refuses = true
	c.mu.Unlock()
}

func (c *Conn) Kicked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kicked != ""
}

func (c *Conn) Messages() []wire.ServerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.ServerMessage, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Actions returns the action tag of every message received so far.
func (c *Conn) Actions() []string {
	msgs := c.Messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Action
	}
	return out
}

// Last returns the most recent message with the given action.
func (c *Conn) Last(action string) (wire.ServerMessage, bool) {
	msgs := c.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Action == action {
			return msgs[i], true
		}
	}
	return wire.ServerMessage{}, false
}

func (c *Conn) Count(action string) int {
	n := 0
	for _, a := range c.Actions() {
		if a == action {
			n++
		}
	}
	return n
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.msgs = nil
	c.mu.Unlock()
}

// WaitFor blocks until a message with the given action arrives or fails the test.
func (c *Conn) WaitFor(t *testing.T, action string, within time.Duration) wire.ServerMessage {
	t.Helper()
	deadline := time.After(within)
	for {
		if m, ok := c.Last(action); ok {
			return m
		}
		select {
		case <-c.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %s on %s", action, c.id)
			return wire.ServerMessage{}
		}
	}
}
