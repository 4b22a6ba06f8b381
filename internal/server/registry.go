package server

import (
	"errors"
	"sync"
)

var (
	ErrConnectionExists   = errors.New("connection id already registered")
	ErrConnectionNotFound = errors.New("unknown connection")
)

// ConnectionRegistry tracks every live connection keyed by its opaque
// connection id. Lookups never block on room state, so the signaling
// relay can resolve targets without touching a room goroutine.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Client
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[string]*Client),
	}
}

func (cr *ConnectionRegistry) Register(c *Client) error {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if _, ok := cr.conns[c.id]; ok {
		return ErrConnectionExists
	}

	cr.conns[c.id] = c
	return nil
}

func (cr *ConnectionRegistry) Get(id string) (*Client, bool) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	c, ok := cr.conns[id]
	return c, ok
}

// Attach records the room a connection is currently in. Fails if the
// connection was never registered or has already been removed.
func (cr *ConnectionRegistry) Attach(id string, r *Room) error {
	cr.mu.RLock()
	c, ok := cr.conns[id]
	cr.mu.RUnlock()

	if !ok {
		return ErrConnectionNotFound
	}

	c.setRoom(r)
	return nil
}

func (cr *ConnectionRegistry) Detach(id string, r *Room) {
	cr.mu.RLock()
	c, ok := cr.conns[id]
	cr.mu.RUnlock()

	if ok {
		c.clearRoom(r)
	}
}

func (cr *ConnectionRegistry) Remove(id string) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	delete(cr.conns, id)
}

func (cr *ConnectionRegistry) Len() int {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	return len(cr.conns)
}

// Each calls fn for every registered connection. Used at shutdown to
// stop client pumps.
func (cr *ConnectionRegistry) Each(fn func(c *Client)) {
	cr.mu.RLock()
	clients := make([]*Client, 0, len(cr.conns))
	for _, c := range cr.conns {
		clients = append(clients, c)
	}
	cr.mu.RUnlock()

	for _, c := range clients {
		fn(c)
	}
}
