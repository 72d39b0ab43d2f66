// Package identity holds the instance identifier assigned by the dashboard.
//
// The identifier is written once, by the registrar, and read concurrently by
// the heartbeat loop and the embedding application. Readers observe either
// "absent" or the final value; the cell is never reset.
package identity

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Cell is a write-once instance id. The zero value is not usable; use NewCell.
type Cell struct {
	id    atomic.Pointer[uuid.UUID]
	once  sync.Once
	ready chan struct{}
}

// NewCell returns an empty cell.
func NewCell() *Cell {
	return &Cell{ready: make(chan struct{})}
}

// Set stores id if the cell is empty. It returns false when a value was
// already present; the stored value is left untouched.
func (c *Cell) Set(id uuid.UUID) bool {
	stored := false
	c.once.Do(func() {
		v := id
		c.id.Store(&v)
		close(c.ready)
		stored = true
	})
	return stored
}

// Get returns the stored id, if any.
func (c *Cell) Get() (uuid.UUID, bool) {
	p := c.id.Load()
	if p == nil {
		return uuid.Nil, false
	}
	return *p, true
}

// IsSet reports whether an id has been stored.
func (c *Cell) IsSet() bool {
	return c.id.Load() != nil
}

// Ready returns a channel closed once an id is stored.
func (c *Cell) Ready() <-chan struct{} {
	return c.ready
}
