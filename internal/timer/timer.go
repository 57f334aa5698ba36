// Package timer schedules the per-room timer classes. Each class holds at
// most one pending timer; arming replaces, canceling is always safe, and a
// generation counter lets the owner drop fires that lost a race with a
// cancel or re-arm.
package timer

import (
	"sync"
	"time"
)

type Class string

type slot struct {
	t   *time.Timer
	gen uint64
}

type Controller struct {
	mu    sync.Mutex
	slots map[Class]*slot
}

func New() *Controller {
	return &Controller{slots: make(map[Class]*slot)}
}

// Arm schedules fire after d, replacing any pending timer of the same class.
// The returned generation must be handed back to Matches before acting on
// the fire.
func (c *Controller) Arm(class Class, d time.Duration, fire func(gen uint64)) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.slots[class]
	if s == nil {
		s = &slot{}
		c.slots[class] = s
	}
	if s.t != nil {
		s.t.Stop()
	}
	s.gen++
	gen := s.gen
	s.t = time.AfterFunc(d, func() { fire(gen) })
	return gen
}

// Cancel stops the pending timer of a class. Canceling an absent or
// already-fired timer is a no-op; either way any in-flight fire of this
// class becomes stale.
func (c *Controller) Cancel(class Class) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.slots[class]
	if s == nil {
		return
	}
	if s.t != nil {
		s.t.Stop()
		s.t = nil
	}
	s.gen++
}

func (c *Controller) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.slots {
		if s.t != nil {
			s.t.Stop()
			s.t = nil
		}
		s.gen++
	}
}

// Matches reports whether a fire with the given generation is still the
// live one for its class.
func (c *Controller) Matches(class Class, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.slots[class]
	return s != nil && s.gen == gen
}
