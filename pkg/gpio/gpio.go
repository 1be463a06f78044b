// Package gpio provides the pin collaborators of the node. All of
// them are fire-and-forget: a call never blocks and never fails.
package gpio

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// IO triggers and writes pins.
type IO interface {
	TriggerPin(io, pin int, on bool)
	WritePin(io, pin int, value uint32)
}

// Pin addresses a pin of an io bank.
type Pin struct {
	IO  int
	Pin int
}

// String implements fmt.Stringer.
func (p Pin) String() string {
	return fmt.Sprintf("%d/%d", p.IO, p.Pin)
}

// Multi fans out to all members.
type Multi []IO

// TriggerPin implements IO.
func (m Multi) TriggerPin(io, pin int, on bool) {
	for _, dev := range m {
		dev.TriggerPin(io, pin, on)
	}
}

// WritePin implements IO.
func (m Multi) WritePin(io, pin int, value uint32) {
	for _, dev := range m {
		dev.WritePin(io, pin, value)
	}
}

// State remembers the last value of every pin and logs changes.
type State struct {
	values map[Pin]uint32
	lock   sync.RWMutex
}

// NewState creates a State.
func NewState() *State {
	return &State{values: make(map[Pin]uint32)}
}

// TriggerPin implements IO.
func (s *State) TriggerPin(io, pin int, on bool) {
	var value uint32
	if on {
		value = 1
	}
	s.WritePin(io, pin, value)
}

// WritePin implements IO.
func (s *State) WritePin(io, pin int, value uint32) {
	p := Pin{IO: io, Pin: pin}
	s.lock.Lock()
	prev, ok := s.values[p]
	s.values[p] = value
	s.lock.Unlock()
	if !ok || prev != value {
		glog.V(1).Infof("gpio %s = %d", p, value)
	}
}

// Value returns the last value written to a pin.
func (s *State) Value(io, pin int) (uint32, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	val, ok := s.values[Pin{IO: io, Pin: pin}]
	return val, ok
}

// Snapshot returns a copy of all pin values.
func (s *State) Snapshot() map[Pin]uint32 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	values := make(map[Pin]uint32, len(s.values))
	for p, val := range s.values {
		values[p] = val
	}
	return values
}
