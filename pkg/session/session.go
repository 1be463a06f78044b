package session

import (
	"errors"

	"github.com/golang/glog"

	"github.com/robotalks/nodecore/pkg/framework"
)

// State is the processing state of a session.
type State int

// Session states.
const (
	StateIdle State = iota
	StateReceived
	StateProcessing
	StateSending
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceived:
		return "received"
	case StateProcessing:
		return "processing"
	case StateSending:
		return "sending"
	}
	return "unknown"
}

var (
	// ErrBusy is returned by Transport.Send while a previous send is in flight.
	ErrBusy = errors.New("send buffer busy")
	// ErrNotConnected is returned when no peer is attached.
	ErrNotConnected = errors.New("not connected")
)

// Transport is the network endpoint a session talks through.
// Send must not block, it copies p and completes asynchronously;
// connection oriented transports report completion with a sent event.
type Transport interface {
	Send(p []byte) error
	Close() error
	RefuseInput()
	Connectionless() bool
}

// Endpoint receives transport events. All methods run on the loop
// goroutine; network readers hand them over with Dispatcher.Deliver.
type Endpoint interface {
	Accept(t Transport)
	Receive(t Transport, data []byte, datagram bool)
	Sent(t Transport)
	Error(t Transport, err error)
	Disconnect(t Transport)
}

// Poster posts opcodes, implemented by framework.Dispatcher.
type Poster interface {
	Post(framework.Tier, framework.Opcode) bool
}

// Counters are the per session statistics.
type Counters struct {
	Accepted       uint32
	Received       uint32
	Overflow       uint32
	Sent           uint32
	SendOverflow   uint32
	Errors         uint32
	Disconnects    uint32
	TCP            uint32
	UDP            uint32
	Pumped         uint32
	SerialOverflow uint32
}

// base is the state machine shared by both sessions.
type base struct {
	name      string
	state     State
	transport Transport
	stats     Counters
}

// Name implements framework.Named.
func (s *base) Name() string {
	return s.name
}

// State returns the current state.
func (s *base) State() State {
	return s.state
}

// Stats returns the counters.
func (s *base) Stats() Counters {
	return s.stats
}

// Connected indicates a transport is attached.
func (s *base) Connected() bool {
	return s.transport != nil
}

func (s *base) attach(t Transport) {
	if s.transport != t {
		glog.V(2).Infof("%s: peer attached", s.name)
	}
	s.transport = t
}

func (s *base) current(t Transport) bool {
	if t != s.transport {
		glog.V(3).Infof("%s: stale transport event ignored", s.name)
		return false
	}
	return true
}

func (s *base) accept(t Transport) {
	s.stats.Accepted++
	s.transport = t
	s.state = StateIdle
}

// handOff hands p to the transport and enters sending. A busy
// transport drops p and returns to idle. Connectionless transports
// have no sent event and return to idle right away.
func (s *base) handOff(p []byte) bool {
	s.state = StateSending
	err := ErrNotConnected
	if s.transport != nil {
		err = s.transport.Send(p)
	}
	if err != nil {
		s.state = StateIdle
		s.stats.SendOverflow++
		glog.V(2).Infof("%s: send %d bytes: %v", s.name, len(p), err)
		return false
	}
	if s.transport.Connectionless() {
		s.state = StateIdle
		s.stats.Sent++
	}
	return true
}

func (s *base) sent(t Transport) bool {
	if !s.current(t) || s.state != StateSending {
		return false
	}
	s.state = StateIdle
	s.stats.Sent++
	return true
}

func (s *base) failed(t Transport, err error) bool {
	if !s.current(t) {
		return false
	}
	s.stats.Errors++
	s.state = StateIdle
	glog.Warningf("%s: transport error: %v", s.name, err)
	return true
}

func (s *base) disconnected(t Transport) bool {
	if !s.current(t) {
		return false
	}
	s.stats.Disconnects++
	s.state = StateIdle
	s.transport = nil
	glog.V(2).Infof("%s: disconnected", s.name)
	return true
}
