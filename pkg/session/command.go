package session

import (
	"bytes"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/nodecore/pkg/comm"
	"github.com/robotalks/nodecore/pkg/framework"
)

// Action classifies the response of a command.
type Action int

// Command actions.
const (
	ActionNormal Action = iota
	ActionError
	ActionHTTPOK
	ActionEmpty
	ActionDisconnect
	ActionReset
)

// String implements fmt.Stringer.
func (a Action) String() string {
	switch a {
	case ActionNormal:
		return "normal"
	case ActionError:
		return "error"
	case ActionHTTPOK:
		return "http-ok"
	case ActionEmpty:
		return "empty"
	case ActionDisconnect:
		return "disconnect"
	case ActionReset:
		return "reset"
	}
	return "unknown"
}

// Canned responses replacing whatever the handler wrote.
const (
	EmptyResponse      = "> empty command\n"
	DisconnectResponse = "> disconnect\n"
	ResetResponse      = "> reset\n"
)

// Handler produces the response of one complete command.
type Handler interface {
	Process(cmd []byte, out *bytes.Buffer) Action
}

// HandlerFunc is the func form of Handler.
type HandlerFunc func(cmd []byte, out *bytes.Buffer) Action

// Process implements Handler.
func (f HandlerFunc) Process(cmd []byte, out *bytes.Buffer) Action {
	return f(cmd, out)
}

// Default sizes and delays of the command session.
const (
	DefaultCommandBufferSize = 4096 + 64
	DefaultResetDelay        = 100 * time.Millisecond
)

// Command is the command console session.
type Command struct {
	base

	Handler Handler
	Poster  Poster

	// ProcessOp is posted on the command tier once a command is complete.
	ProcessOp framework.Opcode
	// ResetOp is posted on the command tier when the reset response left.
	ResetOp framework.Opcode

	BufferSize int
	ResetDelay time.Duration
	Sleep      func(time.Duration)

	framer  comm.CommandFramer
	recv    []byte
	command []byte
	out     bytes.Buffer

	preparingReset    bool
	resetPosted       bool
	closeAfterSend    bool
	disconnectPending bool
}

// NewCommand creates a command console session.
func NewCommand(handler Handler, poster Poster, processOp, resetOp framework.Opcode) *Command {
	return &Command{
		base:       base{name: "command"},
		Handler:    handler,
		Poster:     poster,
		ProcessOp:  processOp,
		ResetOp:    resetOp,
		BufferSize: DefaultCommandBufferSize,
		ResetDelay: DefaultResetDelay,
		Sleep:      time.Sleep,
	}
}

// PreparingReset indicates a reset response is in flight.
func (c *Command) PreparingReset() bool {
	return c.preparingReset
}

// DisconnectPending indicates the peer must be disconnected by a
// background task.
func (c *Command) DisconnectPending() bool {
	return c.disconnectPending
}

// Owed returns the bytes still expected by a flash-send command.
func (c *Command) Owed() int {
	return c.framer.Owed()
}

// Accept implements Endpoint. A complete command of the replaced
// peer still waiting for ProcessOp is dropped and counted.
func (c *Command) Accept(t Transport) {
	if c.state == StateReceived && c.transport != t {
		c.stats.Overflow++
		glog.Warningf("command: pending command %q dropped, new peer accepted", c.command)
	}
	c.accept(t)
	c.discard()
	c.closeAfterSend, c.disconnectPending = false, false
}

// Receive implements Endpoint. Only an idle session takes data, any
// other arrival is dropped and counted without touching the session.
func (c *Command) Receive(t Transport, data []byte, datagram bool) {
	if c.state != StateIdle || c.preparingReset {
		c.stats.Overflow++
		glog.V(2).Infof("command: %d bytes dropped in state %s", len(data), c.state)
		return
	}
	if len(c.recv)+len(data) > c.BufferSize {
		c.stats.Overflow++
		glog.Warningf("command: receive buffer overflow, %d bytes discarded", len(c.recv)+len(data))
		c.discard()
		return
	}
	if datagram && t != c.transport && len(c.recv) > 0 {
		c.discard()
	}
	c.attach(t)
	c.stats.Received++
	c.recv = append(c.recv, data...)
	complete, cmd := c.framer.Received(c.recv, len(data), datagram)
	if !complete {
		return
	}
	c.command = cmd
	c.state = StateReceived
	if !c.Poster.Post(framework.TierCommand, c.ProcessOp) {
		c.stats.Overflow++
		c.state = StateIdle
		c.discard()
	}
}

// Process runs the handler on the received command and sends the
// response. It is the handler of ProcessOp.
func (c *Command) Process() {
	if c.state != StateReceived {
		return
	}
	c.state = StateProcessing
	if c.transport != nil && c.transport.Connectionless() {
		c.stats.UDP++
	} else {
		c.stats.TCP++
	}

	c.out.Reset()
	action := c.Handler.Process(c.command, &c.out)
	c.discard()
	glog.V(3).Infof("command: action %s, %d bytes response", action, c.out.Len())

	switch action {
	case ActionEmpty:
		c.cannedResponse(EmptyResponse)
	case ActionDisconnect:
		c.cannedResponse(DisconnectResponse)
	case ActionReset:
		c.cannedResponse(ResetResponse)
		c.preparingReset = true
		if c.transport != nil {
			c.transport.RefuseInput()
		}
	}

	connectionless := c.transport == nil || c.transport.Connectionless()
	sent := c.handOff(c.out.Bytes())

	if action == ActionDisconnect || action == ActionHTTPOK {
		if sent && !connectionless {
			c.closeAfterSend = true
		} else if !connectionless {
			c.disconnectPending = true
		}
	}

	if action == ActionReset && (connectionless || !sent) {
		// no sent event will confirm the response left
		c.Sleep(c.ResetDelay)
		c.postReset()
	}
}

// Sent implements Endpoint.
func (c *Command) Sent(t Transport) {
	if !c.sent(t) {
		return
	}
	if c.closeAfterSend {
		c.closeAfterSend = false
		c.disconnectPending = true
	}
	if c.preparingReset {
		c.postReset()
	}
}

// Error implements Endpoint.
func (c *Command) Error(t Transport, err error) {
	if c.failed(t, err) {
		c.discard()
	}
}

// Disconnect implements Endpoint.
func (c *Command) Disconnect(t Transport) {
	if !c.disconnected(t) {
		return
	}
	c.discard()
	c.closeAfterSend, c.disconnectPending = false, false
	if c.preparingReset {
		c.postReset()
	}
}

// Close tears down the peer connection. It is the handler of the
// background disconnect task.
func (c *Command) Close() {
	c.disconnectPending = false
	if c.transport == nil {
		return
	}
	if err := c.transport.Close(); err != nil {
		glog.Warningf("command: close: %v", err)
	}
}

func (c *Command) cannedResponse(resp string) {
	c.out.Reset()
	c.out.WriteString(resp)
}

func (c *Command) postReset() {
	if c.resetPosted {
		return
	}
	c.resetPosted = true
	if !c.Poster.Post(framework.TierCommand, c.ResetOp) {
		glog.Errorf("command: reset post failed")
	}
}

func (c *Command) discard() {
	c.recv = c.recv[:0]
	c.command = nil
	c.framer.Reset()
}
