package session

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/nodecore/pkg/framework"
)

const (
	opProcess framework.Opcode = iota + 1
	opReset
	opPump
)

type fakeTransport struct {
	connectionless bool
	busy           bool
	sent           []string
	closed         bool
	refused        bool
}

func (t *fakeTransport) Send(p []byte) error {
	if t.busy {
		return ErrBusy
	}
	t.sent = append(t.sent, string(p))
	return nil
}

func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

func (t *fakeTransport) RefuseInput() {
	t.refused = true
}

func (t *fakeTransport) Connectionless() bool {
	return t.connectionless
}

type post struct {
	tier framework.Tier
	op   framework.Opcode
}

type fakePoster struct {
	posts []post
	full  bool
}

func (p *fakePoster) Post(tier framework.Tier, op framework.Opcode) bool {
	if p.full {
		return false
	}
	p.posts = append(p.posts, post{tier, op})
	return true
}

type echoHandler struct {
	commands []string
	action   Action
}

func (h *echoHandler) Process(cmd []byte, out *bytes.Buffer) Action {
	h.commands = append(h.commands, string(cmd))
	out.WriteString("ok " + string(cmd) + "\n")
	return h.action
}

func newTestCommand() (*Command, *echoHandler, *fakePoster) {
	h, p := &echoHandler{}, &fakePoster{}
	c := NewCommand(h, p, opProcess, opReset)
	c.Sleep = func(time.Duration) {}
	return c, h, p
}

func TestCommandRoundTrip(t *testing.T) {
	c, h, p := newTestCommand()
	tr := &fakeTransport{}
	c.Accept(tr)

	c.Receive(tr, []byte("sta"), false)
	require.Equal(t, StateIdle, c.State())
	require.Empty(t, p.posts)

	c.Receive(tr, []byte("ts\n"), false)
	require.Equal(t, StateReceived, c.State())
	require.Equal(t, []post{{framework.TierCommand, opProcess}}, p.posts)

	c.Process()
	require.Equal(t, []string{"stats"}, h.commands)
	require.Equal(t, []string{"ok stats\n"}, tr.sent)
	require.Equal(t, StateSending, c.State())

	c.Sent(tr)
	require.Equal(t, StateIdle, c.State())
	stats := c.Stats()
	require.Equal(t, uint32(1), stats.Sent)
	require.Equal(t, uint32(1), stats.TCP)
	require.Equal(t, uint32(2), stats.Received)
}

func TestCommandSecondArrival(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(c *Command, tr *fakeTransport)
		state State
	}{
		{"received", func(c *Command, tr *fakeTransport) {
			c.Receive(tr, []byte("a\n"), false)
		}, StateReceived},
		{"sending", func(c *Command, tr *fakeTransport) {
			c.Receive(tr, []byte("a\n"), false)
			c.Process()
		}, StateSending},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, h, _ := newTestCommand()
			tr := &fakeTransport{}
			c.Accept(tr)
			tc.setup(c, tr)
			require.Equal(t, tc.state, c.State())
			before := c.Stats()

			c.Receive(tr, []byte("b\n"), false)
			require.Equal(t, tc.state, c.State())
			require.Equal(t, before.Overflow+1, c.Stats().Overflow)
			require.Equal(t, before.Received, c.Stats().Received)

			c.Process()
			if tc.state == StateReceived {
				require.Equal(t, []string{"a"}, h.commands)
			}
		})
	}
}

func TestCommandAcceptDropsPending(t *testing.T) {
	c, h, p := newTestCommand()
	udp := &fakeTransport{connectionless: true}
	c.Receive(udp, []byte("stats"), true)
	require.Equal(t, StateReceived, c.State())
	require.Len(t, p.posts, 1)

	tcp := &fakeTransport{}
	c.Accept(tcp)
	require.Equal(t, StateIdle, c.State())
	require.Equal(t, uint32(1), c.Stats().Overflow)

	c.Process()
	require.Empty(t, h.commands)
	require.Empty(t, udp.sent)

	c.Receive(tcp, []byte("help\n"), false)
	c.Process()
	require.Equal(t, []string{"help"}, h.commands)
	require.Equal(t, []string{"ok help\n"}, tcp.sent)
	require.Equal(t, uint32(1), c.Stats().Overflow)
}

func TestCommandPostFull(t *testing.T) {
	c, _, p := newTestCommand()
	tr := &fakeTransport{}
	c.Accept(tr)
	p.full = true
	c.Receive(tr, []byte("a\n"), false)
	require.Equal(t, StateIdle, c.State())
	require.Equal(t, uint32(1), c.Stats().Overflow)
}

func TestCommandSendBusy(t *testing.T) {
	c, _, _ := newTestCommand()
	tr := &fakeTransport{busy: true}
	c.Accept(tr)
	c.Receive(tr, []byte("a\n"), false)
	c.Process()
	require.Equal(t, StateIdle, c.State())
	require.Equal(t, uint32(1), c.Stats().SendOverflow)
	require.Empty(t, tr.sent)
}

func TestCommandTransportFailure(t *testing.T) {
	testCases := []struct {
		name  string
		fail  func(c *Command, tr Transport)
		field func(Counters) uint32
	}{
		{"error", func(c *Command, tr Transport) { c.Error(tr, errors.New("reset by peer")) },
			func(s Counters) uint32 { return s.Errors }},
		{"disconnect", func(c *Command, tr Transport) { c.Disconnect(tr) },
			func(s Counters) uint32 { return s.Disconnects }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, _, _ := newTestCommand()
			tr := &fakeTransport{}
			c.Accept(tr)
			c.Receive(tr, []byte("a\n"), false)
			c.Process()
			require.Equal(t, StateSending, c.State())
			tc.fail(c, tr)
			require.Equal(t, StateIdle, c.State())
			require.Equal(t, uint32(1), tc.field(c.Stats()))

			// stale events of an old transport are ignored
			tc.fail(c, &fakeTransport{})
			require.Equal(t, uint32(1), tc.field(c.Stats()))
		})
	}
}

func TestCommandDatagram(t *testing.T) {
	c, h, _ := newTestCommand()
	tr := &fakeTransport{connectionless: true}
	c.Receive(tr, []byte("stats"), true)
	require.Equal(t, StateReceived, c.State())
	c.Process()
	require.Equal(t, []string{"stats"}, h.commands)
	require.Equal(t, StateIdle, c.State())
	require.Equal(t, uint32(1), c.Stats().UDP)
	require.Equal(t, uint32(1), c.Stats().Sent)
}

func TestCommandFlashSend(t *testing.T) {
	c, h, p := newTestCommand()
	tr := &fakeTransport{}
	c.Accept(tr)

	c.Receive(tr, []byte("flash-send 10 "), false)
	require.Equal(t, 10, c.Owed())
	c.Receive(tr, []byte("\n\n\n\n"), false)
	require.Equal(t, StateIdle, c.State())
	require.Equal(t, 6, c.Owed())
	require.Empty(t, p.posts)

	c.Receive(tr, []byte("abcde\n"), false)
	require.Equal(t, StateReceived, c.State())
	require.Zero(t, c.Owed())
	c.Process()
	require.Equal(t, []string{"flash-send 10 \n\n\n\nabcde\n"}, h.commands)
}

func TestCommandOverflow(t *testing.T) {
	c, _, _ := newTestCommand()
	c.BufferSize = 8
	tr := &fakeTransport{}
	c.Accept(tr)
	c.Receive(tr, []byte("12345"), false)
	c.Receive(tr, []byte("6789\n"), false)
	require.Equal(t, StateIdle, c.State())
	require.Equal(t, uint32(1), c.Stats().Overflow)

	c.Receive(tr, []byte("ok\n"), false)
	require.Equal(t, StateReceived, c.State())
}

func TestCommandCannedResponses(t *testing.T) {
	testCases := []struct {
		action   Action
		response string
	}{
		{ActionNormal, "ok x\n"},
		{ActionError, "ok x\n"},
		{ActionEmpty, EmptyResponse},
		{ActionDisconnect, DisconnectResponse},
		{ActionReset, ResetResponse},
	}

	for _, tc := range testCases {
		t.Run(tc.action.String(), func(t *testing.T) {
			c, h, _ := newTestCommand()
			h.action = tc.action
			tr := &fakeTransport{}
			c.Accept(tr)
			c.Receive(tr, []byte("x\n"), false)
			c.Process()
			require.Equal(t, []string{tc.response}, tr.sent)
		})
	}
}

func TestCommandDisconnect(t *testing.T) {
	c, h, _ := newTestCommand()
	h.action = ActionDisconnect
	tr := &fakeTransport{}
	c.Accept(tr)
	c.Receive(tr, []byte("quit\n"), false)
	c.Process()
	require.False(t, c.DisconnectPending())

	c.Sent(tr)
	require.True(t, c.DisconnectPending())
	c.Close()
	require.True(t, tr.closed)
	require.False(t, c.DisconnectPending())
}

func TestCommandReset(t *testing.T) {
	testCases := []struct {
		name           string
		connectionless bool
		confirm        func(c *Command, tr Transport)
	}{
		{"tcp sent", false, func(c *Command, tr Transport) { c.Sent(tr) }},
		{"tcp disconnect", false, func(c *Command, tr Transport) { c.Disconnect(tr) }},
		{"udp", true, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, h, p := newTestCommand()
			var slept time.Duration
			c.Sleep = func(d time.Duration) { slept += d }
			h.action = ActionReset
			tr := &fakeTransport{connectionless: tc.connectionless}
			c.Accept(tr)
			c.Receive(tr, []byte("reset\n"), tc.connectionless)
			p.posts = nil
			c.Process()
			require.True(t, c.PreparingReset())
			require.True(t, tr.refused)

			if tc.confirm == nil {
				require.Equal(t, DefaultResetDelay, slept)
				require.Equal(t, []post{{framework.TierCommand, opReset}}, p.posts)
				return
			}
			require.Zero(t, slept)
			require.Empty(t, p.posts)
			tc.confirm(c, tr)
			require.Equal(t, []post{{framework.TierCommand, opReset}}, p.posts)

			// later input is refused
			c.Receive(tr, []byte("stats\n"), false)
			require.NotEqual(t, StateReceived, c.State())
		})
	}
}

type fakeSerial struct {
	rx    []byte
	tx    []byte
	txMax int
	flush int
}

func (s *fakeSerial) Full() bool {
	return s.txMax > 0 && len(s.tx) >= s.txMax
}

func (s *fakeSerial) WriteByte(c byte) error {
	if s.Full() {
		return errors.New("full")
	}
	s.tx = append(s.tx, c)
	return nil
}

func (s *fakeSerial) Buffered() int {
	return len(s.rx)
}

func (s *fakeSerial) ReadByte() (byte, error) {
	if len(s.rx) == 0 {
		return 0, errors.New("empty")
	}
	c := s.rx[0]
	s.rx = s.rx[1:]
	return c, nil
}

func (s *fakeSerial) Flush() error {
	s.flush++
	return nil
}

func TestBridgeInbound(t *testing.T) {
	serial, p := &fakeSerial{}, &fakePoster{}
	b := NewBridge(serial, p, opPump)
	b.StripTelnet = true
	tr := &fakeTransport{}
	b.Accept(tr)

	b.Receive(tr, []byte{0x41, 0xff, 0x01, 0x02, 0x42}, false)
	require.Equal(t, []byte{0x41, 0x42}, serial.tx)
	require.Equal(t, 1, serial.flush)

	serial.txMax = 3
	b.Receive(tr, []byte("xyz"), false)
	require.Equal(t, uint32(2), b.Stats().SerialOverflow)
}

func TestBridgePump(t *testing.T) {
	serial, p := &fakeSerial{}, &fakePoster{}
	b := NewBridge(serial, p, opPump)
	tr := &fakeTransport{}

	b.Pump()
	require.Empty(t, tr.sent)

	b.Accept(tr)
	serial.rx = bytes.Repeat([]byte{'a'}, DefaultBridgeBufferSize+10)
	b.Pump()
	require.Len(t, tr.sent, 1)
	require.Len(t, tr.sent[0], DefaultBridgeBufferSize)
	require.Equal(t, StateSending, b.State())

	b.Pump()
	require.Len(t, tr.sent, 1)

	b.Sent(tr)
	require.Equal(t, StateIdle, b.State())
	require.Equal(t, []post{{framework.TierUART, opPump}}, p.posts)

	b.Pump()
	require.Len(t, tr.sent, 2)
	require.Len(t, tr.sent[1], 10)
	b.Sent(tr)
	require.Len(t, p.posts, 1)
}

func TestBridgePumpFailure(t *testing.T) {
	serial, p := &fakeSerial{rx: []byte("hello")}, &fakePoster{}
	b := NewBridge(serial, p, opPump)
	tr := &fakeTransport{busy: true}
	b.Accept(tr)
	b.Pump()
	require.Equal(t, StateIdle, b.State())
	require.Equal(t, uint32(1), b.Stats().SendOverflow)
	require.Zero(t, serial.Buffered())

	tr.busy = false
	b.Pump()
	require.Empty(t, tr.sent)
}

func TestBridgeDisconnect(t *testing.T) {
	serial, p := &fakeSerial{rx: []byte("hello")}, &fakePoster{}
	b := NewBridge(serial, p, opPump)
	tr := &fakeTransport{}
	b.Accept(tr)
	b.Pump()
	require.Equal(t, StateSending, b.State())
	b.Disconnect(tr)
	require.Equal(t, StateIdle, b.State())
	require.False(t, b.Connected())
}
