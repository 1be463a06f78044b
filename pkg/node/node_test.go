package node

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/nodecore/pkg/flash"
	"github.com/robotalks/nodecore/pkg/framework"
	"github.com/robotalks/nodecore/pkg/sequencer"
	"github.com/robotalks/nodecore/pkg/session"
	"github.com/robotalks/nodecore/pkg/settings"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Time() time.Time {
	return c.now
}

type ioRecorder struct {
	log []string
}

func (r *ioRecorder) TriggerPin(io, pin int, on bool) {
	r.log = append(r.log, fmt.Sprintf("trigger %d/%d %t", io, pin, on))
}

func (r *ioRecorder) WritePin(io, pin int, value uint32) {
	r.log = append(r.log, fmt.Sprintf("write %d/%d %d", io, pin, value))
}

type fakeWLAN struct {
	address bool
	modes   []int
}

func (w *fakeWLAN) HasAddress() bool {
	return w.address
}

func (w *fakeWLAN) Reinit(mode int) {
	w.modes = append(w.modes, mode)
}

type fakeDisplay struct {
	inits   int
	slices  int
	refresh int
}

func (d *fakeDisplay) Init() bool {
	d.inits++
	return true
}

func (d *fakeDisplay) Present() bool {
	return d.inits > 0
}

func (d *fakeDisplay) Periodic() bool {
	d.refresh++
	d.slices--
	return d.slices > 0
}

type fakeSensors struct {
	slices int
	steps  int
}

func (s *fakeSensors) InitStep() bool {
	s.steps++
	s.slices--
	return s.slices > 0
}

type fakePoller struct {
	fast, slow int
}

func (p *fakePoller) PollFast() { p.fast++ }
func (p *fakePoller) PollSlow() { p.slow++ }

type fakeTransport struct {
	sent   []string
	closed bool
}

func (t *fakeTransport) Send(p []byte) error {
	t.sent = append(t.sent, string(p))
	return nil
}

func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

func (t *fakeTransport) RefuseInput()         {}
func (t *fakeTransport) Connectionless() bool { return false }

func newTestNode(values map[string]int) (*Node, *fakeClock, *ioRecorder) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	pins := &ioRecorder{}
	n := New(nil, settings.New(values))
	n.Clock = clock
	n.IO = pins
	framework.NewDispatcher().Add(n)
	return n, clock, pins
}

func TestFastTick(t *testing.T) {
	n, _, _ := newTestNode(nil)
	poller := &fakePoller{}
	n.Poller = poller
	n.FastTick()
	n.FastTick()
	n.FastTick()
	require.Equal(t, uint32(1), n.Dispatcher.Stats().Tiers[framework.TierTimer].Failed)
	n.Dispatcher.Settle(10)
	require.Equal(t, 2, poller.fast)
	require.Equal(t, uint32(3), n.Stats().FastTicks)
}

func TestSlowTickPosts(t *testing.T) {
	n, _, _ := newTestNode(nil)
	poller := &fakePoller{}
	display := &fakeDisplay{slices: 2}
	n.Poller, n.Display = poller, display
	n.NewBridge(&nullSerial{})
	n.Start()
	n.Dispatcher.Settle(10)

	n.SlowTick()
	stats := n.Dispatcher.Stats()
	require.Equal(t, uint32(1), stats.Tiers[framework.TierUART].Posted)
	require.Equal(t, uint32(1), stats.Tiers[framework.TierTimer].Posted)
	n.Dispatcher.Settle(100)
	require.Equal(t, 1, display.inits)
	require.Equal(t, 1, poller.slow)
	require.Equal(t, uint32(1), n.Stats().BridgePumps)

	// display present now, refresh reposts itself while work remains
	n.SlowTick()
	n.Dispatcher.Settle(100)
	require.Equal(t, 2, display.refresh)
	require.Equal(t, uint32(2), n.Stats().DisplayUpdates)
	require.Zero(t, n.Stats().BackgroundPending)
}

func TestUptime(t *testing.T) {
	n, clock, _ := newTestNode(nil)
	n.Start()
	clock.now = clock.now.Add(5 * time.Second)
	n.SlowTick()
	n.Dispatcher.Settle(10)
	require.Equal(t, 5*time.Second, n.Stats().Uptime)
}

func TestFallbackWLAN(t *testing.T) {
	testCases := []struct {
		name     string
		address  bool
		mode     int
		fallback bool
	}{
		{"no address", false, settings.WLANModeClient, true},
		{"address", true, settings.WLANModeClient, false},
		{"already ap", false, settings.WLANModeAP, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n, _, _ := newTestNode(map[string]int{settings.WLANMode: tc.mode})
			wlan := &fakeWLAN{address: tc.address}
			n.WLAN = wlan
			for i := 0; i < FallbackTicks-1; i++ {
				n.SlowTick()
				n.Dispatcher.Settle(10)
			}
			require.Empty(t, wlan.modes)

			for i := 0; i < 10; i++ {
				n.SlowTick()
				n.Dispatcher.Settle(10)
			}
			require.Equal(t, tc.fallback, n.Stats().Fallback)
			if tc.fallback {
				require.Equal(t, []int{settings.WLANModeAP}, wlan.modes)
				require.Equal(t, settings.WLANModeAP, n.Settings.GetInt(settings.WLANMode, -1))
			} else {
				require.Empty(t, wlan.modes)
			}
		})
	}
}

func TestWLANAlerts(t *testing.T) {
	n, _, pins := newTestNode(map[string]int{
		settings.TriggerAssocIO:   0,
		settings.TriggerAssocPin:  4,
		settings.TriggerStatusIO:  1,
		settings.TriggerStatusPin: 2,
	})
	sensors := &fakeSensors{slices: 3}
	n.Sensors = sensors
	n.Start()
	n.HandleWLAN(WLANAssociated)
	n.Dispatcher.Settle(10)
	require.Equal(t, []string{"trigger 1/2 true", "trigger 0/4 true"}, pins.log)
	require.Equal(t, uint32(1), n.Stats().BackgroundPending)
	require.Zero(t, sensors.steps)

	n.SlowTick()
	n.Dispatcher.Settle(10)
	require.Equal(t, 3, sensors.steps)

	n.HandleWLAN(WLANDisassociated)
	n.Dispatcher.Settle(10)
	require.Equal(t, "trigger 0/4 false", pins.log[len(pins.log)-1])
	require.Equal(t, uint32(1), n.Stats().Associations)
	require.Equal(t, uint32(1), n.Stats().Disassociations)
}

func TestAlertUnconfigured(t *testing.T) {
	n, _, pins := newTestNode(nil)
	n.Start()
	n.HandleWLAN(WLANAssociated)
	n.Dispatcher.Settle(10)
	require.Empty(t, pins.log)
}

func TestSequencerDrive(t *testing.T) {
	n, clock, pins := newTestNode(nil)
	layout := sequencer.Layout{Mirrors: [2]uint32{0x4000, 0}, Active: 0x4000}
	seq := sequencer.New(flash.NewMemory(0x8000, 0), layout, pins)
	seq.Init()
	require.NoError(t, seq.Clear())
	require.NoError(t, seq.SetEntry(0, sequencer.Entry{IO: 1, Pin: 1, Value: 1, Duration: 250 * time.Millisecond}))
	require.NoError(t, seq.SetEntry(1, sequencer.Entry{IO: 1, Pin: 1, Value: 0, Duration: 100 * time.Millisecond}))
	n.Sequencer = seq
	seq.Start(0, 1)

	tick := func() {
		n.SlowTick()
		n.Dispatcher.Settle(10)
		clock.now = clock.now.Add(100 * time.Millisecond)
	}
	tick()
	require.Equal(t, []string{"write 1/1 1"}, pins.log)
	tick()
	tick()
	require.Len(t, pins.log, 1)
	tick()
	require.Equal(t, []string{"write 1/1 1", "write 1/1 0"}, pins.log)
	tick()
	require.False(t, seq.Running())
	require.Equal(t, uint32(3), n.Stats().SequencerRuns)
}

func TestCommandSession(t *testing.T) {
	n, _, _ := newTestNode(nil)
	var resets int
	n.Reset = func() { resets++ }
	n.NewCommand(session.HandlerFunc(func(cmd []byte, out *bytes.Buffer) session.Action {
		switch string(cmd) {
		case "quit":
			return session.ActionDisconnect
		case "reset":
			return session.ActionReset
		}
		out.WriteString("> ok\n")
		return session.ActionNormal
	}))
	tr := &fakeTransport{}
	n.Command.Accept(tr)

	n.Command.Receive(tr, []byte("hello\n"), false)
	n.Dispatcher.Settle(10)
	require.Equal(t, []string{"> ok\n"}, tr.sent)
	n.Command.Sent(tr)

	n.Command.Receive(tr, []byte("quit\n"), false)
	n.Dispatcher.Settle(10)
	n.Command.Sent(tr)
	require.False(t, tr.closed)
	require.Equal(t, uint32(1), n.Stats().BackgroundPending)
	n.SlowTick()
	n.Dispatcher.Settle(10)
	require.True(t, tr.closed)

	tr = &fakeTransport{}
	n.Command.Accept(tr)
	n.Command.Receive(tr, []byte("reset\n"), false)
	n.Dispatcher.Settle(10)
	require.Zero(t, resets)
	n.Command.Sent(tr)
	n.Dispatcher.Settle(10)
	require.Equal(t, 1, resets)
}

func TestUnknownOpcode(t *testing.T) {
	n, _, _ := newTestNode(nil)
	n.Dispatcher.Post(framework.TierCommand, cmdOpcodeCount)
	n.Dispatcher.Post(framework.TierTimer, 9)
	n.Dispatcher.Post(framework.TierUART, 9)
	n.Dispatcher.Settle(10)
	require.Equal(t, uint32(3), n.Stats().UnknownOpcodes)
	require.Equal(t, "unknown", OpcodeName(framework.TierCommand, cmdOpcodeCount))
	require.Equal(t, "run-sequencer", OpcodeName(framework.TierCommand, CmdRunSequencer))
}

type nullSerial struct{}

func (nullSerial) Full() bool              { return false }
func (nullSerial) WriteByte(byte) error    { return nil }
func (nullSerial) Buffered() int           { return 0 }
func (nullSerial) ReadByte() (byte, error) { return 0, fmt.Errorf("empty") }
func (nullSerial) Flush() error            { return nil }
