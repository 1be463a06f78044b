package node

import (
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/nodecore/pkg/framework"
	"github.com/robotalks/nodecore/pkg/sequencer"
	"github.com/robotalks/nodecore/pkg/session"
	"github.com/robotalks/nodecore/pkg/settings"
)

// FallbackTicks is the slow tick count (30s) after which a node
// without an address switches to access point mode.
const FallbackTicks = 300

// IO is the GPIO collaborator.
type IO interface {
	TriggerPin(io, pin int, on bool)
	WritePin(io, pin int, value uint32)
}

// Poller performs periodic I/O polling.
type Poller interface {
	PollFast()
	PollSlow()
}

// Sensors are initialized in slices.
type Sensors interface {
	// InitStep returns true while more init work remains.
	InitStep() bool
}

// Display is refreshed in slices.
type Display interface {
	Init() bool
	Present() bool
	// Periodic returns true while more refresh work remains.
	Periodic() bool
}

// WLAN is the wireless interface.
type WLAN interface {
	HasAddress() bool
	Reinit(mode int)
}

// WLANEvent is reported by the wireless interface.
type WLANEvent int

// WLAN events.
const (
	WLANAssociated WLANEvent = iota
	WLANDisassociated
)

// Stats are the node counters.
type Stats struct {
	FastTicks         uint32
	SlowTicks         uint32
	BridgePumps       uint32
	DisplayUpdates    uint32
	SequencerRuns     uint32
	Associations      uint32
	Disassociations   uint32
	Fallback          bool
	DisplayInitTime   time.Duration
	Uptime            time.Duration
	UnknownOpcodes    uint32
	BackgroundPending uint32
}

// Node wires the sessions, the sequencer and the collaborators to
// the dispatcher tiers.
type Node struct {
	Dispatcher *framework.Dispatcher
	Settings   *settings.Store
	Sequencer  *sequencer.Sequencer
	Command    *session.Command
	Bridge     *session.Bridge

	IO      IO
	Poller  Poller
	Sensors Sensors
	Display Display
	WLAN    WLAN
	Clock   framework.TimeSource

	// Reset restarts the node, it is the last thing a reset does.
	Reset func()

	FastInterval time.Duration
	SlowInterval time.Duration

	stats       Stats
	boot        time.Time
	initSensors bool
	initDisplay bool
}

// New creates a Node.
func New(d *framework.Dispatcher, store *settings.Store) *Node {
	return &Node{
		Dispatcher:   d,
		Settings:     store,
		Clock:        framework.SystemTime{},
		FastInterval: framework.DefaultFastInterval,
		SlowInterval: framework.DefaultSlowInterval,
	}
}

// AddToDispatcher implements framework.DispatcherAdder.
func (n *Node) AddToDispatcher(d *framework.Dispatcher) {
	n.Dispatcher = d
	d.Handle(framework.TierUART, framework.HandleTaskFunc(n.handleUART))
	d.Handle(framework.TierCommand, framework.HandleTaskFunc(n.handleCommand))
	d.Handle(framework.TierTimer, framework.HandleTaskFunc(n.handleTimer))
	d.AddRunnable(
		framework.NewTicker("fast", n.FastInterval, n.FastTick),
		framework.NewTicker("slow", n.SlowInterval, n.SlowTick),
	)
}

// Start records the boot time and schedules the display init.
func (n *Node) Start() {
	n.boot = n.Clock.Time()
	n.initDisplay = n.Display != nil
	n.Dispatcher.Post(framework.TierCommand, CmdAlertStatus)
}

// Stats returns the node counters.
func (n *Node) Stats() Stats {
	s := n.stats
	if n.initSensors {
		s.BackgroundPending++
	}
	if n.initDisplay {
		s.BackgroundPending++
	}
	if n.Command != nil && n.Command.DisconnectPending() {
		s.BackgroundPending++
	}
	return s
}

// FastTick is the fast timer callback.
func (n *Node) FastTick() {
	n.stats.FastTicks++
	n.Dispatcher.Post(framework.TierTimer, TimerIOFast)
}

// SlowTick is the slow timer callback. It only flips flags and posts.
func (n *Node) SlowTick() {
	n.stats.SlowTicks++
	d := n.Dispatcher

	d.Post(framework.TierCommand, CmdUpdateTime)

	if n.Bridge != nil {
		d.Post(framework.TierUART, UARTBridgePump)
	}
	if n.Command != nil && n.Command.DisconnectPending() {
		d.Post(framework.TierCommand, CmdDisconnect)
	}
	if n.initSensors {
		n.initSensors = false
		d.Post(framework.TierCommand, CmdInitSensors)
	}
	if n.initDisplay {
		n.initDisplay = false
		d.Post(framework.TierCommand, CmdInitDisplay)
	}
	if n.Display != nil && n.Display.Present() {
		d.Post(framework.TierCommand, CmdDisplayUpdate)
	}
	if n.stats.SlowTicks == FallbackTicks && n.WLAN != nil && !n.WLAN.HasAddress() {
		d.Post(framework.TierCommand, CmdFallbackWLAN)
	}

	d.Post(framework.TierTimer, TimerIOSlow)
}

// NewCommand creates the command session posting to the node tiers.
func (n *Node) NewCommand(h session.Handler) *session.Command {
	n.Command = session.NewCommand(h, n.Dispatcher, CmdReceivedCommand, CmdReset)
	return n.Command
}

// NewBridge creates the UART bridge session posting to the node tiers.
func (n *Node) NewBridge(serial session.Serial) *session.Bridge {
	n.Bridge = session.NewBridge(serial, n.Dispatcher, UARTBridgePump)
	n.Bridge.StripTelnet = n.Settings.GetInt(settings.BridgeStripTelnet, 1) != 0
	return n.Bridge
}

// HandleWLAN handles an event of the wireless interface.
func (n *Node) HandleWLAN(ev WLANEvent) {
	switch ev {
	case WLANAssociated:
		n.stats.Associations++
		n.Dispatcher.Post(framework.TierCommand, CmdAlertAssociation)
		n.initSensors = n.Sensors != nil
	case WLANDisassociated:
		n.stats.Disassociations++
		n.Dispatcher.Post(framework.TierCommand, CmdAlertDisassociation)
	}
}

func (n *Node) handleUART(op framework.Opcode) {
	switch op {
	case UARTBridgePump:
		n.stats.BridgePumps++
		if n.Bridge != nil {
			n.Bridge.Pump()
		}
	default:
		n.unknown(framework.TierUART, op)
	}
}

func (n *Node) handleCommand(op framework.Opcode) {
	glog.V(4).Infof("command task %s", OpcodeName(framework.TierCommand, op))
	switch op {
	case CmdReset:
		glog.Info("reset")
		if n.Reset != nil {
			n.Reset()
		}
	case CmdInitSensors:
		if n.Sensors != nil {
			n.Dispatcher.Resume(framework.TierCommand, op, framework.StepFunc(n.Sensors.InitStep))
		}
	case CmdInitDisplay:
		if n.Display != nil {
			start := time.Now()
			n.Display.Init()
			n.stats.DisplayInitTime = time.Since(start)
		}
	case CmdReceivedCommand:
		if n.Command != nil {
			n.Command.Process()
		}
	case CmdDisplayUpdate:
		n.stats.DisplayUpdates++
		if n.Display != nil {
			n.Dispatcher.Resume(framework.TierCommand, op, framework.StepFunc(n.Display.Periodic))
		}
	case CmdFallbackWLAN:
		n.fallbackWLAN()
	case CmdUpdateTime:
		n.stats.Uptime = n.Clock.Time().Sub(n.boot)
	case CmdRunSequencer:
		if n.Sequencer != nil {
			n.stats.SequencerRuns++
			n.Sequencer.Run(n.Clock.Time())
		}
	case CmdAlertAssociation:
		n.trigger(settings.TriggerAssocIO, settings.TriggerAssocPin, true)
	case CmdAlertDisassociation:
		n.trigger(settings.TriggerAssocIO, settings.TriggerAssocPin, false)
	case CmdAlertStatus:
		n.trigger(settings.TriggerStatusIO, settings.TriggerStatusPin, true)
	case CmdDisconnect:
		if n.Command != nil {
			n.Command.Close()
		}
	default:
		n.unknown(framework.TierCommand, op)
	}
}

func (n *Node) handleTimer(op framework.Opcode) {
	switch op {
	case TimerIOFast:
		if n.Poller != nil {
			n.Poller.PollFast()
		}
	case TimerIOSlow:
		if n.Poller != nil {
			n.Poller.PollSlow()
		}
		if n.Sequencer != nil && n.Sequencer.Due(n.Clock.Time()) {
			n.Dispatcher.Post(framework.TierCommand, CmdRunSequencer)
		}
	default:
		n.unknown(framework.TierTimer, op)
	}
}

func (n *Node) fallbackWLAN() {
	if n.Settings.GetInt(settings.WLANMode, settings.WLANModeClient) != settings.WLANModeClient {
		return
	}
	glog.Warning("no address after 30s, switching to access point mode")
	n.Settings.SetInt(settings.WLANMode, settings.WLANModeAP)
	n.stats.Fallback = true
	if n.WLAN != nil {
		n.WLAN.Reinit(n.Settings.GetInt(settings.WLANMode, settings.WLANModeAP))
	}
}

func (n *Node) trigger(ioName, pinName string, on bool) {
	io, pin, ok := n.Settings.Pin(ioName, pinName)
	if !ok || n.IO == nil {
		return
	}
	n.IO.TriggerPin(io, pin, on)
}

func (n *Node) unknown(tier framework.Tier, op framework.Opcode) {
	n.stats.UnknownOpcodes++
	glog.Warningf("%s task: unknown opcode %d", tier, op)
}
