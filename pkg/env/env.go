package env

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robotalks/nodecore/pkg/app"
	"github.com/robotalks/nodecore/pkg/flash"
	"github.com/robotalks/nodecore/pkg/framework"
	"github.com/robotalks/nodecore/pkg/gpio"
	"github.com/robotalks/nodecore/pkg/mqtt"
	"github.com/robotalks/nodecore/pkg/netif"
	"github.com/robotalks/nodecore/pkg/node"
	"github.com/robotalks/nodecore/pkg/sequencer"
	"github.com/robotalks/nodecore/pkg/settings"
	"github.com/robotalks/nodecore/pkg/sim"
	"github.com/robotalks/nodecore/pkg/status"
	"github.com/robotalks/nodecore/pkg/uart"
)

// Flash is the flash device of the sequencer.
type Flash interface {
	sequencer.Flash
	Size() uint32
}

// Env holds what outlives a node reset: settings, flash, serial port,
// pins, MQTT and metrics.
type Env struct {
	Config   *Config
	NodeID   string
	Settings *settings.Store
	Flash    Flash
	Pins     *gpio.State
	IO       gpio.Multi
	UART     *uart.FIFO
	Queue    *mqtt.Queue

	// Setup is called with every new node before it starts.
	Setup func(*Instance)

	collector *status.Collector
	publisher *status.Publisher
	registry  *prometheus.Registry
	runners   []framework.Runnable
	closers   []io.Closer
	resets    int
}

// Instance is one incarnation of the node, rebuilt on reset.
type Instance struct {
	Dispatcher *framework.Dispatcher
	Node       *node.Node
	App        *app.App
	Monitor    *status.Monitor
	WLAN       *sim.WLAN
	Display    *sim.Display
	Command    *netif.Server
	Bridge     *netif.Server
	WebSocket  *netif.WebSocket
}

// NewEnv opens the devices of the config.
func (c *Config) NewEnv() (*Env, error) {
	e := &Env{
		Config:   c,
		NodeID:   mqtt.NodeID(),
		Settings: settings.New(c.Settings),
		Pins:     gpio.NewState(),
	}
	e.IO = gpio.Multi{e.Pins}
	if err := e.open(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// MustNewEnv creates Env and fails on error.
func (c *Config) MustNewEnv() *Env {
	e, err := c.NewEnv()
	if err != nil {
		log.Fatalln(err)
	}
	return e
}

func (e *Env) open() error {
	c := e.Config
	if c.Flash.Image != "" {
		f, err := flash.OpenFile(c.Flash.Image, c.Flash.Size, sequencer.SectorSize)
		if err != nil {
			return fmt.Errorf("open flash image error: %v", err)
		}
		e.Flash = f
		e.closers = append(e.closers, f)
	} else {
		e.Flash = flash.NewMemory(c.Flash.Size, sequencer.SectorSize)
	}

	if c.UART != nil {
		f, err := uart.Open(*c.UART)
		if err != nil {
			return fmt.Errorf("open uart error: %v", err)
		}
		e.UART = f
		e.runners = append(e.runners, f)
	}

	for _, mc := range c.Modbus {
		m, err := gpio.DialModbus(mc)
		if err != nil {
			return fmt.Errorf("modbus io %d error: %v", mc.Bank, err)
		}
		e.IO = append(e.IO, m)
		e.runners = append(e.runners, m)
	}

	if c.MQTTBrokerURL != "" {
		q, err := mqtt.NewQueueFromURL(c.MQTTBrokerURL)
		if err != nil {
			return fmt.Errorf("create MQTT queue error: %v", err)
		}
		if err := q.Connect(); err != nil {
			return fmt.Errorf("connect MQTT error: %v", err)
		}
		e.Queue = q
		e.closers = append(e.closers, q)
		mirror := gpio.NewMirror(q, e.IO)
		mirror.Subscribe()
		e.IO = append(e.IO, mirror)
		e.publisher = status.NewPublisher(q)
		e.runners = append(e.runners, e.publisher)
	}

	if c.MetricsAddr != "" {
		e.registry = prometheus.NewRegistry()
		e.collector = status.NewCollector(nil)
		e.registry.MustRegister(e.collector)
		e.runners = append(e.runners, framework.NamedRun("metrics", framework.RunnableFunc(e.serveMetrics)))
	}
	return nil
}

// Close releases the devices.
func (e *Env) Close() error {
	var errs framework.AggregatedError
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs.Add(e.closers[i].Close())
	}
	return errs.Aggregate()
}

// Resets returns the number of node resets.
func (e *Env) Resets() int {
	return e.resets
}

// NewInstance builds a node on a fresh dispatcher.
func (e *Env) NewInstance() *Instance {
	c := e.Config
	d := framework.NewDispatcher()
	n := node.New(d, e.Settings)
	n.FastInterval, n.SlowInterval = c.FastInterval, c.SlowInterval
	n.IO = e.IO
	n.Sequencer = sequencer.New(e.Flash, c.Layout(), e.IO)
	n.Sequencer.Init()
	if !n.Sequencer.Valid() {
		glog.Warning("sequencer: flash table invalid, use sequencer-clear to initialize it")
	}

	inst := &Instance{Dispatcher: d, Node: n}
	inst.Monitor = status.NewMonitor(n)
	inst.Monitor.NodeID = e.NodeID
	if c.StatusInterval > 0 {
		inst.Monitor.Interval = c.StatusInterval
	}
	if e.UART != nil {
		inst.Monitor.UART = e.UART
	}
	if e.publisher != nil {
		inst.Monitor.OnUpdate = append(inst.Monitor.OnUpdate, e.publisher.Publish)
	}
	inst.App = &app.App{
		Sequencer: n.Sequencer,
		Settings:  e.Settings,
		IO:        e.IO,
		Reporter:  inst.Monitor,
	}

	poller := &sim.Poller{}
	n.Poller = poller
	if c.Display.Rows > 0 {
		inst.Display = sim.NewDisplay(c.Display.Rows, c.Display.Columns)
		inst.Display.Content = func() []string { return e.displayLines(n) }
		n.Display = inst.Display
	}
	if len(c.Sensors) > 0 {
		n.Sensors = sim.NewSensors(c.Sensors...)
	}
	inst.WLAN = sim.NewWLAN(e.Settings.GetInt(settings.WLANMode, settings.WLANModeClient), d, n.HandleWLAN)
	inst.WLAN.AssociateAfter = c.AssociateAfter
	inst.WLAN.Unreachable = c.Unreachable
	n.WLAN = inst.WLAN

	cmd := n.NewCommand(inst.App)
	inst.Command = netif.NewServer("command", e.Settings.GetInt(settings.CmdPort, settings.DefaultCmdPort), cmd, d)
	inst.Command.Timeout = time.Duration(e.Settings.GetInt(settings.CmdTimeout, settings.DefaultCmdTimeout)) * time.Second
	inst.Command.MulticastGroup = c.MulticastGroup
	d.AddRunnable(inst.Command)

	if port := e.Settings.GetInt(settings.CmdWebSocketPort, 0); port > 0 {
		inst.WebSocket = netif.NewWebSocket(port, cmd, d)
		inst.WebSocket.Timeout = inst.Command.Timeout
		d.AddRunnable(inst.WebSocket)
	}

	if port := e.Settings.GetInt(settings.BridgePort, settings.DefaultBridgePort); port > 0 {
		if e.UART == nil {
			glog.Warning("bridge: no uart configured, bridge inactive")
		} else {
			bridge := n.NewBridge(e.UART)
			inst.Bridge = netif.NewServer("bridge", port, bridge, d)
			inst.Bridge.Timeout = time.Duration(e.Settings.GetInt(settings.BridgeTimeout, settings.DefaultBridgeTimeout)) * time.Second
			d.AddRunnable(inst.Bridge)
		}
	}

	d.Add(n)
	d.AddRunnable(inst.Monitor, inst.WLAN)
	if e.collector != nil {
		e.collector.SetMonitor(inst.Monitor)
	}
	if e.Setup != nil {
		e.Setup(inst)
	}
	return inst
}

func (e *Env) displayLines(n *node.Node) []string {
	st := n.Stats()
	lines := []string{
		fmt.Sprintf("node %s", e.NodeID),
		fmt.Sprintf("up %s", st.Uptime.Truncate(time.Second)),
	}
	if n.Command != nil {
		cs := n.Command.Stats()
		lines = append(lines, fmt.Sprintf("cmd %d/%d", cs.Received, cs.Sent))
	}
	if n.Sequencer != nil && n.Sequencer.Running() {
		lines = append(lines, "sequencer running")
	}
	return lines
}

// Run runs nodes until ctx is done, a reset starts a new node.
// Failures of the node and of the shared Runnables are returned.
func (e *Env) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runner := framework.NewRunnerWith(runCtx).Go(e.runners...)
	err := e.runNodes(runCtx)
	cancel()
	if runErr := runner.Wait(); runErr != nil {
		return runErr
	}
	return err
}

func (e *Env) runNodes(ctx context.Context) error {
	for {
		inst := e.NewInstance()
		nodeCtx, cancel := context.WithCancel(ctx)
		inst.Node.Reset = cancel
		inst.Node.Start()
		err := inst.Dispatcher.Run(nodeCtx)
		cancel()
		if err != nil && err != context.Canceled {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.resets++
		glog.Infof("node reset %d", e.resets)
	}
}

func (e *Env) serveMetrics(ctx context.Context) error {
	server := &http.Server{
		Addr:    e.Config.MetricsAddr,
		Handler: promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}),
	}
	glog.Infof("metrics: listening on %s", server.Addr)
	return framework.RunWithContextCancel(ctx, func() {
		server.Close()
	}, server.ListenAndServe)
}
