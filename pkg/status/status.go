// Package status takes snapshots of the node counters and exports
// them as text, protobuf, MQTT and Prometheus metrics.
package status

import (
	"fmt"
	"io"
	"time"

	"github.com/robotalks/nodecore/pkg/framework"
	"github.com/robotalks/nodecore/pkg/node"
	"github.com/robotalks/nodecore/pkg/sequencer"
	"github.com/robotalks/nodecore/pkg/session"
	"github.com/robotalks/nodecore/pkg/uart"
)

// Session is the status of a session.
type Session struct {
	State     session.State
	Connected bool
	Counters  session.Counters
}

// Snapshot is a consistent copy of the node counters.
type Snapshot struct {
	Time       time.Time
	NodeID     string
	Node       node.Stats
	Dispatcher framework.Stats
	Command    *Session
	Bridge     *Session
	Sequencer  *sequencer.Status
	UART       *uart.Stats
}

// UARTStats reports the serial counters, implemented by uart.FIFO.
type UARTStats interface {
	Stats() uart.Stats
}

// Take copies the counters of n. It must run on the loop goroutine.
func Take(n *node.Node, serial UARTStats) Snapshot {
	s := Snapshot{
		Time:       n.Clock.Time(),
		Node:       n.Stats(),
		Dispatcher: n.Dispatcher.Stats(),
	}
	if c := n.Command; c != nil {
		s.Command = &Session{State: c.State(), Connected: c.Connected(), Counters: c.Stats()}
	}
	if b := n.Bridge; b != nil {
		s.Bridge = &Session{State: b.State(), Connected: b.Connected(), Counters: b.Stats()}
	}
	if seq := n.Sequencer; seq != nil {
		st := seq.Status()
		s.Sequencer = &st
	}
	if serial != nil {
		st := serial.Stats()
		s.UART = &st
	}
	return s
}

// WriteText writes the snapshot in the console format.
func (s *Snapshot) WriteText(w io.Writer) {
	if s.NodeID != "" {
		fmt.Fprintf(w, "> node: %s\n", s.NodeID)
	}
	fmt.Fprintf(w, "> uptime: %s\n", s.Node.Uptime)
	fmt.Fprintf(w, "> timers: fast %d, slow %d\n", s.Node.FastTicks, s.Node.SlowTicks)
	for i := framework.TierCount - 1; i >= 0; i-- {
		t := s.Dispatcher.Tiers[i]
		fmt.Fprintf(w, "> tier %s: pending %d/%d, posted %d, failed %d\n",
			t.Tier, t.Pending, t.Capacity, t.Posted, t.Failed)
	}
	fmt.Fprintf(w, "> tasks: drained %d, events dropped %d, unknown %d, background %d\n",
		s.Dispatcher.Drained, s.Dispatcher.InboxDropped, s.Node.UnknownOpcodes, s.Node.BackgroundPending)
	writeSession(w, "command", s.Command)
	writeSession(w, "bridge", s.Bridge)
	if s.UART != nil {
		fmt.Fprintf(w, "> uart: rx %d, tx %d, rx overflow %d, tx errors %d\n",
			s.UART.RxBytes, s.UART.TxBytes, s.UART.RxOverflow, s.UART.TxErrors)
	}
	fmt.Fprintf(w, "> display: updates %d, init %s\n", s.Node.DisplayUpdates, s.Node.DisplayInitTime)
	fmt.Fprintf(w, "> wlan: associations %d, disassociations %d, fallback %t\n",
		s.Node.Associations, s.Node.Disassociations, s.Node.Fallback)
	if seq := s.Sequencer; seq != nil {
		fmt.Fprintf(w, "> sequencer: running %t, start %d, runs %d, flash %d bytes/%d entries @ %#x\n",
			seq.Running, seq.Start, s.Node.SequencerRuns, seq.FlashSize, seq.FlashEntries, seq.Mapped)
	}
}

func writeSession(w io.Writer, name string, s *Session) {
	if s == nil {
		return
	}
	c := s.Counters
	fmt.Fprintf(w, "> %s: %s, connected %t, accepted %d, received %d (tcp %d, udp %d), overflow %d, sent %d, send overflow %d, errors %d\n",
		name, s.State, s.Connected, c.Accepted, c.Received, c.TCP, c.UDP, c.Overflow, c.Sent, c.SendOverflow, c.Errors)
}
