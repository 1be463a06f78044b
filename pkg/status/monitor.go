package status

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/nodecore/pkg/framework"
	"github.com/robotalks/nodecore/pkg/node"
)

// DefaultInterval is the snapshot period of a Monitor.
const DefaultInterval = 5 * time.Second

// Monitor takes snapshots on the loop goroutine and keeps the latest
// one for readers on other goroutines.
type Monitor struct {
	Node     *node.Node
	UART     UARTStats
	NodeID   string
	Interval time.Duration
	// OnUpdate is called on the loop goroutine with every snapshot.
	OnUpdate []func(Snapshot)

	latest *Snapshot
	lock   sync.RWMutex
}

// NewMonitor creates a Monitor of n.
func NewMonitor(n *node.Node) *Monitor {
	return &Monitor{Node: n, Interval: DefaultInterval}
}

// Name implements framework.Named.
func (m *Monitor) Name() string {
	return "status"
}

// Take returns a fresh snapshot, loop goroutine only.
func (m *Monitor) Take() Snapshot {
	s := Take(m.Node, m.UART)
	s.NodeID = m.NodeID
	return s
}

// Report implements the console statistics reporter.
func (m *Monitor) Report(w io.Writer) {
	s := m.Take()
	s.WriteText(w)
}

// Update takes a snapshot and hands it to the listeners.
func (m *Monitor) Update() {
	s := m.Take()
	m.lock.Lock()
	m.latest = &s
	m.lock.Unlock()
	for _, fn := range m.OnUpdate {
		fn(s)
	}
}

// Latest returns the last snapshot taken by Update.
func (m *Monitor) Latest() (Snapshot, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.latest == nil {
		return Snapshot{}, false
	}
	return *m.latest, true
}

// Run implements framework.Runnable, it must be run by the dispatcher.
func (m *Monitor) Run(ctx context.Context) error {
	d := framework.DispatcherFrom(ctx)
	if d == nil {
		panic("status monitor must be run by a Dispatcher")
	}
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	tk := time.NewTicker(interval)
	defer tk.Stop()
	ev := framework.EventFunc(m.Update)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tk.C:
			if !d.Deliver(ev) {
				glog.V(2).Info("status: snapshot skipped, inbox full")
			}
		}
	}
}
