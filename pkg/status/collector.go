package status

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace of the exported metrics.
const Namespace = "nodecore"

// Collector exports the latest snapshot of a Monitor.
type Collector struct {
	monitor *Monitor
	lock    sync.RWMutex

	uptime        *prometheus.Desc
	ticks         *prometheus.Desc
	tierPending   *prometheus.Desc
	tierPosted    *prometheus.Desc
	tierFailed    *prometheus.Desc
	eventsDropped *prometheus.Desc
	sessionRecv   *prometheus.Desc
	sessionSent   *prometheus.Desc
	sessionOver   *prometheus.Desc
	sessionErrors *prometheus.Desc
	seqRunning    *prometheus.Desc
	seqRuns       *prometheus.Desc
}

// NewCollector creates a Collector of m.
func NewCollector(m *Monitor) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(Namespace, "", name), help, labels, nil)
	}
	return &Collector{
		monitor:       m,
		uptime:        desc("uptime_seconds", "Time since the node started."),
		ticks:         desc("timer_ticks_total", "Periodic timer callbacks.", "timer"),
		tierPending:   desc("tier_pending", "Opcodes waiting in a tier queue.", "tier"),
		tierPosted:    desc("tier_posted_total", "Opcodes posted to a tier.", "tier"),
		tierFailed:    desc("tier_failed_total", "Opcodes dropped by a full tier queue.", "tier"),
		eventsDropped: desc("events_dropped_total", "Events dropped by a full inbox."),
		sessionRecv:   desc("session_received_total", "Data arrivals taken by a session.", "session"),
		sessionSent:   desc("session_sent_total", "Responses sent by a session.", "session"),
		sessionOver:   desc("session_overflow_total", "Arrivals dropped by a busy session.", "session", "direction"),
		sessionErrors: desc("session_errors_total", "Transport errors of a session.", "session"),
		seqRunning:    desc("sequencer_running", "1 while the sequencer runs a program."),
		seqRuns:       desc("sequencer_runs_total", "Sequencer run steps."),
	}
}

// SetMonitor switches to the monitor of a restarted node.
func (c *Collector) SetMonitor(m *Monitor) {
	c.lock.Lock()
	c.monitor = m
	c.lock.Unlock()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.uptime, c.ticks, c.tierPending, c.tierPosted, c.tierFailed, c.eventsDropped,
		c.sessionRecv, c.sessionSent, c.sessionOver, c.sessionErrors, c.seqRunning, c.seqRuns,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.lock.RLock()
	m := c.monitor
	c.lock.RUnlock()
	if m == nil {
		return
	}
	s, ok := m.Latest()
	if !ok {
		return
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	gauge(c.uptime, s.Node.Uptime.Seconds())
	counter(c.ticks, float64(s.Node.FastTicks), "fast")
	counter(c.ticks, float64(s.Node.SlowTicks), "slow")
	for _, t := range s.Dispatcher.Tiers {
		name := t.Tier.String()
		gauge(c.tierPending, float64(t.Pending), name)
		counter(c.tierPosted, float64(t.Posted), name)
		counter(c.tierFailed, float64(t.Failed), name)
	}
	counter(c.eventsDropped, float64(s.Dispatcher.InboxDropped))
	for name, sess := range map[string]*Session{"command": s.Command, "bridge": s.Bridge} {
		if sess == nil {
			continue
		}
		counter(c.sessionRecv, float64(sess.Counters.Received), name)
		counter(c.sessionSent, float64(sess.Counters.Sent), name)
		counter(c.sessionOver, float64(sess.Counters.Overflow), name, "receive")
		counter(c.sessionOver, float64(sess.Counters.SendOverflow), name, "send")
		counter(c.sessionErrors, float64(sess.Counters.Errors), name)
	}
	if seq := s.Sequencer; seq != nil {
		var running float64
		if seq.Running {
			running = 1
		}
		gauge(c.seqRunning, running)
	}
	counter(c.seqRuns, float64(s.Node.SequencerRuns))
}
