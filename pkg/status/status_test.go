package status

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/nodecore/pkg/flash"
	"github.com/robotalks/nodecore/pkg/framework"
	"github.com/robotalks/nodecore/pkg/node"
	"github.com/robotalks/nodecore/pkg/sequencer"
	"github.com/robotalks/nodecore/pkg/session"
	"github.com/robotalks/nodecore/pkg/settings"
	"github.com/robotalks/nodecore/pkg/uart"
)

type fakeClock time.Time

func (c fakeClock) Time() time.Time {
	return time.Time(c)
}

type fakeUART uart.Stats

func (u fakeUART) Stats() uart.Stats {
	return uart.Stats(u)
}

type pubRecorder struct {
	lock     sync.Mutex
	topics   []string
	payloads [][]byte
}

func (r *pubRecorder) Pub(topic string, payload []byte, retain bool) paho.Token {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.topics = append(r.topics, topic)
	r.payloads = append(r.payloads, payload)
	return &paho.DummyToken{}
}

func (r *pubRecorder) Count() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.topics)
}

func newTestNode(t *testing.T) *node.Node {
	n := node.New(nil, settings.New(nil))
	n.Clock = fakeClock(time.Unix(1000, 0))
	framework.NewDispatcher().Add(n)
	n.NewCommand(session.HandlerFunc(func(cmd []byte, out *bytes.Buffer) session.Action {
		return session.ActionEmpty
	}))
	layout := sequencer.Layout{Mirrors: [2]uint32{0x4000, 0}, Active: 0x4000}
	n.Sequencer = sequencer.New(flash.NewMemory(0x8000, 0), layout, nil)
	n.Sequencer.Init()
	require.NoError(t, n.Sequencer.Clear())
	n.Start()
	n.FastTick()
	n.SlowTick()
	n.Dispatcher.Settle(20)
	return n
}

func TestReport(t *testing.T) {
	m := NewMonitor(newTestNode(t))
	m.NodeID = "n1"
	m.UART = fakeUART{RxBytes: 7}
	var out bytes.Buffer
	m.Report(&out)
	text := out.String()
	for _, line := range []string{
		"> node: n1\n",
		"> timers: fast 1, slow 1\n",
		"> tier uart: pending 0/3",
		"> command: idle, connected false",
		"> uart: rx 7, tx 0",
		"> sequencer: running false, start 0",
	} {
		require.Contains(t, text, line)
	}
	require.NotContains(t, text, "> bridge:")
	require.True(t, strings.HasPrefix(text, "> node: n1\n"))
}

func TestMarshal(t *testing.T) {
	m := NewMonitor(newTestNode(t))
	s := m.Take()
	data, err := s.Marshal()
	require.NoError(t, err)
	st, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, float64(1), st.Fields["slow_ticks"].GetNumberValue())
	require.Equal(t, "idle", st.Fields["command"].GetStructValue().Fields["state"].GetStringValue())
	require.Equal(t, float64(3), st.Fields["tiers"].GetStructValue().Fields["uart"].GetStructValue().Fields["capacity"].GetNumberValue())
	require.False(t, st.Fields["sequencer"].GetStructValue().Fields["running"].GetBoolValue())
	require.Nil(t, st.Fields["bridge"])
	require.Nil(t, st.Fields["uart"])
}

func TestMonitorRun(t *testing.T) {
	n := newTestNode(t)
	m := NewMonitor(n)
	m.Interval = 10 * time.Millisecond
	updates := make(chan Snapshot, 1)
	m.OnUpdate = append(m.OnUpdate, func(s Snapshot) {
		select {
		case updates <- s:
		default:
		}
	})
	_, ok := m.Latest()
	require.False(t, ok)

	d := framework.NewDispatcher().AddRunnable(m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	select {
	case s := <-updates:
		require.Equal(t, uint32(1), s.Node.SlowTicks)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot")
	}
	_, ok = m.Latest()
	require.True(t, ok)
}

func TestPublisher(t *testing.T) {
	q := &pubRecorder{}
	p := NewPublisher(q)
	m := NewMonitor(newTestNode(t))
	first := m.Take()
	first.NodeID = "old"
	p.Publish(first)
	p.Publish(m.Take())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	require.Eventually(t, func() bool { return q.Count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.Equal(t, context.Canceled, <-done)

	require.Equal(t, []string{TopicOnline, TopicStatus, TopicOnline}, q.topics)
	require.Equal(t, "0", string(q.payloads[2]))
	st, err := Unmarshal(q.payloads[1])
	require.NoError(t, err)
	require.Nil(t, st.Fields["node"])
}

func TestCollector(t *testing.T) {
	m := NewMonitor(newTestNode(t))
	c := NewCollector(m)
	require.Zero(t, testutil.CollectAndCount(c))

	m.Update()
	// uptime, 2 timers, 3 tiers x 3, events, 5 command series, sequencer x 2
	require.Equal(t, 20, testutil.CollectAndCount(c))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	require.Contains(t, names, "nodecore_tier_posted_total")
	require.Contains(t, names, "nodecore_session_overflow_total")
}
