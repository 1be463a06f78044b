package framework

import (
	"context"
	"sync/atomic"

	"github.com/golang/glog"
)

// Dispatcher drains bounded per-tier opcode queues on a single goroutine.
type Dispatcher struct {
	queues   [TierCount]*Queue
	handlers [TierCount]TaskHandler

	runners []Runnable

	inbox        chan Event
	inboxDropped uint32
	drained      uint64

	wakeUpCh chan struct{}
}

// DispatcherAdder provides specific logic to add components to a Dispatcher.
type DispatcherAdder interface {
	AddToDispatcher(*Dispatcher)
}

// TierStats reports the counters of one tier.
type TierStats struct {
	Tier     Tier
	Pending  int
	Capacity int
	Posted   uint32
	Failed   uint32
}

// Stats is a point-in-time view of the dispatcher counters.
type Stats struct {
	Tiers        [TierCount]TierStats
	Drained      uint64
	InboxDropped uint32
}

// DefaultInboxSize is the number of events that may wait for the loop.
const DefaultInboxSize = 64

var dispatcherCtxKey = &Dispatcher{}

// DispatcherFrom gets the Dispatcher running the Runnable which received ctx.
func DispatcherFrom(ctx context.Context) *Dispatcher {
	d, _ := ctx.Value(dispatcherCtxKey).(*Dispatcher)
	return d
}

// NewDispatcher creates a Dispatcher with default capacities.
func NewDispatcher() *Dispatcher {
	return NewDispatcherWith(DefaultCapacities, DefaultInboxSize)
}

// NewDispatcherWith creates a Dispatcher with given tier capacities.
func NewDispatcherWith(capacities [TierCount]int, inboxSize int) *Dispatcher {
	d := &Dispatcher{
		inbox:    make(chan Event, inboxSize),
		wakeUpCh: make(chan struct{}, 1),
	}
	for i := range d.queues {
		d.queues[i] = NewQueue(capacities[i])
	}
	return d
}

// Add adds DispatcherAdders.
func (d *Dispatcher) Add(adders ...DispatcherAdder) *Dispatcher {
	for _, adder := range adders {
		adder.AddToDispatcher(d)
	}
	return d
}

// Handle installs the handler of a tier.
func (d *Dispatcher) Handle(tier Tier, h TaskHandler) *Dispatcher {
	d.handlers[tier] = h
	return d
}

// AddRunnable adds Runnables started together with the loop.
func (d *Dispatcher) AddRunnable(runnables ...Runnable) *Dispatcher {
	d.runners = append(d.runners, runnables...)
	return d
}

// Post enqueues op on the tier without blocking.
// A full queue drops op, the failure is only visible in Stats.
func (d *Dispatcher) Post(tier Tier, op Opcode) bool {
	if !d.queues[tier].Push(op) {
		glog.V(3).Infof("post %s/%d: queue full", tier, op)
		return false
	}
	d.TriggerNext()
	return true
}

// Deliver hands an event to the loop goroutine without blocking.
func (d *Dispatcher) Deliver(ev Event) bool {
	select {
	case d.inbox <- ev:
		return true
	default:
		atomic.AddUint32(&d.inboxDropped, 1)
		glog.V(3).Info("deliver: inbox full")
		return false
	}
}

// TriggerNext wakes up an idle loop.
func (d *Dispatcher) TriggerNext() {
	select {
	case d.wakeUpCh <- struct{}{}:
	default:
	}
}

// Resume runs one slice of step and reposts op if more work remains.
func (d *Dispatcher) Resume(tier Tier, op Opcode, step Step) bool {
	if !step.Step() {
		return false
	}
	return d.Post(tier, op)
}

// Ready returns the highest tier with pending opcodes.
func (d *Dispatcher) Ready() (Tier, bool) {
	for i := TierCount - 1; i >= 0; i-- {
		if d.queues[i].Len() > 0 {
			return Tier(i), true
		}
	}
	return 0, false
}

// Drain pops exactly one opcode of the tier and dispatches it.
func (d *Dispatcher) Drain(tier Tier) bool {
	op, ok := d.queues[tier].Pop()
	if !ok {
		return false
	}
	atomic.AddUint64(&d.drained, 1)
	glog.V(4).Infof("drain %s/%d", tier, op)
	if h := d.handlers[tier]; h != nil {
		h.HandleTask(op)
	} else {
		glog.Warningf("no handler for tier %s, opcode %d dropped", tier, op)
	}
	return true
}

// FireEvents fires all events waiting in the inbox.
func (d *Dispatcher) FireEvents() (n int) {
	for {
		select {
		case ev := <-d.inbox:
			ev.Fire()
			n++
		default:
			return
		}
	}
}

// Settle fires pending events and drains ready opcodes until all
// queues are empty or limit opcodes were executed.
func (d *Dispatcher) Settle(limit int) (n int) {
	for n < limit {
		d.FireEvents()
		tier, ok := d.Ready()
		if !ok {
			return
		}
		d.Drain(tier)
		n++
	}
	return
}

// Run implements Runnable. Once ctx is done it waits for the added
// Runnables and returns their failures, or ctx.Err() if none failed.
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx = context.WithValue(ctx, dispatcherCtxKey, d)
	runner := NewRunnerWith(ctx)
	runner.Go(d.runners...)
	err := d.loop(ctx)
	if runErr := runner.Wait(); runErr != nil {
		return runErr
	}
	return err
}

func (d *Dispatcher) loop(ctx context.Context) error {
	for {
		if tier, ok := d.Ready(); ok {
			d.Drain(tier)
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			d.FireEvents()
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.inbox:
			ev.Fire()
		case <-d.wakeUpCh:
		}
	}
}

// Stats implements the dispatcher query interface.
func (d *Dispatcher) Stats() (s Stats) {
	for i, q := range d.queues {
		posted, failed := q.Counters()
		s.Tiers[i] = TierStats{
			Tier:     Tier(i),
			Pending:  q.Len(),
			Capacity: q.Cap(),
			Posted:   posted,
			Failed:   failed,
		}
	}
	s.Drained = atomic.LoadUint64(&d.drained)
	s.InboxDropped = atomic.LoadUint32(&d.inboxDropped)
	return
}
