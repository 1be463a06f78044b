package sim

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/nodecore/pkg/framework"
	"github.com/robotalks/nodecore/pkg/node"
	"github.com/robotalks/nodecore/pkg/settings"
)

// Deliverer hands events to the loop goroutine.
type Deliverer interface {
	Deliver(framework.Event) bool
}

// WLAN simulates the wireless interface. In client mode it associates
// after AssociateAfter unless Unreachable is set, an access point is
// associated as soon as a station joins.
type WLAN struct {
	AssociateAfter time.Duration
	Unreachable    bool
	Events         Deliverer
	Handler        func(node.WLANEvent)

	mode       int
	associated bool
	modeCh     chan int
	lock       sync.Mutex
}

// NewWLAN creates a WLAN in mode reporting events to handler.
func NewWLAN(mode int, events Deliverer, handler func(node.WLANEvent)) *WLAN {
	return &WLAN{
		AssociateAfter: time.Second,
		Events:         events,
		Handler:        handler,
		mode:           mode,
		modeCh:         make(chan int, 1),
	}
}

// Name implements framework.Named.
func (w *WLAN) Name() string {
	return "wlan"
}

// HasAddress implements node.WLAN.
func (w *WLAN) HasAddress() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.associated || w.mode == settings.WLANModeAP
}

// Mode returns the current mode.
func (w *WLAN) Mode() int {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.mode
}

// Reinit implements node.WLAN.
func (w *WLAN) Reinit(mode int) {
	w.lock.Lock()
	w.mode = mode
	w.lock.Unlock()
	select {
	case w.modeCh <- mode:
	default:
	}
}

// StationJoined simulates a station joining the access point.
func (w *WLAN) StationJoined() {
	w.setAssociated(true)
}

// StationLeft simulates a station leaving or the link dropping.
func (w *WLAN) StationLeft() {
	w.setAssociated(false)
}

func (w *WLAN) setAssociated(associated bool) {
	w.lock.Lock()
	changed := w.associated != associated
	w.associated = associated
	w.lock.Unlock()
	if !changed {
		return
	}
	ev := node.WLANDisassociated
	if associated {
		ev = node.WLANAssociated
	}
	glog.Infof("wlan: associated %t", associated)
	if w.Handler != nil && w.Events != nil {
		if !w.Events.Deliver(framework.EventFunc(func() { w.Handler(ev) })) {
			glog.Warning("wlan: event lost, inbox full")
		}
	}
}

// Run implements framework.Runnable.
func (w *WLAN) Run(ctx context.Context) error {
	for {
		var joined <-chan time.Time
		if w.Mode() == settings.WLANModeClient && !w.Unreachable {
			joined = time.After(w.AssociateAfter)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case mode := <-w.modeCh:
			glog.Infof("wlan: reinit in mode %d", mode)
			w.setAssociated(false)
		case <-joined:
			w.setAssociated(true)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-w.modeCh:
				w.setAssociated(false)
			}
		}
	}
}
