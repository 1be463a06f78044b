package framework

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// Ticker is a free-running periodic timer. On each fire it only
// delivers Tick to the loop goroutine of the Dispatcher running it.
type Ticker struct {
	TickerName string
	Interval   time.Duration
	Tick       func()

	fired uint32
}

// Default timer periods.
const (
	DefaultFastInterval = 10 * time.Millisecond
	DefaultSlowInterval = 100 * time.Millisecond
)

// NewTicker creates a Ticker.
func NewTicker(name string, interval time.Duration, tick func()) *Ticker {
	return &Ticker{TickerName: name, Interval: interval, Tick: tick}
}

// Name implements Named.
func (t *Ticker) Name() string {
	return t.TickerName
}

// Run implements Runnable.
func (t *Ticker) Run(ctx context.Context) error {
	d := DispatcherFrom(ctx)
	if d == nil {
		panic("ticker must be run by a Dispatcher")
	}
	interval := t.Interval
	if interval <= 0 {
		interval = DefaultSlowInterval
	}
	tk := time.NewTicker(interval)
	defer tk.Stop()
	ev := EventFunc(t.Tick)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tk.C:
			t.fired++
			if !d.Deliver(ev) {
				glog.V(2).Infof("timer %s: tick %d lost", t.TickerName, t.fired)
			}
		}
	}
}
