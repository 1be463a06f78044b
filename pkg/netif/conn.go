package netif

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/nodecore/pkg/framework"
	"github.com/robotalks/nodecore/pkg/session"
)

// DefaultMTU bounds a single read from a connection.
const DefaultMTU = 1460

// Deliverer hands events to the loop goroutine, implemented by
// framework.Dispatcher.
type Deliverer interface {
	Deliver(framework.Event) bool
}

// deliverRetry is the interval between attempts to deliver an event
// which must not be lost.
const deliverRetry = time.Millisecond

// mustDeliver retries until ev is accepted or done is closed. Sent and
// disconnect events unblock a session, losing them would leave it busy.
func mustDeliver(d Deliverer, ev framework.Event, done <-chan struct{}) {
	for !d.Deliver(ev) {
		select {
		case <-done:
			return
		case <-time.After(deliverRetry):
		}
	}
}

// streamConn is the Transport of a connection oriented peer.
type streamConn struct {
	conn     net.Conn
	endpoint session.Endpoint
	events   Deliverer
	timeout  time.Duration
	stop     <-chan struct{}

	sendCh  chan []byte
	refused int32
	done    chan struct{}
	once    sync.Once
}

func newStreamConn(conn net.Conn, endpoint session.Endpoint, events Deliverer, timeout time.Duration, stop <-chan struct{}) *streamConn {
	return &streamConn{
		conn:     conn,
		endpoint: endpoint,
		events:   events,
		timeout:  timeout,
		stop:     stop,
		sendCh:   make(chan []byte, 1),
		done:     make(chan struct{}),
	}
}

// Send implements session.Transport.
func (c *streamConn) Send(p []byte) error {
	select {
	case <-c.done:
		return session.ErrNotConnected
	default:
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case c.sendCh <- buf:
		return nil
	default:
		return session.ErrBusy
	}
}

// Close implements session.Transport.
func (c *streamConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// RefuseInput implements session.Transport.
func (c *streamConn) RefuseInput() {
	atomic.StoreInt32(&c.refused, 1)
}

// Connectionless implements session.Transport.
func (c *streamConn) Connectionless() bool {
	return false
}

// serve runs the writer in the background and reads until the peer
// goes away or stays silent for the timeout.
func (c *streamConn) serve() {
	mustDeliver(c.events, framework.EventFunc(func() { c.endpoint.Accept(c) }), c.done)
	go c.writeLoop()
	c.readLoop()
	c.Close()
	// the disconnect must reach the session even after close
	mustDeliver(c.events, framework.EventFunc(func() { c.endpoint.Disconnect(c) }), c.stop)
}

func (c *streamConn) readLoop() {
	buf := make([]byte, DefaultMTU)
	for {
		if c.timeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.timeout))
		}
		n, err := c.conn.Read(buf)
		if n > 0 && atomic.LoadInt32(&c.refused) == 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !c.events.Deliver(framework.EventFunc(func() { c.endpoint.Receive(c, data, false) })) {
				glog.V(2).Infof("%s: %d bytes lost, inbox full", c.conn.RemoteAddr(), n)
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				glog.V(2).Infof("%s: idle timeout", c.conn.RemoteAddr())
			} else {
				glog.V(3).Infof("%s: read: %v", c.conn.RemoteAddr(), err)
			}
			return
		}
	}
}

func (c *streamConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case buf := <-c.sendCh:
			var ev framework.Event
			if _, err := c.conn.Write(buf); err != nil {
				ev = framework.EventFunc(func() { c.endpoint.Error(c, err) })
			} else {
				ev = framework.EventFunc(func() { c.endpoint.Sent(c) })
			}
			mustDeliver(c.events, ev, c.done)
		}
	}
}
