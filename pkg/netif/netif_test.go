package netif

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/robotalks/nodecore/pkg/framework"
	"github.com/robotalks/nodecore/pkg/session"
)

type eventQueue chan framework.Event

func (q eventQueue) Deliver(ev framework.Event) bool {
	select {
	case q <- ev:
		return true
	default:
		return false
	}
}

type recorder struct {
	events []string
	last   session.Transport
}

func (r *recorder) Accept(t session.Transport) {
	r.last = t
	r.events = append(r.events, "accept")
}

func (r *recorder) Receive(t session.Transport, data []byte, datagram bool) {
	r.last = t
	r.events = append(r.events, fmt.Sprintf("receive %q %t", data, datagram))
}

func (r *recorder) Sent(t session.Transport) {
	r.events = append(r.events, "sent")
}

func (r *recorder) Error(t session.Transport, err error) {
	r.events = append(r.events, "error")
}

func (r *recorder) Disconnect(t session.Transport) {
	r.events = append(r.events, "disconnect")
}

func (r *recorder) next(t *testing.T, q eventQueue) string {
	select {
	case ev := <-q:
		ev.Fire()
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	return r.events[len(r.events)-1]
}

func startServer(t *testing.T, timeout time.Duration) (*Server, *recorder, eventQueue, func()) {
	rec, q := &recorder{}, make(eventQueue, 16)
	s := NewServer("test", 0, rec, q)
	s.Address = "127.0.0.1:0"
	s.Timeout = timeout
	require.NoError(t, s.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	return s, rec, q, func() {
		cancel()
		<-done
	}
}

func loopback(addr net.Addr) string {
	return fmt.Sprintf("127.0.0.1:%d", addr.(*net.UDPAddr).Port)
}

func TestStreamConnSend(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := newStreamConn(a, &recorder{}, make(eventQueue, 1), 0, nil)
	require.NoError(t, c.Send([]byte("one")))
	require.Equal(t, session.ErrBusy, c.Send([]byte("two")))
	require.False(t, c.Connectionless())
	require.NoError(t, c.Close())
	require.Equal(t, session.ErrNotConnected, c.Send([]byte("three")))
	require.NoError(t, c.Close())
}

func TestTCPSession(t *testing.T) {
	s, rec, q, stop := startServer(t, 0)
	defer stop()

	conn, err := net.Dial("tcp", s.TCPAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, "accept", rec.next(t, q))
	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.Equal(t, `receive "hello\n" false`, rec.next(t, q))

	require.NoError(t, rec.last.Send([]byte("> ok\n")))
	buf := make([]byte, 16)
	n, err := io.ReadAtLeast(conn, buf, 5)
	require.NoError(t, err)
	require.Equal(t, "> ok\n", string(buf[:n]))
	require.Equal(t, "sent", rec.next(t, q))

	conn.Close()
	require.Equal(t, "disconnect", rec.next(t, q))
}

func TestTCPIdleTimeout(t *testing.T) {
	s, rec, q, stop := startServer(t, 50*time.Millisecond)
	defer stop()

	conn, err := net.Dial("tcp", s.TCPAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, "accept", rec.next(t, q))
	require.Equal(t, "disconnect", rec.next(t, q))
}

func TestTCPReplacesPeer(t *testing.T) {
	s, rec, q, stop := startServer(t, 0)
	defer stop()

	first, err := net.Dial("tcp", s.TCPAddr().String())
	require.NoError(t, err)
	defer first.Close()
	require.Equal(t, "accept", rec.next(t, q))
	firstTransport := rec.last

	second, err := net.Dial("tcp", s.TCPAddr().String())
	require.NoError(t, err)
	defer second.Close()

	events := []string{rec.next(t, q), rec.next(t, q)}
	require.ElementsMatch(t, []string{"accept", "disconnect"}, events)
	require.NotEqual(t, firstTransport, rec.last)

	first.SetReadDeadline(time.Now().Add(time.Second))
	_, err = first.Read(make([]byte, 1))
	require.Error(t, err)
}

func TestUDPSession(t *testing.T) {
	s, rec, q, stop := startServer(t, 0)
	defer stop()

	conn, err := net.Dial("udp", loopback(s.UDPAddr()))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("stats"))
	require.NoError(t, err)
	require.Equal(t, `receive "stats" true`, rec.next(t, q))
	peer := rec.last
	require.True(t, peer.Connectionless())

	require.NoError(t, peer.Send([]byte("> stats\n")))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "> stats\n", string(buf[:n]))

	_, err = conn.Write([]byte("again"))
	require.NoError(t, err)
	rec.next(t, q)
	require.Equal(t, peer, rec.last)

	other, err := net.Dial("udp", loopback(s.UDPAddr()))
	require.NoError(t, err)
	defer other.Close()
	_, err = other.Write([]byte("other"))
	require.NoError(t, err)
	rec.next(t, q)
	require.NotEqual(t, peer, rec.last)
}

func TestUDPRefuseInput(t *testing.T) {
	s, rec, q, stop := startServer(t, 0)
	defer stop()

	conn, err := net.Dial("udp", loopback(s.UDPAddr()))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("reset"))
	require.NoError(t, err)
	rec.next(t, q)
	rec.last.RefuseInput()

	_, err = conn.Write([]byte("ignored"))
	require.NoError(t, err)
	select {
	case <-q:
		t.Fatal("refused input delivered")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebSocketConsole(t *testing.T) {
	rec, q := &recorder{}, make(eventQueue, 16)
	w := NewWebSocket(0, rec, q)
	w.Address = "127.0.0.1:0"
	require.NoError(t, w.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	ws, err := websocket.Dial("ws://"+w.Addr().String()+WebSocketPath, "", "http://localhost/")
	require.NoError(t, err)
	defer ws.Close()

	require.Equal(t, "accept", rec.next(t, q))
	require.NoError(t, websocket.Message.Send(ws, []byte("help\n")))
	require.Equal(t, `receive "help\n" false`, rec.next(t, q))

	require.NoError(t, rec.last.Send([]byte("> help\n")))
	var reply []byte
	require.NoError(t, websocket.Message.Receive(ws, &reply))
	require.Equal(t, "> help\n", string(reply))
	require.Equal(t, "sent", rec.next(t, q))
}
