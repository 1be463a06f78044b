package netif

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/nodecore/pkg/framework"
	"github.com/robotalks/nodecore/pkg/session"
)

// WebSocketPath is the console URL path.
const WebSocketPath = "/console"

// WebSocket serves the command console over WebSocket. Every frame is
// a chunk of the console byte stream.
type WebSocket struct {
	Address  string
	Endpoint session.Endpoint
	Events   Deliverer
	Timeout  time.Duration

	listener net.Listener
	stop     <-chan struct{}
}

// NewWebSocket creates a WebSocket console on port.
func NewWebSocket(port int, endpoint session.Endpoint, events Deliverer) *WebSocket {
	return &WebSocket{
		Address:  fmt.Sprintf(":%d", port),
		Endpoint: endpoint,
		Events:   events,
	}
}

// Name implements framework.Named.
func (w *WebSocket) Name() string {
	return "websocket"
}

// Listen binds the socket. Run calls it when not done already.
func (w *WebSocket) Listen() error {
	if w.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", w.Address)
	if err != nil {
		return err
	}
	w.listener = ln
	glog.Infof("websocket: listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address.
func (w *WebSocket) Addr() net.Addr {
	return w.listener.Addr()
}

// Handler returns the http.Handler of the console.
func (w *WebSocket) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(WebSocketPath, websocket.Handler(w.serveConn))
	return mux
}

// Run implements framework.Runnable.
func (w *WebSocket) Run(ctx context.Context) error {
	if err := w.Listen(); err != nil {
		return err
	}
	w.stop = ctx.Done()
	server := &http.Server{Handler: w.Handler()}
	return framework.RunWithContextCancel(ctx, func() {
		server.Close()
	}, func() error {
		return server.Serve(w.listener)
	})
}

func (w *WebSocket) serveConn(ws *websocket.Conn) {
	ws.PayloadType = websocket.BinaryFrame
	glog.V(2).Infof("websocket: accepted %s", ws.Request().RemoteAddr)
	newStreamConn(ws, w.Endpoint, w.Events, w.Timeout, w.stop).serve()
}
