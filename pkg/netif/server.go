package netif

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/ipv4"

	"github.com/robotalks/nodecore/pkg/framework"
	"github.com/robotalks/nodecore/pkg/session"
)

// MaxDatagram bounds a received datagram.
const MaxDatagram = 1472

// Server serves one endpoint on TCP and UDP of the same port.
type Server struct {
	ServerName string
	Address    string
	Endpoint   session.Endpoint
	Events     Deliverer
	// Timeout closes a silent TCP peer, zero disables it.
	Timeout time.Duration
	// MulticastGroup is joined by the UDP socket when set.
	MulticastGroup string

	listener net.Listener
	packet   net.PacketConn

	lock   sync.Mutex
	active *streamConn
	peer   *datagramPeer
}

// NewServer creates a Server on port.
func NewServer(name string, port int, endpoint session.Endpoint, events Deliverer) *Server {
	return &Server{
		ServerName: name,
		Address:    fmt.Sprintf(":%d", port),
		Endpoint:   endpoint,
		Events:     events,
	}
}

// Name implements framework.Named.
func (s *Server) Name() string {
	return s.ServerName
}

// Listen binds both sockets. Run calls it when not done already.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.Address)
	if err != nil {
		return err
	}
	// the UDP socket shares the port picked for TCP
	pc, err := net.ListenPacket("udp", fmt.Sprintf(":%d", ln.Addr().(*net.TCPAddr).Port))
	if err != nil {
		ln.Close()
		return err
	}
	if s.MulticastGroup != "" {
		if err := joinGroup(pc, s.MulticastGroup); err != nil {
			glog.Warningf("%s: join multicast group %s: %v", s.ServerName, s.MulticastGroup, err)
		}
	}
	s.listener, s.packet = ln, pc
	glog.Infof("%s: listening on %s", s.ServerName, ln.Addr())
	return nil
}

// TCPAddr returns the bound TCP address.
func (s *Server) TCPAddr() net.Addr {
	return s.listener.Addr()
}

// UDPAddr returns the bound UDP address.
func (s *Server) UDPAddr() net.Addr {
	return s.packet.LocalAddr()
}

// Run implements framework.Runnable.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.servePackets(ctx)
	}()
	err := framework.RunWithContextCloser(ctx, s.listener, func() error {
		return s.acceptLoop(ctx.Done())
	})
	s.packet.Close()
	<-errCh
	s.lock.Lock()
	if s.active != nil {
		s.active.Close()
	}
	s.lock.Unlock()
	return err
}

func (s *Server) acceptLoop(stop <-chan struct{}) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		sc := newStreamConn(conn, s.Endpoint, s.Events, s.Timeout, stop)
		s.lock.Lock()
		prev := s.active
		s.active = sc
		s.lock.Unlock()
		if prev != nil {
			glog.V(2).Infof("%s: %s replaces %s", s.ServerName, conn.RemoteAddr(), prev.conn.RemoteAddr())
			prev.Close()
		}
		glog.V(2).Infof("%s: accepted %s", s.ServerName, conn.RemoteAddr())
		go func() {
			sc.serve()
			s.lock.Lock()
			if s.active == sc {
				s.active = nil
			}
			s.lock.Unlock()
		}()
	}
}

func (s *Server) servePackets(ctx context.Context) error {
	buf := make([]byte, MaxDatagram)
	for {
		n, addr, err := s.packet.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		peer := s.datagramPeer(addr)
		if atomic.LoadInt32(&peer.refused) != 0 {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if !s.Events.Deliver(framework.EventFunc(func() { s.Endpoint.Receive(peer, data, true) })) {
			glog.V(2).Infof("%s: datagram from %s lost, inbox full", s.ServerName, addr)
		}
	}
}

func (s *Server) datagramPeer(addr net.Addr) *datagramPeer {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.peer == nil || s.peer.addr.String() != addr.String() {
		s.peer = &datagramPeer{conn: s.packet, addr: addr}
	}
	return s.peer
}

// datagramPeer is the Transport of the last UDP sender.
type datagramPeer struct {
	conn    net.PacketConn
	addr    net.Addr
	refused int32
}

// Send implements session.Transport. A datagram leaves right away.
func (p *datagramPeer) Send(data []byte) error {
	_, err := p.conn.WriteTo(data, p.addr)
	return err
}

// Close implements session.Transport.
func (p *datagramPeer) Close() error {
	return nil
}

// RefuseInput implements session.Transport.
func (p *datagramPeer) RefuseInput() {
	atomic.StoreInt32(&p.refused, 1)
}

// Connectionless implements session.Transport.
func (p *datagramPeer) Connectionless() bool {
	return true
}

func joinGroup(pc net.PacketConn, group string) error {
	ip := net.ParseIP(group)
	if ip == nil {
		return fmt.Errorf("invalid group address %q", group)
	}
	return ipv4.NewPacketConn(pc).JoinGroup(nil, &net.UDPAddr{IP: ip})
}
