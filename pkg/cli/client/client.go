// Package client talks to the command console of a node.
package client

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/nodecore/pkg/comm"
)

// Defaults of a Client.
const (
	DefaultTimeout = 2 * time.Second
	DefaultGap     = 100 * time.Millisecond
)

// Client sends console commands and collects responses. A response
// over TCP ends when the node stays silent for Gap, a datagram is a
// complete response.
type Client struct {
	Conn     net.Conn
	Datagram bool
	Timeout  time.Duration
	Gap      time.Duration
}

// Dial connects to a node, network is "tcp" or "udp".
func Dial(network, address string) (*Client, error) {
	conn, err := net.DialTimeout(network, address, DefaultTimeout)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("connected %s %s", network, address)
	return New(conn, network == "udp"), nil
}

// New wraps an established connection.
func New(conn net.Conn, datagram bool) *Client {
	return &Client{Conn: conn, Datagram: datagram, Timeout: DefaultTimeout, Gap: DefaultGap}
}

// Close implements io.Closer.
func (c *Client) Close() error {
	return c.Conn.Close()
}

// Do sends a command line and returns the response.
func (c *Client) Do(cmd string) (string, error) {
	msg := []byte(cmd)
	if !c.Datagram {
		msg = append(msg, '\n')
	}
	return c.roundTrip(msg)
}

// FlashSend transfers data in a single flash-send command.
func (c *Client) FlashSend(data []byte) (string, error) {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "%s%d ", comm.FlashSendPrefix, len(data))
	msg.Write(data)
	return c.roundTrip(msg.Bytes())
}

func (c *Client) roundTrip(msg []byte) (string, error) {
	if _, err := c.Conn.Write(msg); err != nil {
		return "", err
	}
	buf := make([]byte, 4096)
	c.Conn.SetReadDeadline(time.Now().Add(c.Timeout))
	n, err := c.Conn.Read(buf)
	if err != nil {
		return "", err
	}
	resp := append([]byte(nil), buf[:n]...)
	if c.Datagram {
		return string(resp), nil
	}
	for {
		c.Conn.SetReadDeadline(time.Now().Add(c.Gap))
		n, err = c.Conn.Read(buf)
		resp = append(resp, buf[:n]...)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return string(resp), nil
			}
			// the node closes the connection after quit and reset
			if err == io.EOF {
				return string(resp), nil
			}
			return string(resp), err
		}
	}
}
