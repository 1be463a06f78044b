package client

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func serveLines(t *testing.T, ln net.Listener) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		// the response arrives in two chunks
		fmt.Fprintf(conn, "> got %q\n", line[:len(line)-1])
		time.Sleep(10 * time.Millisecond)
		fmt.Fprint(conn, "> done\n")
	}
}

func TestDoTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go serveLines(t, ln)

	c, err := Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	c.Gap = 200 * time.Millisecond
	resp, err := c.Do("stats")
	require.NoError(t, err)
	require.Equal(t, "> got \"stats\"\n> done\n", resp)
}

func TestDoUDP(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	go func() {
		buf := make([]byte, 256)
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		pc.WriteTo([]byte("> "+string(buf[:n])+"\n"), addr)
	}()

	c, err := Dial("udp", pc.LocalAddr().String())
	require.NoError(t, err)
	defer c.Close()
	resp, err := c.Do("help")
	require.NoError(t, err)
	require.Equal(t, "> help\n", resp)
}

func TestFlashSend(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := New(a, true)
	go func() {
		buf := make([]byte, 64)
		n, _ := b.Read(buf)
		b.Write([]byte(fmt.Sprintf("%q", buf[:n])))
	}()
	resp, err := c.FlashSend([]byte("ab\ncd"))
	require.NoError(t, err)
	require.Equal(t, `"flash-send 5 ab\ncd"`, resp)
}

func TestTimeout(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := New(a, false)
	c.Timeout = 20 * time.Millisecond
	go func() {
		buf := make([]byte, 64)
		b.Read(buf)
	}()
	_, err := c.Do("quiet")
	require.Error(t, err)
}
