package session

import (
	"github.com/golang/glog"

	"github.com/robotalks/nodecore/pkg/comm"
	"github.com/robotalks/nodecore/pkg/framework"
)

// Serial is the hardware FIFO pair of the bridged UART.
type Serial interface {
	comm.ByteSink
	// Buffered returns the number of received bytes not read yet.
	Buffered() int
	// ReadByte pops a received byte, it fails when nothing is buffered.
	ReadByte() (byte, error)
	// Flush starts transmitting the written bytes.
	Flush() error
}

// DefaultBridgeBufferSize is the size of the bridge send buffer.
const DefaultBridgeBufferSize = 128

// Bridge is the transparent UART bridge session.
type Bridge struct {
	base

	Serial Serial
	Poster Poster
	// PumpOp is posted on the uart tier to pump serial data to the peer.
	PumpOp framework.Opcode
	// StripTelnet enables removing IAC sequences from inbound data.
	StripTelnet bool

	sendBuf []byte
}

// NewBridge creates a UART bridge session.
func NewBridge(serial Serial, poster Poster, pumpOp framework.Opcode) *Bridge {
	return &Bridge{
		base:    base{name: "bridge"},
		Serial:  serial,
		Poster:  poster,
		PumpOp:  pumpOp,
		sendBuf: make([]byte, 0, DefaultBridgeBufferSize),
	}
}

// Accept implements Endpoint.
func (b *Bridge) Accept(t Transport) {
	b.accept(t)
	b.sendBuf = b.sendBuf[:0]
}

// Receive implements Endpoint. Inbound data goes straight to the
// serial transmitter.
func (b *Bridge) Receive(t Transport, data []byte, datagram bool) {
	b.attach(t)
	b.stats.Received++
	_, overflow := comm.StripTelnet(data, b.StripTelnet, b.Serial)
	if overflow > 0 {
		b.stats.SerialOverflow += uint32(overflow)
		glog.V(2).Infof("bridge: serial overflow, %d bytes lost", overflow)
	}
	if err := b.Serial.Flush(); err != nil {
		glog.Warningf("bridge: serial flush: %v", err)
	}
}

// Pump moves as much received serial data as fits into the send
// buffer and hands it off. Data which can't be sent is dropped.
// It is the handler of PumpOp.
func (b *Bridge) Pump() {
	b.stats.Pumped++
	if b.transport == nil || b.state != StateIdle || b.Serial.Buffered() == 0 {
		return
	}
	b.sendBuf = b.sendBuf[:0]
	for len(b.sendBuf) < cap(b.sendBuf) {
		c, err := b.Serial.ReadByte()
		if err != nil {
			break
		}
		b.sendBuf = append(b.sendBuf, c)
	}
	if len(b.sendBuf) == 0 {
		return
	}
	if !b.handOff(b.sendBuf) {
		b.sendBuf = b.sendBuf[:0]
		return
	}
	if b.state == StateIdle && b.Serial.Buffered() > 0 {
		b.Poster.Post(framework.TierUART, b.PumpOp)
	}
}

// Sent implements Endpoint. Serial data left behind by a full send
// buffer is pumped right away.
func (b *Bridge) Sent(t Transport) {
	if !b.sent(t) {
		return
	}
	b.sendBuf = b.sendBuf[:0]
	if b.Serial.Buffered() > 0 {
		b.Poster.Post(framework.TierUART, b.PumpOp)
	}
}

// Error implements Endpoint.
func (b *Bridge) Error(t Transport, err error) {
	if b.failed(t, err) {
		b.sendBuf = b.sendBuf[:0]
	}
}

// Disconnect implements Endpoint.
func (b *Bridge) Disconnect(t Transport) {
	if b.disconnected(t) {
		b.sendBuf = b.sendBuf[:0]
	}
}
