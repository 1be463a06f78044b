// Package uart emulates the receive and transmit FIFOs of the bridged
// UART on top of a serial port.
package uart

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/goburrow/serial"
	"github.com/golang/glog"

	"github.com/robotalks/nodecore/pkg/framework"
)

// DefaultFIFOSize matches the hardware FIFO depth.
const DefaultFIFOSize = 128

var (
	// ErrEmpty is returned by ReadByte when nothing was received.
	ErrEmpty = errors.New("receive fifo empty")
	// ErrFull is returned by WriteByte when the transmit fifo is full.
	ErrFull = errors.New("transmit fifo full")
)

// Config describes the serial port.
type Config struct {
	Device   string        `yaml:"device"`
	BaudRate int           `yaml:"baud"`
	DataBits int           `yaml:"data-bits"`
	StopBits int           `yaml:"stop-bits"`
	Parity   string        `yaml:"parity"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Stats are the FIFO counters.
type Stats struct {
	RxBytes    uint64
	TxBytes    uint64
	RxOverflow uint32
	TxErrors   uint32
}

// FIFO implements session.Serial over a byte stream.
type FIFO struct {
	Port io.ReadWriter

	rx      *ring
	tx      *ring
	stats   Stats
	lock    sync.Mutex
	flushCh chan struct{}
}

// New creates a FIFO pair on port.
func New(port io.ReadWriter, size int) *FIFO {
	if size <= 0 {
		size = DefaultFIFOSize
	}
	return &FIFO{
		Port:    port,
		rx:      newRing(size),
		tx:      newRing(size),
		flushCh: make(chan struct{}, 1),
	}
}

// Open opens the serial port described by conf.
func Open(conf Config) (*FIFO, error) {
	sc := &serial.Config{
		Address:  conf.Device,
		BaudRate: conf.BaudRate,
		DataBits: conf.DataBits,
		StopBits: conf.StopBits,
		Parity:   conf.Parity,
		Timeout:  conf.Timeout,
	}
	if sc.BaudRate == 0 {
		sc.BaudRate = 115200
	}
	if sc.DataBits == 0 {
		sc.DataBits = 8
	}
	if sc.StopBits == 0 {
		sc.StopBits = 1
	}
	if sc.Parity == "" {
		sc.Parity = "N"
	}
	if sc.Timeout == 0 {
		sc.Timeout = 100 * time.Millisecond
	}
	port, err := serial.Open(sc)
	if err != nil {
		return nil, err
	}
	glog.Infof("uart: %s opened at %d baud", sc.Address, sc.BaudRate)
	return New(port, DefaultFIFOSize), nil
}

// Full implements comm.ByteSink.
func (f *FIFO) Full() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.tx.full()
}

// WriteByte implements comm.ByteSink.
func (f *FIFO) WriteByte(b byte) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if !f.tx.push(b) {
		return ErrFull
	}
	return nil
}

// Buffered returns the number of received bytes.
func (f *FIFO) Buffered() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.rx.len()
}

// ReadByte pops a received byte.
func (f *FIFO) ReadByte() (byte, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if b, ok := f.rx.pop(); ok {
		return b, nil
	}
	return 0, ErrEmpty
}

// Flush wakes up the transmitter.
func (f *FIFO) Flush() error {
	select {
	case f.flushCh <- struct{}{}:
	default:
	}
	return nil
}

// Stats returns the counters.
func (f *FIFO) Stats() Stats {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.stats
}

// Name implements framework.Named.
func (f *FIFO) Name() string {
	return "uart"
}

// Run implements framework.Runnable.
func (f *FIFO) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go f.readLoop(ctx, errCh)
	run := func() error {
		var pending []byte
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-errCh:
				return err
			case <-f.flushCh:
				f.lock.Lock()
				pending = f.tx.take(pending[:0])
				f.lock.Unlock()
				if len(pending) == 0 {
					continue
				}
				n, err := f.Port.Write(pending)
				f.lock.Lock()
				f.stats.TxBytes += uint64(n)
				if err != nil {
					f.stats.TxErrors++
				}
				f.lock.Unlock()
				if err != nil {
					glog.Warningf("uart: write: %v", err)
				}
			}
		}
	}
	if closer, ok := f.Port.(io.Closer); ok {
		return framework.RunWithContextCloser(ctx, closer, run)
	}
	return run()
}

func (f *FIFO) readLoop(ctx context.Context, errCh chan error) {
	buf := make([]byte, DefaultFIFOSize)
	for {
		n, err := f.Port.Read(buf)
		if n > 0 {
			f.receive(buf[:n])
		}
		if err != nil {
			if err == serial.ErrTimeout {
				continue
			}
			select {
			case <-ctx.Done():
			default:
				errCh <- err
			}
			return
		}
	}
}

func (f *FIFO) receive(data []byte) {
	var lost int
	f.lock.Lock()
	for _, b := range data {
		if !f.rx.push(b) {
			lost++
		}
	}
	f.stats.RxBytes += uint64(len(data) - lost)
	f.stats.RxOverflow += uint32(lost)
	f.lock.Unlock()
	if lost > 0 {
		glog.V(2).Infof("uart: receive overflow, %d bytes lost", lost)
	}
}
