package gpio

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/goburrow/modbus"
	"github.com/golang/glog"
)

// DefaultModbusQueueSize bounds the writes waiting for the bus.
const DefaultModbusQueueSize = 32

// ModbusConfig describes a Modbus attached io bank. Pins of the bank
// map to coils for triggers and to holding registers for writes.
type ModbusConfig struct {
	// Bank is the io number served by this device.
	Bank int `yaml:"bank"`
	// Endpoint is host:port of a Modbus TCP slave.
	Endpoint string `yaml:"endpoint"`
	// Device is the serial device of a Modbus RTU slave, used when
	// Endpoint is empty.
	Device   string        `yaml:"device"`
	BaudRate int           `yaml:"baud"`
	SlaveID  uint8         `yaml:"slave-id"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ModbusWriter is the part of modbus.Client used for outputs.
type ModbusWriter interface {
	WriteSingleCoil(address, value uint16) (results []byte, err error)
	WriteSingleRegister(address, value uint16) (results []byte, err error)
}

type modbusReq struct {
	coil  bool
	addr  uint16
	value uint16
}

// Modbus drives the outputs of one io bank from a background worker.
// Requests are queued without blocking, a full queue drops them.
type Modbus struct {
	Bank   int
	Client ModbusWriter

	closer  func() error
	reqCh   chan modbusReq
	dropped uint32
	failed  uint32
	written uint32
}

// NewModbus creates a Modbus bank on client.
func NewModbus(bank int, client ModbusWriter) *Modbus {
	return &Modbus{
		Bank:   bank,
		Client: client,
		reqCh:  make(chan modbusReq, DefaultModbusQueueSize),
	}
}

// DialModbus connects the device described by conf.
func DialModbus(conf ModbusConfig) (*Modbus, error) {
	timeout := conf.Timeout
	if timeout == 0 {
		timeout = time.Second
	}
	switch {
	case conf.Endpoint != "":
		h := modbus.NewTCPClientHandler(conf.Endpoint)
		h.Timeout = timeout
		h.SlaveId = conf.SlaveID
		if err := h.Connect(); err != nil {
			return nil, err
		}
		m := NewModbus(conf.Bank, modbus.NewClient(h))
		m.closer = h.Close
		glog.Infof("gpio: io %d on modbus tcp %s", conf.Bank, conf.Endpoint)
		return m, nil
	case conf.Device != "":
		h := modbus.NewRTUClientHandler(conf.Device)
		h.BaudRate = conf.BaudRate
		if h.BaudRate == 0 {
			h.BaudRate = 19200
		}
		h.DataBits = 8
		h.Parity = "E"
		h.StopBits = 1
		h.Timeout = timeout
		h.SlaveId = conf.SlaveID
		if err := h.Connect(); err != nil {
			return nil, err
		}
		m := NewModbus(conf.Bank, modbus.NewClient(h))
		m.closer = h.Close
		glog.Infof("gpio: io %d on modbus rtu %s", conf.Bank, conf.Device)
		return m, nil
	}
	return nil, errors.New("gpio: modbus endpoint or device required")
}

// Name implements framework.Named.
func (m *Modbus) Name() string {
	return "modbus"
}

// TriggerPin implements IO.
func (m *Modbus) TriggerPin(io, pin int, on bool) {
	var value uint16
	if on {
		value = 0xff00
	}
	m.enqueue(io, modbusReq{coil: true, addr: uint16(pin), value: value})
}

// WritePin implements IO.
func (m *Modbus) WritePin(io, pin int, value uint32) {
	if value > 0xffff {
		value = 0xffff
	}
	m.enqueue(io, modbusReq{addr: uint16(pin), value: uint16(value)})
}

// Counters returns the number of written, failed and dropped requests.
func (m *Modbus) Counters() (written, failed, dropped uint32) {
	return atomic.LoadUint32(&m.written), atomic.LoadUint32(&m.failed), atomic.LoadUint32(&m.dropped)
}

func (m *Modbus) enqueue(io int, req modbusReq) {
	if io != m.Bank {
		return
	}
	select {
	case m.reqCh <- req:
	default:
		atomic.AddUint32(&m.dropped, 1)
		glog.V(2).Infof("gpio: modbus queue full, write %d/%d dropped", io, req.addr)
	}
}

// Run implements framework.Runnable.
func (m *Modbus) Run(ctx context.Context) error {
	if m.closer != nil {
		defer m.closer()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-m.reqCh:
			var err error
			if req.coil {
				_, err = m.Client.WriteSingleCoil(req.addr, req.value)
			} else {
				_, err = m.Client.WriteSingleRegister(req.addr, req.value)
			}
			if err != nil {
				atomic.AddUint32(&m.failed, 1)
				glog.Warningf("gpio: modbus write %d/%d: %v", m.Bank, req.addr, err)
				continue
			}
			atomic.AddUint32(&m.written, 1)
		}
	}
}
