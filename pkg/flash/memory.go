package flash

import (
	"fmt"
	"sync"
)

// Op names a flash operation for fault injection and counters.
type Op int

// Flash operations.
const (
	OpRead Op = iota
	OpErase
	OpWrite

	opCount
)

// String implements fmt.Stringer.
func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpErase:
		return "erase"
	case OpWrite:
		return "write"
	}
	return "unknown"
}

// DefaultSectorSize is the erase unit of SPI NOR flash.
const DefaultSectorSize = 4096

// Fault fails every Op touching Sector with Err.
type Fault struct {
	Op     Op
	Sector uint32
	Err    error
}

// Memory is an in-memory NOR flash. Erase sets bytes to 0xff and a
// write can only clear bits, like the real part.
type Memory struct {
	SectorSize uint32

	data   []byte
	faults []Fault
	counts [opCount]uint64

	lock sync.Mutex
}

// NewMemory creates an erased Memory of size bytes.
func NewMemory(size, sectorSize uint32) *Memory {
	if sectorSize == 0 {
		sectorSize = DefaultSectorSize
	}
	m := &Memory{SectorSize: sectorSize, data: make([]byte, size)}
	for i := range m.data {
		m.data[i] = 0xff
	}
	return m
}

// Inject adds a fault.
func (m *Memory) Inject(f Fault) {
	m.lock.Lock()
	m.faults = append(m.faults, f)
	m.lock.Unlock()
}

// ClearFaults removes all injected faults.
func (m *Memory) ClearFaults() {
	m.lock.Lock()
	m.faults = nil
	m.lock.Unlock()
}

// Count returns how many times op succeeded.
func (m *Memory) Count(op Op) uint64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.counts[op]
}

// Size returns the capacity in bytes.
func (m *Memory) Size() uint32 {
	return uint32(len(m.data))
}

// Bytes returns a copy of the contents in [offset, offset+size).
func (m *Memory) Bytes(offset, size uint32) []byte {
	m.lock.Lock()
	defer m.lock.Unlock()
	p := make([]byte, size)
	copy(p, m.data[offset:])
	return p
}

// Read implements sequencer.Flash.
func (m *Memory) Read(offset uint32, p []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if err := m.check(OpRead, offset, uint32(len(p))); err != nil {
		return err
	}
	copy(p, m.data[offset:])
	m.counts[OpRead]++
	return nil
}

// EraseSector implements sequencer.Flash.
func (m *Memory) EraseSector(sector uint32) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	offset := sector * m.SectorSize
	if err := m.check(OpErase, offset, m.SectorSize); err != nil {
		return err
	}
	for i := offset; i < offset+m.SectorSize; i++ {
		m.data[i] = 0xff
	}
	m.counts[OpErase]++
	return nil
}

// Write implements sequencer.Flash.
func (m *Memory) Write(offset uint32, p []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if err := m.check(OpWrite, offset, uint32(len(p))); err != nil {
		return err
	}
	for i, b := range p {
		m.data[offset+uint32(i)] &= b
	}
	m.counts[OpWrite]++
	return nil
}

func (m *Memory) check(op Op, offset, size uint32) error {
	if uint64(offset)+uint64(size) > uint64(len(m.data)) {
		return &RangeError{Op: op, Offset: offset, Size: size}
	}
	if size == 0 {
		return nil
	}
	first, last := offset/m.SectorSize, (offset+size-1)/m.SectorSize
	for _, f := range m.faults {
		if f.Op == op && f.Sector >= first && f.Sector <= last {
			return f.Err
		}
	}
	return nil
}

// RangeError reports an access beyond the end of the device.
type RangeError struct {
	Op     Op
	Offset uint32
	Size   uint32
}

// Error implements error.
func (e *RangeError) Error() string {
	return fmt.Sprintf("flash %s out of range: offset %#x size %d", e.Op, e.Offset, e.Size)
}
