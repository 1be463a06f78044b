package sequencer

import (
	"encoding/binary"
	"time"
)

// Flash table geometry.
const (
	Magic   uint32 = 0x4afc4afb
	Version uint32 = 0

	SectorSize       = 4096
	Sectors          = 4
	Size             = Sectors * SectorSize
	RecordSize       = 8
	Entries          = Size / RecordSize
	EntriesPerSector = Entries / Sectors

	// MemoryMapStart is where flash appears in the address space.
	MemoryMapStart uint32 = 0x40200000
)

// Field limits of a packed record.
const (
	MaxIO       = 1<<4 - 1
	MaxPin      = 1<<4 - 1
	MaxDuration = (1<<23 - 1) * time.Millisecond
)

// Record is the raw 8-byte flash representation: two little-endian
// words, word0 = active:1 | io:4 | pin:4 | duration:23 (LSB first),
// word1 = value. Record 0 reinterprets them as magic and version.
type Record [RecordSize]byte

// Entry is one timed GPIO action.
type Entry struct {
	Active   bool
	IO       int
	Pin      int
	Value    uint32
	Duration time.Duration
}

// Header identifies a valid table.
type Header struct {
	Magic   uint32
	Version uint32
}

func (r *Record) words() (uint32, uint32) {
	return binary.LittleEndian.Uint32(r[0:4]), binary.LittleEndian.Uint32(r[4:8])
}

func (r *Record) setWords(w0, w1 uint32) {
	binary.LittleEndian.PutUint32(r[0:4], w0)
	binary.LittleEndian.PutUint32(r[4:8], w1)
}

// Entry decodes the record as an action.
func (r Record) Entry() Entry {
	w0, w1 := r.words()
	return Entry{
		Active:   w0&1 != 0,
		IO:       int((w0 >> 1) & 0xf),
		Pin:      int((w0 >> 5) & 0xf),
		Duration: time.Duration(w0>>9) * time.Millisecond,
		Value:    w1,
	}
}

// Header decodes the record as the table header.
func (r Record) Header() Header {
	w0, w1 := r.words()
	return Header{Magic: w0, Version: w1}
}

// EncodeEntry packs an action. Fields are masked to their widths,
// callers validate ranges first.
func EncodeEntry(e Entry) (r Record) {
	var w0 uint32
	if e.Active {
		w0 = 1
	}
	w0 |= uint32(e.IO&0xf) << 1
	w0 |= uint32(e.Pin&0xf) << 5
	w0 |= (uint32(e.Duration/time.Millisecond) & (1<<23 - 1)) << 9
	r.setWords(w0, e.Value)
	return
}

// EncodeHeader packs the table header.
func EncodeHeader(h Header) (r Record) {
	r.setWords(h.Magic, h.Version)
	return
}

// Validate checks the fields fit into a record.
func (e Entry) Validate() error {
	switch {
	case e.IO < 0 || e.IO > MaxIO:
		return &FieldError{Field: "io", Value: int64(e.IO)}
	case e.Pin < 0 || e.Pin > MaxPin:
		return &FieldError{Field: "pin", Value: int64(e.Pin)}
	case e.Duration < 0 || e.Duration > MaxDuration:
		return &FieldError{Field: "duration", Value: int64(e.Duration / time.Millisecond)}
	}
	return nil
}
