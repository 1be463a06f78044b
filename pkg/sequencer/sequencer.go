package sequencer

import (
	"time"

	"github.com/golang/glog"
)

// Flash is the raw flash device holding both mirrors.
type Flash interface {
	Read(offset uint32, p []byte) error
	EraseSector(sector uint32) error
	Write(offset uint32, p []byte) error
}

// PinWriter performs the GPIO write of an entry.
type PinWriter interface {
	WritePin(io, pin int, value uint32)
}

// Layout locates the table in flash. A zero mirror offset means the
// image has no such mirror, writes to it trivially succeed. Active is
// the offset visible through the memory mapped window, i.e. the
// mirror of the running firmware slot.
type Layout struct {
	Mirrors [2]uint32
	Active  uint32
}

// Status is returned by the sequencer query interface.
type Status struct {
	Running      bool
	Start        int
	FlashSize    int
	FlashEntries int
	Mirror0      uint32
	Mirror1      uint32
	Mapped       uint32
}

// State is the runtime state, never persisted.
type State struct {
	FlashValid bool
	Start      int
	Current    int
	CurrentEnd time.Time
	Repeats    int
}

// Sequencer runs the flash resident table of timed GPIO actions.
type Sequencer struct {
	Flash  Flash
	Layout Layout
	IO     PinWriter

	// scratch is the single sector buffer for read-modify-write and
	// clearing, operations must never interleave.
	scratch []byte

	state State
}

// New creates a Sequencer. Init must be called before use.
func New(fl Flash, layout Layout, io PinWriter) *Sequencer {
	s := &Sequencer{
		Flash:   fl,
		Layout:  layout,
		IO:      io,
		scratch: make([]byte, SectorSize),
	}
	s.Stop()
	return s
}

// Init stops the sequencer and validates the table header.
func (s *Sequencer) Init() {
	s.Stop()
	s.state.FlashValid = false
	var rec Record
	if err := s.readRecord(0, &rec); err != nil {
		glog.Warningf("sequencer: read header: %v", err)
		return
	}
	if h := rec.Header(); h.Magic == Magic && h.Version == Version {
		s.state.FlashValid = true
		return
	}
	glog.Infof("sequencer: no valid table at %#x", s.Layout.Active)
}

// Valid reports whether the table was found valid by Init.
func (s *Sequencer) Valid() bool {
	return s.state.FlashValid
}

// State returns a copy of the runtime state.
func (s *Sequencer) State() State {
	return s.state
}

// Running indicates repeats are pending.
func (s *Sequencer) Running() bool {
	return s.state.Repeats > 0
}

// Due reports whether the current entry expired and Run should advance.
func (s *Sequencer) Due(now time.Time) bool {
	return s.Running() && !now.Before(s.state.CurrentEnd)
}

// Start arms the sequencer to run from logical entry start.
func (s *Sequencer) Start(start, repeats int) {
	s.state.Start = start
	s.state.Current = start - 1
	s.state.CurrentEnd = time.Time{}
	s.state.Repeats = repeats
}

// Stop resets the runtime state to inactive.
func (s *Sequencer) Stop() {
	s.state.Start = 0
	s.state.Current = -1
	s.state.CurrentEnd = time.Time{}
	s.state.Repeats = 0
}

// Run advances to the next entry and performs its GPIO write. At the
// end of the program it wraps to start until repeats are exhausted.
func (s *Sequencer) Run(now time.Time) {
	if !s.Running() {
		return
	}
	s.state.Current++
	entry, err := s.Entry(s.state.Current)
	if err != nil || !entry.Active {
		if s.state.Repeats--; s.state.Repeats <= 0 {
			s.Stop()
			return
		}
		s.state.Current = s.state.Start
		if entry, err = s.Entry(s.state.Current); err != nil || !entry.Active {
			s.Stop()
			return
		}
	}
	s.state.CurrentEnd = now.Add(entry.Duration)
	glog.V(3).Infof("sequencer: entry %d io %d pin %d value %d for %v",
		s.state.Current, entry.IO, entry.Pin, entry.Value, entry.Duration)
	if s.IO != nil {
		s.IO.WritePin(entry.IO, entry.Pin, entry.Value)
	}
}

// Entry reads a logical entry.
func (s *Sequencer) Entry(index int) (Entry, error) {
	physical, err := s.physical(index)
	if err != nil {
		return Entry{}, err
	}
	var rec Record
	if err := s.readRecord(physical, &rec); err != nil {
		return Entry{}, err
	}
	return rec.Entry(), nil
}

// SetEntry writes an active entry to both mirrors.
func (s *Sequencer) SetEntry(index int, e Entry) error {
	physical, err := s.physical(index)
	if err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	e.Active = true
	return s.updateMirrors(physical, EncodeEntry(e))
}

// RemoveEntry overwrites an entry with an inactive all-zero record.
func (s *Sequencer) RemoveEntry(index int) error {
	physical, err := s.physical(index)
	if err != nil {
		return err
	}
	return s.updateMirrors(physical, EncodeEntry(Entry{}))
}

// Clear erases and rewrites both mirrors, then revalidates the table.
func (s *Sequencer) Clear() error {
	for mirror := range s.Layout.Mirrors {
		if err := s.clearMirror(mirror); err != nil {
			return err
		}
	}
	s.Init()
	if !s.state.FlashValid {
		return ErrTableInvalid
	}
	return nil
}

// Status implements the sequencer query interface.
func (s *Sequencer) Status() Status {
	return Status{
		Running:      s.Running(),
		Start:        s.state.Start,
		FlashSize:    Size,
		FlashEntries: Entries,
		Mirror0:      s.Layout.Mirrors[0],
		Mirror1:      s.Layout.Mirrors[1],
		Mapped:       MemoryMapStart + s.Layout.Active,
	}
}

func (s *Sequencer) physical(index int) (int, error) {
	if !s.state.FlashValid {
		return 0, ErrTableInvalid
	}
	if index < 0 || index+1 >= Entries {
		return 0, ErrOutOfRange
	}
	return index + 1, nil
}

func (s *Sequencer) readRecord(physical int, rec *Record) error {
	offset := s.Layout.Active + uint32(physical*RecordSize)
	if err := s.Flash.Read(offset, rec[:]); err != nil {
		return &FlashError{Mirror: -1, Op: "read", Offset: offset, Err: err}
	}
	return nil
}

// updateMirrors writes mirror 0 then mirror 1. A failure aborts
// without touching the remaining mirror, leaving them inconsistent.
func (s *Sequencer) updateMirrors(physical int, rec Record) error {
	for mirror := range s.Layout.Mirrors {
		if err := s.updateRecord(physical, mirror, rec); err != nil {
			glog.Errorf("sequencer: update entry %d: %v", physical, err)
			return err
		}
	}
	return nil
}

func (s *Sequencer) updateRecord(physical, mirror int, rec Record) error {
	base := s.Layout.Mirrors[mirror]
	if base == 0 {
		return nil
	}
	sector := physical * RecordSize / SectorSize
	offset := base + uint32(sector*SectorSize)
	slot := (physical - sector*EntriesPerSector) * RecordSize
	glog.V(2).Infof("sequencer: update entry %d, sector %d, slot %d, mirror %d at %#x",
		physical, sector, slot/RecordSize, mirror, base)

	if err := s.Flash.Read(offset, s.scratch); err != nil {
		return &FlashError{Mirror: mirror, Op: "read", Offset: offset, Err: err}
	}
	copy(s.scratch[slot:], rec[:])
	return s.rewriteSector(mirror, offset)
}

func (s *Sequencer) rewriteSector(mirror int, offset uint32) error {
	if err := s.Flash.EraseSector(offset / SectorSize); err != nil {
		return &FlashError{Mirror: mirror, Op: "erase", Offset: offset, Err: err}
	}
	if err := s.Flash.Write(offset, s.scratch); err != nil {
		return &FlashError{Mirror: mirror, Op: "write", Offset: offset, Err: err}
	}
	return nil
}

func (s *Sequencer) clearMirror(mirror int) error {
	base := s.Layout.Mirrors[mirror]
	if base == 0 {
		return nil
	}
	var fill uint32
	for sector := 0; sector < Sectors; sector++ {
		slot := 0
		if sector == 0 {
			rec := EncodeHeader(Header{Magic: Magic, Version: Version})
			copy(s.scratch, rec[:])
			slot++
		}
		for ; slot < EntriesPerSector; slot++ {
			rec := EncodeEntry(Entry{Value: fill})
			copy(s.scratch[slot*RecordSize:], rec[:])
			fill++
		}
		offset := base + uint32(sector*SectorSize)
		glog.V(2).Infof("sequencer: clear mirror %d sector %d at %#x, %d entries filled",
			mirror, sector, offset, fill)
		if err := s.rewriteSector(mirror, offset); err != nil {
			return err
		}
	}
	return nil
}
