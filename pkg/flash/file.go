package flash

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/golang/glog"
)

// File is a flash image kept in a regular file, so the sequencer
// program survives restarts of the node daemon.
type File struct {
	SectorSize uint32

	file *os.File
	size uint32
	lock sync.Mutex
}

// OpenFile opens or creates an image of size bytes. A new or short
// file is extended with erased (0xff) bytes.
func OpenFile(path string, size, sectorSize uint32) (*File, error) {
	if sectorSize == 0 {
		sectorSize = DefaultSectorSize
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if cur := info.Size(); cur < int64(size) {
		glog.Infof("flash image %s: extending from %d to %d bytes", path, cur, size)
		fill := bytes.Repeat([]byte{0xff}, int(int64(size)-cur))
		if _, err = f.WriteAt(fill, cur); err != nil {
			f.Close()
			return nil, fmt.Errorf("extend flash image %s: %v", path, err)
		}
	}
	return &File{SectorSize: sectorSize, file: f, size: size}, nil
}

// Close closes the image file.
func (f *File) Close() error {
	return f.file.Close()
}

// Size returns the capacity in bytes.
func (f *File) Size() uint32 {
	return f.size
}

// Read implements sequencer.Flash.
func (f *File) Read(offset uint32, p []byte) error {
	if err := f.check(OpRead, offset, uint32(len(p))); err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	_, err := f.file.ReadAt(p, int64(offset))
	return err
}

// EraseSector implements sequencer.Flash.
func (f *File) EraseSector(sector uint32) error {
	offset := sector * f.SectorSize
	if err := f.check(OpErase, offset, f.SectorSize); err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	_, err := f.file.WriteAt(bytes.Repeat([]byte{0xff}, int(f.SectorSize)), int64(offset))
	return err
}

// Write implements sequencer.Flash.
func (f *File) Write(offset uint32, p []byte) error {
	if err := f.check(OpWrite, offset, uint32(len(p))); err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	cur := make([]byte, len(p))
	if _, err := f.file.ReadAt(cur, int64(offset)); err != nil {
		return err
	}
	for i, b := range p {
		cur[i] &= b
	}
	if _, err := f.file.WriteAt(cur, int64(offset)); err != nil {
		return err
	}
	return f.file.Sync()
}

func (f *File) check(op Op, offset, size uint32) error {
	if uint64(offset)+uint64(size) > uint64(f.size) {
		return &RangeError{Op: op, Offset: offset, Size: size}
	}
	return nil
}
