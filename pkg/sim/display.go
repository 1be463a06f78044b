package sim

import (
	"fmt"
	"io"
	"sync"
)

// Display is a character display refreshed one row per slice.
type Display struct {
	Rows    int
	Columns int
	// Detected simulates the display answering the probe.
	Detected bool
	// Content supplies the rows at the start of each refresh.
	Content func() []string

	lines   []string
	shown   []string
	row     int
	present bool
	frames  uint32
	lock    sync.Mutex
}

// NewDisplay creates a detected rows x columns display.
func NewDisplay(rows, columns int) *Display {
	return &Display{Rows: rows, Columns: columns, Detected: true}
}

// Init implements node.Display.
func (d *Display) Init() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.present = d.Detected && d.Rows > 0
	d.shown = make([]string, d.Rows)
	d.row = 0
	return d.present
}

// Present implements node.Display.
func (d *Display) Present() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.present
}

// Periodic implements node.Display. A refresh starts by fetching the
// content and draws one row per call.
func (d *Display) Periodic() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.present {
		return false
	}
	if d.row == 0 {
		d.lines = nil
		if d.Content != nil {
			d.lines = d.Content()
		}
	}
	var line string
	if d.row < len(d.lines) {
		line = d.lines[d.row]
	}
	if len(line) > d.Columns {
		line = line[:d.Columns]
	}
	d.shown[d.row] = line
	d.row++
	if d.row < d.Rows {
		return true
	}
	d.row = 0
	d.frames++
	return false
}

// Frames returns the number of completed refreshes.
func (d *Display) Frames() uint32 {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.frames
}

// Lines returns the rows currently shown.
func (d *Display) Lines() []string {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]string(nil), d.shown...)
}

// Dump writes the shown rows framed.
func (d *Display) Dump(w io.Writer) {
	for _, line := range d.Lines() {
		fmt.Fprintf(w, "|%-*s|\n", d.Columns, line)
	}
}
