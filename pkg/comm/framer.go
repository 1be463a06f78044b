package comm

import (
	"bytes"
	"strconv"
)

// FlashSendPrefix switches the console into binary pass-through.
// The full header is "flash-send <length> ", raw data follows.
const FlashSendPrefix = "flash-send "

// CommandFramer decides when an accumulating receive buffer holds a
// complete console command.
type CommandFramer struct {
	owed  int
	armed bool
}

// Owed returns the number of pass-through bytes still expected.
func (f *CommandFramer) Owed() int {
	return f.owed
}

// Reset forgets any pending pass-through.
func (f *CommandFramer) Reset() {
	f.owed, f.armed = 0, false
}

// Received is called after n bytes were appended to buf. datagram
// is set when the bytes arrived as one datagram, which always ends a
// command. It reports whether the command is complete and returns
// buf with a trailing newline trimmed for line commands.
func (f *CommandFramer) Received(buf []byte, n int, datagram bool) (bool, []byte) {
	if !f.armed {
		if offset, length, ok := ParseFlashSend(buf); ok {
			f.armed = true
			f.owed = offset + length - (len(buf) - n)
		}
	}
	if f.armed {
		if n >= f.owed {
			f.owed = 0
		} else {
			f.owed -= n
		}
		if f.owed > 0 {
			return false, buf
		}
		f.armed = false
		return true, buf
	}
	if trimmed, ok := TrimNewline(buf); ok {
		return true, trimmed
	}
	return datagram, buf
}

// ParseFlashSend parses the "flash-send <length> " header at the
// start of buf, returning the offset where raw data starts.
func ParseFlashSend(buf []byte) (offset, length int, ok bool) {
	if !bytes.HasPrefix(buf, []byte(FlashSendPrefix)) {
		return
	}
	rest := buf[len(FlashSendPrefix):]
	end := bytes.IndexByte(rest, ' ')
	if end <= 0 {
		return
	}
	val, err := strconv.ParseUint(string(rest[:end]), 10, 31)
	if err != nil {
		return
	}
	return len(FlashSendPrefix) + end + 1, int(val), true
}

// TrimNewline strips trailing CR/LF and reports whether a LF was found.
func TrimNewline(buf []byte) ([]byte, bool) {
	end, found := len(buf), false
	for end > 0 && (buf[end-1] == '\n' || buf[end-1] == '\r') {
		if buf[end-1] == '\n' {
			found = true
		}
		end--
	}
	return buf[:end], found
}
