package comm

// IAC is the TELNET "interpret as command" escape byte.
const IAC byte = 0xff

// ByteSink receives forwarded bytes, e.g. a UART transmit FIFO.
type ByteSink interface {
	Full() bool
	WriteByte(byte) error
}

type telnetState int

const (
	telnetCopy   telnetState = iota // forwarding
	telnetDoDont                    // IAC seen, command byte next
	telnetData                      // option byte next
)

// StripTelnet forwards data into sink. With strip set, every IAC and
// the two bytes following it are consumed and discarded. Bytes which
// don't fit into sink are dropped and counted as overflow.
func StripTelnet(data []byte, strip bool, sink ByteSink) (forwarded, overflow int) {
	state := telnetCopy
	for _, b := range data {
		switch state {
		case telnetCopy:
			if strip && b == IAC {
				state = telnetDoDont
				continue
			}
			if sink.Full() || sink.WriteByte(b) != nil {
				overflow++
				continue
			}
			forwarded++
		case telnetDoDont:
			state = telnetData
		case telnetData:
			state = telnetCopy
		}
	}
	return
}
