package uart

// ring is a fixed capacity byte ring, not thread safe.
type ring struct {
	buf  []byte
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]byte, capacity)}
}

func (r *ring) full() bool {
	return r.size == len(r.buf)
}

func (r *ring) len() int {
	return r.size
}

func (r *ring) push(b byte) bool {
	if r.full() {
		return false
	}
	r.buf[(r.head+r.size)%len(r.buf)] = b
	r.size++
	return true
}

func (r *ring) pop() (b byte, ok bool) {
	if r.size == 0 {
		return 0, false
	}
	b = r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return b, true
}

// take moves all buffered bytes into p.
func (r *ring) take(p []byte) []byte {
	for r.size > 0 {
		b, _ := r.pop()
		p = append(p, b)
	}
	return p
}
