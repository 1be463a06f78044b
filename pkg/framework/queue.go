package framework

import "sync"

// Queue is a fixed-capacity ring of opcodes.
type Queue struct {
	items []Opcode
	head  int
	count int

	posted uint32
	failed uint32

	lock sync.Mutex
}

// NewQueue creates a Queue holding at most capacity opcodes.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{items: make([]Opcode, capacity)}
}

// Push appends op unless the queue is full. Both outcomes are counted.
func (q *Queue) Push(op Opcode) bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.count == len(q.items) {
		q.failed++
		return false
	}
	q.items[(q.head+q.count)%len(q.items)] = op
	q.count++
	q.posted++
	return true
}

// Pop removes the oldest opcode.
func (q *Queue) Pop() (op Opcode, ok bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.count == 0 {
		return
	}
	op, ok = q.items[q.head], true
	q.head = (q.head + 1) % len(q.items)
	q.count--
	return
}

// Len returns the number of pending opcodes.
func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.count
}

// Cap returns the capacity.
func (q *Queue) Cap() int {
	return len(q.items)
}

// Counters returns how many posts succeeded and failed.
func (q *Queue) Counters() (posted, failed uint32) {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.posted, q.failed
}
