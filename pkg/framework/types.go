package framework

import (
	"context"
	"time"
)

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// RunnableFunc is func type of Runnable.
type RunnableFunc func(context.Context) error

// Run implements Runnable.
func (f RunnableFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Opcode tags one pending unit of work. Opcodes carry no payload,
// the state needed to execute one lives with its handler.
type Opcode uint8

// Tier identifies one of the bounded task queues.
// Higher tiers are drained first.
type Tier int

// Predefined tiers.
const (
	TierTimer Tier = iota
	TierCommand
	TierUART

	// TierCount is the total number of tiers.
	TierCount int = iota
)

// String implements fmt.Stringer.
func (t Tier) String() string {
	switch t {
	case TierTimer:
		return "timer"
	case TierCommand:
		return "command"
	case TierUART:
		return "uart"
	}
	return "unknown"
}

// DefaultCapacities are the queue lengths of each tier.
var DefaultCapacities = [TierCount]int{
	TierTimer:   2,
	TierCommand: 12,
	TierUART:    3,
}

// TaskHandler executes opcodes drained from a tier.
// HandleTask must never block; long work is sliced with Step.
type TaskHandler interface {
	HandleTask(Opcode)
}

// HandleTaskFunc is the func form of TaskHandler.
type HandleTaskFunc func(Opcode)

// HandleTask implements TaskHandler.
func (f HandleTaskFunc) HandleTask(op Opcode) {
	f(op)
}

// Event is delivered from outside the loop (timers, transports) and
// fired on the loop goroutine between two opcodes.
type Event interface {
	Fire()
}

// EventFunc is the func form of Event.
type EventFunc func()

// Fire implements Event.
func (f EventFunc) Fire() {
	f()
}

// Step is one bounded slice of a long operation.
// It returns true if more work remains.
type Step interface {
	Step() bool
}

// StepFunc is the func form of Step.
type StepFunc func() bool

// Step implements Step.
func (f StepFunc) Step() bool {
	return f()
}

// TimeSource provides the time for controlling logic.
type TimeSource interface {
	Time() time.Time
}

// SystemTime is the TimeSource backed by time.Now.
type SystemTime struct{}

// Time implements TimeSource.
func (SystemTime) Time() time.Time {
	return time.Now()
}
