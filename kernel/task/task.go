// Package task implements cooperative multitasking. Tasks never run in
// parallel: the scheduler invokes one task slice at a time and a task keeps
// the CPU until its slice function returns. Task stacks are plain heap
// allocations reached through translation-validated byte windows, so
// spawning exercises the full frame-mapping-heap path before a task first
// runs.
package task

import (
	"burrowos/kernel"
	"burrowos/kernel/heap"
)

// ID identifies a spawned task. IDs start at 1 and are never reused.
type ID uint32

// State describes where a task is in its lifecycle.
type State uint8

const (
	// StateReady marks a task waiting on the ready queue.
	StateReady State = iota

	// StateRunning marks the task whose slice is currently executing.
	StateRunning

	// StateBlocked marks a task removed from scheduling until Unblock.
	StateBlocked

	// StateTerminated marks a task whose stack is about to be released.
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateTerminated:
		return "terminated"
	}

	return "unknown"
}

// EntryFn executes one slice of a task. The scheduler calls it with the
// task's own descriptor; it runs until its next yield point and returns
// true while the task has more work or false when the task is done.
type EntryFn func(t *Task) bool

// Task is the descriptor of one cooperative task.
type Task struct {
	id    ID
	name  string
	state State
	entry EntryFn

	stackBase uintptr
	stackSize uintptr

	heap *heap.Manager
}

// ID returns the task identifier.
func (t *Task) ID() ID {
	return t.id
}

// Name returns the name supplied at spawn time.
func (t *Task) Name() string {
	return t.name
}

// State returns the task's lifecycle state.
func (t *Task) State() State {
	return t.state
}

// StackBytes returns a writable window over the task's stack region.
func (t *Task) StackBytes() ([]byte, *kernel.Error) {
	return t.heap.Bytes(t.stackBase, t.stackSize)
}
