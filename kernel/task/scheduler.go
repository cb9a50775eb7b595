package task

import (
	"burrowos/kernel"
	"burrowos/kernel/heap"
)

const (
	// maxTasks bounds the number of live tasks.
	maxTasks = 16

	// MinStackSize is the smallest stack Spawn hands to a task; smaller
	// requests are rounded up to it.
	MinStackSize = uintptr(4096)

	stackAlign = uintptr(16)
)

var (
	// ErrNoSuchTask is returned when an id does not match a live task.
	ErrNoSuchTask = &kernel.Error{Module: "task", Message: "no task with the requested id"}

	// ErrSchedulerFull is returned by Spawn once maxTasks tasks are live.
	ErrSchedulerFull = &kernel.Error{Module: "task", Message: "task limit reached"}
)

// Scheduler runs tasks cooperatively in round-robin order. A fixed ring
// holds the ready queue; the running task is re-enqueued at the tail when
// its slice returns, so every ready task gets a slice before any task gets
// a second one.
type Scheduler struct {
	heap *heap.Manager

	tasks     [maxTasks]*Task
	taskCount int

	ready      [maxTasks]*Task
	readyHead  int
	readyCount int

	current *Task
	nextID  ID
}

// NewScheduler returns a scheduler that draws task stacks from the given
// heap.
func NewScheduler(heapAlloc *heap.Manager) *Scheduler {
	return &Scheduler{heap: heapAlloc, nextID: 1}
}

// Count returns the number of live tasks.
func (s *Scheduler) Count() int {
	return s.taskCount
}

// Spawn creates a task and appends it to the ready queue. The stack comes
// from the heap and must be reachable through the translator before the
// task first runs; it is zeroed so a task never observes another task's
// stale stack contents.
func (s *Scheduler) Spawn(name string, entry EntryFn, stackSize uintptr) (ID, *kernel.Error) {
	if s.taskCount == maxTasks {
		return 0, ErrSchedulerFull
	}

	if stackSize < MinStackSize {
		stackSize = MinStackSize
	}

	stackBase, err := s.heap.Alloc(stackSize, stackAlign)
	if err != nil {
		return 0, err
	}

	stackBytes, err := s.heap.Bytes(stackBase, stackSize)
	if err != nil {
		s.heap.Free(stackBase, stackSize, stackAlign)
		return 0, err
	}

	kernel.Memset(stackBytes, 0)

	t := &Task{
		id:        s.nextID,
		name:      name,
		state:     StateReady,
		entry:     entry,
		stackBase: stackBase,
		stackSize: stackSize,
		heap:      s.heap,
	}
	s.nextID++

	s.tasks[s.taskCount] = t
	s.taskCount++
	s.enqueueReady(t)

	return t.id, nil
}

// Yield runs the next ready task to its next yield point. It returns false
// when no task is ready to run. A task whose slice reports no more work, or
// that called Exit, is terminated and its stack returns to the heap; a task
// blocked during its slice stays off the ready queue; any other task is
// re-enqueued at the tail.
func (s *Scheduler) Yield() bool {
	next := s.dequeueReady()
	if next == nil {
		return false
	}

	next.state = StateRunning
	s.current = next

	more := next.entry(next)

	s.current = nil

	switch {
	case !more || next.state == StateTerminated:
		s.reap(next)
	case next.state == StateBlocked:
	default:
		next.state = StateReady
		s.enqueueReady(next)
	}

	return true
}

// Block removes the task with the given id from scheduling. Blocking the
// running task takes effect when its current slice returns.
func (s *Scheduler) Block(id ID) *kernel.Error {
	t := s.taskByID(id)
	if t == nil {
		return ErrNoSuchTask
	}

	switch t.state {
	case StateReady:
		s.removeReady(t)
		t.state = StateBlocked
	case StateRunning:
		t.state = StateBlocked
	}

	return nil
}

// Unblock returns a blocked task to the tail of the ready queue. Unblocking
// a task that is not blocked changes nothing.
func (s *Scheduler) Unblock(id ID) *kernel.Error {
	t := s.taskByID(id)
	if t == nil {
		return ErrNoSuchTask
	}

	if t.state == StateBlocked {
		t.state = StateReady

		// The running task re-enqueues through its slice return path.
		if t != s.current {
			s.enqueueReady(t)
		}
	}

	return nil
}

// Exit marks the running task as terminated. Its stack is released when the
// current slice returns.
func (s *Scheduler) Exit() *kernel.Error {
	if s.current == nil {
		return ErrNoSuchTask
	}

	s.current.state = StateTerminated
	return nil
}

func (s *Scheduler) enqueueReady(t *Task) {
	s.ready[(s.readyHead+s.readyCount)%maxTasks] = t
	s.readyCount++
}

func (s *Scheduler) dequeueReady() *Task {
	if s.readyCount == 0 {
		return nil
	}

	t := s.ready[s.readyHead]
	s.ready[s.readyHead] = nil
	s.readyHead = (s.readyHead + 1) % maxTasks
	s.readyCount--

	return t
}

func (s *Scheduler) removeReady(target *Task) {
	for offset := 0; offset < s.readyCount; offset++ {
		if s.ready[(s.readyHead+offset)%maxTasks] != target {
			continue
		}

		for ; offset < s.readyCount-1; offset++ {
			s.ready[(s.readyHead+offset)%maxTasks] = s.ready[(s.readyHead+offset+1)%maxTasks]
		}

		s.ready[(s.readyHead+s.readyCount-1)%maxTasks] = nil
		s.readyCount--
		return
	}
}

func (s *Scheduler) taskByID(id ID) *Task {
	for taskIndex := 0; taskIndex < s.taskCount; taskIndex++ {
		if s.tasks[taskIndex].id == id {
			return s.tasks[taskIndex]
		}
	}

	return nil
}

// reap releases a terminated task's stack and drops it from the task set.
func (s *Scheduler) reap(t *Task) {
	t.state = StateTerminated
	s.heap.Free(t.stackBase, t.stackSize, stackAlign)

	for taskIndex := 0; taskIndex < s.taskCount; taskIndex++ {
		if s.tasks[taskIndex] == t {
			s.tasks[taskIndex] = s.tasks[s.taskCount-1]
			s.tasks[s.taskCount-1] = nil
			s.taskCount--
			return
		}
	}
}
