// Package sync provides the synchronization primitives used by the kernel:
// spinlocks and interrupt-gated critical sections.
package sync

import (
	"sync/atomic"

	"burrowos/kernel/cpu"
)

var (
	// yieldFn is invoked while busy-waiting for a held lock. It remains
	// nil until the cooperative scheduler wires in its yield entrypoint.
	yieldFn func()

	// spinAttempts controls how many CAS attempts are made before the
	// waiter yields (when a yieldFn has been registered).
	spinAttempts = uint32(100)
)

// SetYieldFn registers the scheduler yield function invoked by waiters that
// fail to acquire a contended lock.
func SetYieldFn(fn func()) { yieldFn = fn }

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	var attempt uint32
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		if attempt++; attempt >= spinAttempts && yieldFn != nil {
			attempt = 0
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// IrqGate bounds a critical section by disabling interrupt handling for its
// duration. The memory subsystems wrap every mutating operation in a gate so
// that an interrupt handler can never observe a half-updated frame bitmap,
// page table or heap free list. Gates nest: each Enter records whether
// interrupts were enabled at the time and Leave restores exactly that state,
// so an inner gate never re-enables interrupts an outer gate still needs
// disabled.
type IrqGate struct {
	wasEnabled bool
}

// Enter opens the critical section, disabling interrupts.
func (g *IrqGate) Enter() {
	g.wasEnabled = cpu.InterruptsEnabled()
	cpu.DisableInterrupts()
}

// Leave closes the critical section, restoring the interrupt state captured
// by the matching Enter call.
func (g *IrqGate) Leave() {
	if g.wasEnabled {
		cpu.EnableInterrupts()
	}
}
