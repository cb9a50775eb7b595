// Package cpu provides the small set of processor primitives that the memory
// and scheduling subsystems depend on: the interrupt enable/disable gate used
// to bound critical sections, the halt primitive used by the panic path and
// TLB entry invalidation. The default implementations model the processor
// state in software so the kernel can run hosted (under tests or the machine
// simulator); a hardware build installs its own low-level hooks at rt0 time
// via the Set*Fn functions.
package cpu

import "sync/atomic"

var (
	// intFlag mirrors the interrupt-enable processor flag. Interrupts
	// start enabled, matching the state the kernel entrypoint runs with.
	intFlag uint32 = 1

	// haltFn is the implementation that Halt dispatches to. The default
	// spins forever which is the closest hosted equivalent to a cli/hlt
	// sequence; the machine simulator replaces it with a process exit.
	haltFn = func() {
		for {
		}
	}

	// flushTLBEntryFn is invoked by FlushTLBEntry. Translation caching is
	// a hardware concern so the hosted default does nothing.
	flushTLBEntryFn = func(virtAddr uintptr) {}
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts() {
	atomic.StoreUint32(&intFlag, 1)
}

// DisableInterrupts disables interrupt handling.
func DisableInterrupts() {
	atomic.StoreUint32(&intFlag, 0)
}

// InterruptsEnabled returns true if interrupt handling is currently enabled.
// Critical sections use this to save the gate state they must restore on
// exit.
func InterruptsEnabled() bool {
	return atomic.LoadUint32(&intFlag) == 1
}

// Halt stops instruction execution. Calls to Halt never return.
func Halt() {
	haltFn()
}

// FlushTLBEntry flushes the cached translation for a particular virtual
// address.
func FlushTLBEntry(virtAddr uintptr) {
	flushTLBEntryFn(virtAddr)
}

// SetHaltFn replaces the low-level halt implementation.
func SetHaltFn(fn func()) {
	haltFn = fn
}

// SetFlushTLBEntryFn replaces the low-level TLB invalidation implementation.
func SetFlushTLBEntryFn(fn func(virtAddr uintptr)) {
	flushTLBEntryFn = fn
}
