package kernel

// Error describes an error condition detected by a kernel subsystem. All
// kernel errors must be defined as global variables that are pointers to the
// Error structure. This requirement stems from the fact that raising an error
// must not allocate; the kernel heap may not yet be available at the point
// where the error is detected.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
