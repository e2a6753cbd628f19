package kernel

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure. Comparisons are done
// by identity so callers can match on the package-level value.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Module == "" {
		return e.Message
	}
	return "[" + e.Module + "] " + e.Message
}
