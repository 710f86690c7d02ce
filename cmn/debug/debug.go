// Package debug implements programmer-error assertions. Per the error
// design (spec §7), an InvariantViolation is not a recoverable error —
// it aborts with a diagnostic, mirroring the teacher's `cmn/debug.Assert`.
package debug

import "fmt"

// Enabled gates whether Assert panics. It defaults to true; nothing in
// this repository sets it to false, so tests run with it enabled.
var Enabled = true

func Assert(cond bool, args ...any) {
	if !Enabled || cond {
		return
	}
	panic(fmt.Sprintln(append([]any{"assertion failed:"}, args...)...))
}

func Assertf(cond bool, format string, args ...any) {
	if !Enabled || cond {
		return
	}
	panic(fmt.Sprintf("assertion failed: "+format, args...))
}

func AssertNoErr(err error) {
	if !Enabled || err == nil {
		return
	}
	panic(fmt.Sprintf("assertion failed: unexpected error: %v", err))
}
