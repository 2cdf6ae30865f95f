//go:build debug

// Package check provides build-tagged assertions for internal invariants.
// Release builds compile them away.
package check

import "fmt"

// Assert panics when cond is false. Active only under the debug tag.
func Assert(cond bool, msg string) {
	if !cond {
		panic("assertion failed: " + msg)
	}
}

// Assertf is Assert with a formatted message.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("assertion failed: " + fmt.Sprintf(format, args...))
	}
}
