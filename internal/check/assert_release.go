//go:build !debug

// Package check provides build-tagged assertions for internal invariants.
// Release builds compile them away.
package check

// Assert is a no-op without the debug tag.
func Assert(_ bool, _ string) {}

// Assertf is a no-op without the debug tag.
func Assertf(_ bool, _ string, _ ...any) {}
