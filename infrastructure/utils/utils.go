// Package utils is a small set of generic helpers reused across a few
// internal packages rather than re-implemented per call site: pointer
// construction for optional timestamp fields, and string truncation for
// capping externally-sourced text before it reaches a log line.
package utils

import (
	"strings"
)

// IsEmpty checks if a string is empty or whitespace-only.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

// Coalesce returns the first non-empty string.
func Coalesce(strs ...string) string {
	for _, s := range strs {
		if !IsEmpty(s) {
			return s
		}
	}
	return ""
}

// Truncate truncates a string to max length, adding "..." if needed.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// Ptr returns a pointer to the given value. Used for the vault's optional
// *time.Time fields (done_ts), where a value only exists once an entity has
// actually transitioned into the state it marks.
func Ptr[T any](v T) *T {
	return &v
}

// Deref returns the value pointed to, or zero value if nil.
func Deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

// DerefDefault returns the value pointed to, or a default if nil.
func DerefDefault[T any](p *T, defaultVal T) T {
	if p == nil {
		return defaultVal
	}
	return *p
}
