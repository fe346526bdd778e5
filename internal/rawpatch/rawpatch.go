// Package rawpatch replaces a byte pattern in an unparsed buffer without
// changing its length.
package rawpatch

import "bytes"

// Result is the outcome of ReplaceExact. When Patched is false, Bytes is
// the input slice and Offset is -1.
type Result struct {
	Bytes   []byte
	Offset  int
	Patched bool
}

// Index returns the offset of the first occurrence of pattern in b, or -1.
// An empty pattern never matches.
func Index(b, pattern []byte) int {
	if len(pattern) == 0 {
		return -1
	}
	return bytes.Index(b, pattern)
}

// ReplaceExact overwrites the first occurrence of pattern with
// replacement, fitted to exactly len(pattern) bytes: a longer replacement
// is truncated and a shorter one is followed by zero bytes. The input is
// never modified; a patched result is a fresh copy of the same length.
func ReplaceExact(b, pattern, replacement []byte) Result {
	at := Index(b, pattern)
	if at < 0 {
		return Result{Bytes: b, Offset: -1}
	}
	out := make([]byte, len(b))
	copy(out, b)
	window := out[at : at+len(pattern)]
	n := copy(window, replacement)
	clear(window[n:])
	return Result{Bytes: out, Offset: at, Patched: true}
}
