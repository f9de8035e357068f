// Package goid reports the identity of the calling goroutine.
//
// Go deliberately hides goroutine identity, so the id is parsed from the
// header line the runtime writes at the top of every stack trace:
//
//	goroutine 123 [running]:
//
// The id is stable for the lifetime of a goroutine and never reused while the
// goroutine is alive.
package goid

import (
	"runtime"
	"strconv"
)

// None is never returned by ID and marks "no goroutine".
const None int64 = 0

var prefix = []byte("goroutine ")

// ID returns the id of the calling goroutine. It never returns None.
func ID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	id := parse(buf[:n])
	if id == None {
		panic("goid: malformed stack header " + strconv.Quote(string(buf[:n])))
	}
	return id
}

// parse extracts the numeric id from a stack header. It returns None if buf
// does not start with a well formed header.
func parse(buf []byte) int64 {
	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != string(prefix) {
		return None
	}
	var id int64
	digits := 0
	for _, c := range buf[len(prefix):] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
		digits++
	}
	if digits == 0 {
		return None
	}
	return id
}
