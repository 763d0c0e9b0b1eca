// Package monitoring holds the process-wide logger used by commands and
// servers.
package monitoring

import (
	"io"
	"log"
)

// Logf is the process-wide logger. It defaults to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. Nil mutes logging.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetOutput sends Logf to w with the standard flags and prefix.
func SetOutput(w io.Writer, prefix string) {
	if w == nil {
		SetLogger(nil)
		return
	}
	SetLogger(log.New(w, prefix, log.LstdFlags).Printf)
}

// Prefixed returns a logger that writes through the current Logf with
// prefix prepended. Logf is looked up on every call.
func Prefixed(prefix string) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
