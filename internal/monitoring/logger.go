// Package monitoring carries the process-wide diagnostic logger used by the
// geometry and channel packages.
package monitoring

import (
	"log"
	"sync/atomic"
)

type logFunc func(format string, v ...interface{})

var logger atomic.Pointer[logFunc]

// Logf writes through the package-level diagnostic logger. It defaults to
// log.Printf and can be redirected or muted with SetLogger from any
// goroutine.
func Logf(format string, v ...interface{}) {
	if p := logger.Load(); p != nil {
		(*p)(format, v...)
		return
	}
	log.Printf(format, v...)
}

// SetLogger replaces the package logger and returns the previous one.
// Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) (prev func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	next := logFunc(f)
	if p := logger.Swap(&next); p != nil {
		return *p
	}
	return log.Printf
}

// Component returns a logger that prefixes every line with "[name] " and
// resolves Logf at call time, so a later SetLogger still applies.
func Component(name string) func(format string, v ...interface{}) {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}

// Counter is a monotonically increasing event count that is safe to bump
// from transport goroutines.
type Counter struct {
	n atomic.Int64
}

func (c *Counter) Inc()              { c.n.Add(1) }
func (c *Counter) Add(d int64) int64 { return c.n.Add(d) }
func (c *Counter) Load() int64       { return c.n.Load() }
