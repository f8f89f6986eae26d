// Package slam is the root of the scan-to-map mapping engine. Subpackages
// hold the geometry types, tile map, preprocessing, registration, hypothesis
// search, pose tracker and the mapping session that ties them together.
//
// This file owns the three log streams shared by those subpackages.
package slam

import (
	"fmt"
	"io"
	"log"
	"sync"
)

// DefaultLogPrefix starts every line when LogWriters.Prefix is empty.
const DefaultLogPrefix = "[slam] "

type stream int

const (
	opsStream stream = iota
	diagStream
	traceStream
	numStreams
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer

	// Prefix replaces DefaultLogPrefix on all three streams.
	Prefix string
}

var (
	mu      sync.RWMutex
	loggers [numStreams]*log.Logger
)

// SetLogWriters configures all three logging streams at once.
// Pass nil for any writer to disable that stream.
func SetLogWriters(w LogWriters) {
	prefix := w.Prefix
	if prefix == "" {
		prefix = DefaultLogPrefix
	}
	mu.Lock()
	defer mu.Unlock()
	for s, out := range [numStreams]io.Writer{w.Ops, w.Diag, w.Trace} {
		loggers[s] = nil
		if out != nil {
			loggers[s] = log.New(out, prefix, log.LstdFlags|log.Lmicroseconds)
		}
	}
}

func logger(s stream) *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return loggers[s]
}

func printf(s stream, tag, format string, args []interface{}) {
	l := logger(s)
	if l == nil {
		return
	}
	l.Print(tag + fmt.Sprintf(format, args...))
}

// Opsf logs to the ops stream (lifecycle events, warnings, sink failures).
func Opsf(format string, args ...interface{}) { printf(opsStream, "", format, args) }

// Diagf logs to the diag stream (per-scan summaries, tuning context).
func Diagf(format string, args ...interface{}) { printf(diagStream, "", format, args) }

// Tracef logs to the trace stream (per-iteration and per-hypothesis telemetry).
func Tracef(format string, args ...interface{}) { printf(traceStream, "", format, args) }

// TraceEnabled reports whether the trace stream has a writer, so hot loops
// can skip formatting.
func TraceEnabled() bool { return logger(traceStream) != nil }

// Scope writes to the same streams with a fixed tag after the prefix.
type Scope struct {
	tag string
}

// ScanScope tags lines with the session id, cut to eight characters, and
// the scan sequence number: "<session> scan <seq>: ".
func ScanScope(session string, seq uint32) Scope {
	if len(session) > 8 {
		session = session[:8]
	}
	if session == "" {
		return Scope{tag: fmt.Sprintf("scan %d: ", seq)}
	}
	return Scope{tag: fmt.Sprintf("%s scan %d: ", session, seq)}
}

// Opsf logs to the ops stream with the scope's tag.
func (c Scope) Opsf(format string, args ...interface{}) { printf(opsStream, c.tag, format, args) }

// Diagf logs to the diag stream with the scope's tag.
func (c Scope) Diagf(format string, args ...interface{}) { printf(diagStream, c.tag, format, args) }

// Tracef logs to the trace stream with the scope's tag.
func (c Scope) Tracef(format string, args ...interface{}) { printf(traceStream, c.tag, format, args) }
