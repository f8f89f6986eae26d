// Package monitoring holds the process-level log hook shared by the
// storage, publish and command packages.
package monitoring

import (
	"io"
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}

// Writer returns an io.Writer that forwards each write to Logf with the
// given tag. It lets the slam log streams share the process logger.
func Writer(tag string) io.Writer {
	return logfWriter{tag: tag}
}

type logfWriter struct {
	tag string
}

func (w logfWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	if w.tag != "" {
		Logf("%s %s", w.tag, msg)
	} else {
		Logf("%s", msg)
	}
	return len(p), nil
}
