// Package monitoring holds process-wide diagnostics: the replaceable
// package logger and the Prometheus collectors for scene processing.
package monitoring

import (
	"io"
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// LogfWriter returns an io.Writer that forwards each write to Logf, one
// call per line. It lets the per-package ops/diag/trace streams share
// whatever sink SetLogger installed.
func LogfWriter() io.Writer {
	return logfWriter{}
}

type logfWriter struct{}

func (logfWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		Logf("%s", line)
	}
	return len(p), nil
}
