package monitoring

import (
	"fmt"
	"log"
)

// Logf is the package-level diagnostic logger used by the intake. It defaults
// to log.Printf and may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Tagged returns a logger that prefixes every line with "[tag] ". The
// returned function looks up Logf on each call, so SetLogger applies to
// loggers created earlier.
func Tagged(tag string, args ...interface{}) func(format string, v ...interface{}) {
	prefix := "[" + fmt.Sprintf(tag, args...) + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
