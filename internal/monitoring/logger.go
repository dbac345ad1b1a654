// Package monitoring holds the relay's diagnostic logger.
package monitoring

import (
	"io"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	mu   sync.RWMutex
	base = newBase()
)

func newBase() *log.Logger {
	l := log.New()
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	l.SetLevel(log.InfoLevel)
	return l
}

// Logf is the package-level diagnostic printf. It logs at info level through
// the shared logrus logger and may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	Logger("relay").Infof(format, v...)
}

// SetLogger replaces Logf. Passing nil mutes Logf and every entry returned by
// Logger, which is what tests want.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		mu.Lock()
		base.SetOutput(io.Discard)
		mu.Unlock()
		return
	}
	Logf = f
}

// SetLevel switches between debug and info output.
func SetLevel(debug bool) {
	mu.Lock()
	defer mu.Unlock()
	if debug {
		base.SetLevel(log.DebugLevel)
	} else {
		base.SetLevel(log.InfoLevel)
	}
}

// SetOutput redirects the shared logger. nil restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	base.SetOutput(w)
}

// Logger returns an entry tagged with the given component name.
func Logger(component string) *log.Entry {
	mu.RLock()
	defer mu.RUnlock()
	return base.WithField("component", component)
}
