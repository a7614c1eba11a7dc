// Package debug is the process logger. The terminal belongs to the TUI, so
// everything goes to a rotated file under ~/.config/go-rfu.
package debug

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrick/logrotate/rotator"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	logger   = newLogger(io.Discard)
	rot      *rotator.Rotator
	mu       sync.Mutex
	counters = make(map[string]int)
)

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return l
}

// DefaultPath returns ~/.config/go-rfu/rfu.log
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "go-rfu", "rfu.log")
}

// Open starts logging to path (DefaultPath if empty), rolling the file at
// 1MB and keeping 3 old files. verbose enables debug level.
func Open(path string, verbose bool) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create log dir")
	}
	r, err := rotator.New(path, 1024, false, 3)
	if err != nil {
		return errors.Wrap(err, "create log rotator")
	}

	mu.Lock()
	if rot != nil {
		rot.Close()
	}
	rot = r
	logger.SetOutput(r)
	mu.Unlock()

	SetVerbose(verbose)
	With("debug").Info("=== logging started ===")
	return nil
}

// useWriter sends log output to w
func useWriter(w io.Writer) {
	logger.SetOutput(w)
}

// SetVerbose toggles debug level
func SetVerbose(on bool) {
	if on {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

// Verbose reports whether debug level is enabled
func Verbose() bool {
	return logger.IsLevelEnabled(logrus.DebugLevel)
}

// Close flushes and closes the log file
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if rot != nil {
		logger.SetOutput(io.Discard)
		rot.Close()
		rot = nil
	}
}

// With returns a logger tagged with a category
func With(category string) *logrus.Entry {
	return logger.WithField("category", category)
}

// Log writes a debug-level message under a category
func Log(category, format string, args ...any) {
	With(category).Debugf(format, args...)
}

// LogEvery logs only every N calls (use for high-frequency events)
func LogEvery(n int, category, format string, args ...any) {
	mu.Lock()
	key := category + format
	counters[key]++
	count := counters[key]
	mu.Unlock()

	if count%n == 0 {
		Log(category, format+" (every %d, count=%d)", append(args, n, count)...)
	}
}
