// Package debug owns the process-wide logger. Components take a
// logrus.FieldLogger and default to Log.
package debug

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the shared logger. FB_DEBUG in the environment starts it at debug level.
var Log = newLogger()

var (
	verboseMode = false
	quietMode   = false
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.WarnLevel)
	if os.Getenv("FB_DEBUG") != "" {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// Enabled reports whether debug-level output is on.
func Enabled() bool {
	return verboseMode || Log.IsLevelEnabled(logrus.DebugLevel)
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
	if verbose {
		Log.SetLevel(logrus.DebugLevel)
	}
}

// SetQuiet suppresses everything below error level.
func SetQuiet(quiet bool) {
	quietMode = quiet
	if quiet {
		Log.SetLevel(logrus.ErrorLevel)
	}
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

// SetLevel parses a level name (debug, info, warn, error, fatal).
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	Log.SetLevel(lvl)
	return nil
}

// SetFormat switches between "text" and "json" output.
func SetFormat(format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		Log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", format)
	}
	return nil
}

// SetOutput redirects the shared logger.
func SetOutput(w io.Writer) {
	Log.SetOutput(w)
}

// Logf writes a debug-level message.
func Logf(format string, args ...interface{}) {
	Log.Debugf(strings.TrimRight(format, "\n"), args...)
}

// PrintNormal prints output unless quiet mode is enabled
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Printf(format, args...)
	}
}

// Or returns l, or the shared logger when l is nil.
func Or(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return Log
	}
	return l
}
