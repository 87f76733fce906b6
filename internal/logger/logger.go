// Package logger provides named loggers that write to a single global handler.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cenkalti/log"
)

const timeFormat = "2006-01-02 15:04:05"

var handler log.Handler

func init() {
	SetHandler(log.NewFileHandler(os.Stderr))
	SetLevel(log.INFO)
}

// SetHandler replaces the global handler. All loggers created before and after the call write to h.
func SetHandler(h log.Handler) {
	handler = h
	handler.SetFormatter(logFormatter{})
}

// SetLevel sets the minimum level that is printed by the global handler.
func SetLevel(l log.Level) {
	handler.SetLevel(l)
}

// SetDebug prints debug messages, including wire traffic, when enabled.
func SetDebug(enabled bool) {
	if enabled {
		SetLevel(log.DEBUG)
	} else {
		SetLevel(log.INFO)
	}
}

// Logger is the logging interface used by every drizzle component.
type Logger log.Logger

// New returns a Logger whose messages are prefixed with name.
func New(name string) Logger {
	l := log.NewLogger(name)
	l.SetLevel(log.DEBUG) // filtering is done by the handler
	l.SetHandler(handler)
	return l
}

type logFormatter struct{}

// Format outputs a message like "2020-02-28 18:15:57 INFO     [downloader] worker.go:42 piece #3 is validated"
func (f logFormatter) Format(rec *log.Record) string {
	return fmt.Sprintf("%s %-8s [%s] %s %s",
		rec.Time.Format(timeFormat),
		rec.Level,
		rec.LoggerName,
		filepath.Base(rec.Filename)+":"+strconv.Itoa(rec.Line),
		rec.Message)
}
