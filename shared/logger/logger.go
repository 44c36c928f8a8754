// Package logger wraps logrus with the structured-fields convention
// used throughout this codebase: call sites pass a Ctx map of
// loosely-typed fields alongside a short message, rather than
// building a format string.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Ctx is a set of structured fields attached to a log line.
type Ctx map[string]any

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if os.Getenv("MICROKIT_DEBUG") != "" {
		l.SetLevel(logrus.DebugLevel)
	}

	return l
}

func fields(ctx Ctx) logrus.Fields {
	return logrus.Fields(ctx)
}

// Debug logs a debug-level line with structured fields.
func Debug(msg string, ctx Ctx) {
	log.WithFields(fields(ctx)).Debug(msg)
}

// Info logs an info-level line with structured fields.
func Info(msg string, ctx Ctx) {
	log.WithFields(fields(ctx)).Info(msg)
}

// Warn logs a warning-level line with structured fields.
func Warn(msg string, ctx Ctx) {
	log.WithFields(fields(ctx)).Warn(msg)
}

// Error logs an error-level line with structured fields.
func Error(msg string, ctx Ctx) {
	log.WithFields(fields(ctx)).Error(msg)
}

// Fatal logs an error-level line and then terminates the process with
// a non-zero exit status. It is used for the one place a PD kills
// itself outright: an unrecoverable fault in its own event loop.
func Fatal(msg string, ctx Ctx) {
	log.WithFields(fields(ctx)).Error(msg)
	os.Exit(1)
}
