// Package logging bridges the model zoo's components to logrus.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the logger accepted by every component. Both *logrus.Logger and
// *logrus.Entry satisfy it.
type Logger interface {
	logrus.FieldLogger
}

// New creates the process logger. Debug logging is enabled when DEBUG=1.
func New() *logrus.Logger {
	log := logrus.New()
	if os.Getenv("DEBUG") == "1" {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// Component scopes log to a named component.
func Component(log Logger, name string) Logger {
	if log == nil {
		log = Discard()
	}
	return log.WithField("component", name)
}

// Discard returns a logger that drops every entry.
func Discard() Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}
