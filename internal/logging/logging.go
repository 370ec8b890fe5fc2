// File: internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide structured logger shared by all subsystems.

package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultLogger is the base logger; packages derive subsystem loggers from it
// with WithField(logfields.LogSubsys, name).
var DefaultLogger = initDefaultLogger()

func initDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: false,
		FullTimestamp:    true,
	})
	return l
}

// Format selects the log encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SetupLogging applies level and format to DefaultLogger.
func SetupLogging(level string, format Format) error {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	DefaultLogger.SetLevel(lvl)
	switch format {
	case FormatJSON:
		DefaultLogger.SetFormatter(&logrus.JSONFormatter{})
	case FormatText, "":
		DefaultLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// SetOutput redirects DefaultLogger, mainly for tests.
func SetOutput(w io.Writer) {
	DefaultLogger.SetOutput(w)
}
