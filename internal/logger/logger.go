package logger

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// New builds the process logger. Production output is JSON on stdout;
// development gets logrus' text formatter with full timestamps.
func New(level string, development bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	if development {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	l.SetLevel(ParseLevel(level))
	return l
}

func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
