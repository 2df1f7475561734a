// Package utils
package utils

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

// GetLogger returns the process-wide logger. LOG_LEVEL sets the level,
// LOG_FORMAT=json switches to JSON output and LOG_FILE tees to a file.
func GetLogger() *logrus.Logger {
	once.Do(func() {
		logger = newLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Getenv("LOG_FILE"))
	})
	return logger
}

func newLogger(level, format, file string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl := logrus.InfoLevel
	if level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			l.Warnf("Logger | Unknown LOG_LEVEL %q, using info", level)
		} else {
			lvl = parsed
		}
	}
	l.SetLevel(lvl)

	if file != "" {
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			l.WithError(err).Warn("Logger | Cannot open LOG_FILE, logging to stdout only")
		} else {
			l.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	}
	return l
}
