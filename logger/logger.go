// Package logger holds the process-wide logrus logger. Components receive it
// through their constructors; only main and the commands read it from here.
package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Logger is the configured instance. It stays nil until InitLogger or
// GetLogger runs.
var Logger *logrus.Logger

// InitLogger replaces the global logger. level is any logrus level name and
// falls back to info when it does not parse. format is "text" or "json", with
// anything else treated as json. output is "stdout", "stderr" or a file path;
// a file is created with its parent directories and appended to.
func InitLogger(level, format, output string) error {
	l := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	l.SetLevel(logLevel)

	switch format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	default:
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	}

	switch output {
	case "", "stdout":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	default:
		if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		l.SetOutput(file)
	}

	Logger = l
	return nil
}

// GetLogger returns the global logger, creating an info level JSON logger on
// stderr when nothing was configured. Stdout stays free for command output.
func GetLogger() *logrus.Logger {
	if Logger == nil {
		_ = InitLogger("info", "json", "stderr")
	}
	return Logger
}
