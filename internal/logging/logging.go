// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the process-wide logger. All components log
// through the package-level helpers; the underlying zerolog instance writes
// to stderr with a console format.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = newLogger(zerolog.InfoLevel)
)

func newLogger(level zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// SetLevel configures the global log level from a string ("debug", "info",
// "warn", "error"). Unknown values keep the current level.
func SetLevel(level string) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		return
	}
	mu.Lock()
	logger = newLogger(parsed)
	mu.Unlock()
}

func get() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(format string, args ...any) {
	l := get()
	l.Debug().Msg(fmt.Sprintf(format, args...))
}

func Info(format string, args ...any) {
	l := get()
	l.Info().Msg(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...any) {
	l := get()
	l.Warn().Msg(fmt.Sprintf(format, args...))
}

func Error(format string, args ...any) {
	l := get()
	l.Error().Msg(fmt.Sprintf(format, args...))
}
