// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package logs implements the small leveled-logging primitives the
// package-level logger setup in package logger depends on: a Backend that
// fans formatted lines out to one or more BackendWriters filtered by
// level, and per-subsystem Logger handles with independent levels. This
// is internal infrastructure the teacher module depended on as its own
// subpackage rather than a published dependency; it is rebuilt here in
// the same shape its callers expect (Backend.Logger, BackendWriter,
// Level/LevelFromString) since the subpackage itself did not travel with
// the retrieved snapshot.
package logs

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Level is a logging severity, ordered from most to least verbose.
type Level uint8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
	LevelOff
)

var levelStrings = map[Level]string{
	LevelTrace:    "TRC",
	LevelDebug:    "DBG",
	LevelInfo:     "INF",
	LevelWarn:     "WRN",
	LevelError:    "ERR",
	LevelCritical: "CRT",
	LevelOff:      "OFF",
}

func (l Level) String() string {
	if s, ok := levelStrings[l]; ok {
		return s
	}
	return "UNK"
}

// LevelFromString parses one of "trace", "debug", "info", "warn",
// "error", "critical", or "off" (case-insensitive) into a Level.
func LevelFromString(s string) (l Level, ok bool) {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace, true
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn":
		return LevelWarn, true
	case "error":
		return LevelError, true
	case "critical":
		return LevelCritical, true
	case "off":
		return LevelOff, true
	}
	return LevelInfo, false
}

// Logger writes leveled, formatted messages tagged with its subsystem.
type Logger interface {
	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Criticalf(format string, args ...interface{})

	SetLevel(level Level)
	Level() Level
}

// BackendWriter is an io.Writer restricted to a band of severities; a
// Backend fans each formatted line out to every writer whose band
// contains that line's level.
type BackendWriter struct {
	w             io.Writer
	minLevel      Level
	maxLevel      Level
}

// NewAllLevelsBackendWriter returns a writer that receives every level.
func NewAllLevelsBackendWriter(w io.Writer) *BackendWriter {
	return &BackendWriter{w: w, minLevel: LevelTrace, maxLevel: LevelCritical}
}

// NewErrorBackendWriter returns a writer that receives only Error and
// Critical level lines, for splitting a separate error log file.
func NewErrorBackendWriter(w io.Writer) *BackendWriter {
	return &BackendWriter{w: w, minLevel: LevelError, maxLevel: LevelCritical}
}

// Backend creates subsystem Loggers that all write through the same set
// of BackendWriters.
type Backend struct {
	writers []*BackendWriter
}

// NewBackend returns a Backend fanning out to writers.
func NewBackend(writers []*BackendWriter) *Backend {
	return &Backend{writers: writers}
}

// Logger returns a new Logger tagged with subsystemTag, defaulting to
// LevelInfo until SetLevel is called.
func (b *Backend) Logger(subsystemTag string) Logger {
	return &subsystemLogger{tag: subsystemTag, backend: b, level: LevelInfo}
}

type subsystemLogger struct {
	tag     string
	backend *Backend

	mtx   sync.Mutex
	level Level
}

func (l *subsystemLogger) SetLevel(level Level) {
	l.mtx.Lock()
	l.level = level
	l.mtx.Unlock()
}

func (l *subsystemLogger) Level() Level {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.level
}

func (l *subsystemLogger) write(level Level, format string, args ...interface{}) {
	if level < l.Level() {
		return
	}
	line := fmt.Sprintf("%s [%s] %s: %s\n",
		time.Now().Format("2006-01-02 15:04:05.000"), level, l.tag, fmt.Sprintf(format, args...))
	for _, w := range l.backend.writers {
		if level >= w.minLevel && level <= w.maxLevel {
			io.WriteString(w.w, line)
		}
	}
}

func (l *subsystemLogger) Tracef(format string, args ...interface{})    { l.write(LevelTrace, format, args...) }
func (l *subsystemLogger) Debugf(format string, args ...interface{})    { l.write(LevelDebug, format, args...) }
func (l *subsystemLogger) Infof(format string, args ...interface{})     { l.write(LevelInfo, format, args...) }
func (l *subsystemLogger) Warnf(format string, args ...interface{})     { l.write(LevelWarn, format, args...) }
func (l *subsystemLogger) Errorf(format string, args ...interface{})    { l.write(LevelError, format, args...) }
func (l *subsystemLogger) Criticalf(format string, args ...interface{}) { l.write(LevelCritical, format, args...) }
