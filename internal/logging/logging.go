// SPDX-License-Identifier: Apache-2.0

// Package logging provides partmove's structured, session-scoped logger: a
// slog.Handler wrapping charmbracelet/log with lipgloss-styled levels,
// fanned out to stderr, a daily-rotated file via
// gopkg.in/natefinch/lumberjack.v2, and every attached Sink (the CLI
// attaches the metadata store's bounded log writer), with credential
// masking applied once, centrally, before any sink sees the record. The
// control bus's log channel is not a Sink and receives no entries from
// this logger.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/partmove/partmove/pkg/model"
)

// Sink receives every log entry after masking, in addition to the console
// and rotating file writers. The metadata store's log repository
// implements this to persist structured entries.
type Sink interface {
	WriteLog(model.LogEntry)
}

// levelSuccess sits between Info and Warn so it can carry its own style
// without colliding with charmbracelet/log's built-in levels.
const levelSuccess = charmlog.Level(2)

// Logger is partmove's structured logger: every record carries a session
// id, component tag, and masked message, and fans out to console, file,
// and any attached Sinks.
type Logger struct {
	sessionID string
	console   *charmlog.Logger
	sinks     []Sink
}

// New constructs a Logger writing to stderr (styled via charmbracelet/log)
// and to a daily-rotated file under logDir, tagged with a fresh session id.
func New(logDir string, sinks ...Sink) *Logger {
	fileWriter := &lumberjack.Logger{
		Filename: filepath.Join(logDir, fmt.Sprintf("migration_%s.log", time.Now().Format("20060102"))),
		MaxSize:  50, // megabytes
		MaxAge:   30, // days
		Compress: true,
	}

	console := charmlog.NewWithOptions(io.MultiWriter(os.Stderr, fileWriter), charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	applyStyles(console)

	return &Logger{
		sessionID: uuid.NewString(),
		console:   console,
		sinks:     sinks,
	}
}

func applyStyles(l *charmlog.Logger) {
	styles := charmlog.DefaultStyles()
	styles.Levels[levelSuccess] = lipgloss.NewStyle().
		SetString("SUCCESS").
		Bold(true).
		Foreground(lipgloss.Color("42"))
	styles.Levels[charmlog.WarnLevel] = lipgloss.NewStyle().
		SetString("WARNING").
		Bold(true).
		Foreground(lipgloss.Color("214"))
	l.SetStyles(styles)
}

// SessionID returns the UUID this logger tags every entry with.
func (l *Logger) SessionID() string { return l.sessionID }

func (l *Logger) log(level model.LogLevel, component, msg string, args ...any) {
	masked := Mask(fmt.Sprintf(msg, args...))

	switch level {
	case model.LogDebug:
		l.console.Debug(masked, "component", component)
	case model.LogInfo:
		l.console.Info(masked, "component", component)
	case model.LogSuccess:
		l.console.Log(levelSuccess, masked, "component", component)
	case model.LogWarning:
		l.console.Warn(masked, "component", component)
	case model.LogError:
		l.console.Error(masked, "component", component)
	}

	entry := model.LogEntry{
		RunSessionID: l.sessionID,
		Timestamp:    time.Now().UTC(),
		Level:        level,
		Component:    component,
		Message:      masked,
	}
	for _, s := range l.sinks {
		s.WriteLog(entry)
	}
}

func (l *Logger) Debug(component, msg string, args ...any)   { l.log(model.LogDebug, component, msg, args...) }
func (l *Logger) Info(component, msg string, args ...any)    { l.log(model.LogInfo, component, msg, args...) }
func (l *Logger) Success(component, msg string, args ...any) { l.log(model.LogSuccess, component, msg, args...) }
func (l *Logger) Warning(component, msg string, args ...any) { l.log(model.LogWarning, component, msg, args...) }
func (l *Logger) Error(component, msg string, args ...any)   { l.log(model.LogError, component, msg, args...) }

// SlogHandler returns an slog.Handler view of this logger, so packages
// that expect a *slog.Logger (e.g. discovery) can log through the same
// masked, fanned-out pipeline.
func (l *Logger) SlogHandler() slog.Handler {
	return &slogAdapter{l: l}
}

type slogAdapter struct {
	l    *Logger
	args []any
}

func (a *slogAdapter) Enabled(context.Context, slog.Level) bool { return true }

func (a *slogAdapter) Handle(_ context.Context, r slog.Record) error {
	level := model.LogInfo
	switch {
	case r.Level < slog.LevelInfo:
		level = model.LogDebug
	case r.Level >= slog.LevelError:
		level = model.LogError
	case r.Level >= slog.LevelWarn:
		level = model.LogWarning
	}

	args := append([]any{}, a.args...)
	r.Attrs(func(attr slog.Attr) bool {
		args = append(args, attr.Key, attr.Value.Any())
		return true
	})

	a.l.log(level, "discovery", "%s %v", r.Message, args)
	return nil
}

func (a *slogAdapter) WithAttrs(attrs []slog.Attr) slog.Handler {
	args := append([]any{}, a.args...)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value.Any())
	}
	return &slogAdapter{l: a.l, args: args}
}

func (a *slogAdapter) WithGroup(string) slog.Handler { return a }
