// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured logger used across the daemon:
// netsetup reconciliation steps, configurator rollback, SR-IOV VF changes,
// and domain monitor probe results all go through a *Logger so that every
// component logs at the same density and can be forwarded to syslog.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"
)

// Level mirrors slog's levels under names that read naturally at call sites.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config controls where and how the logger writes.
type Config struct {
	Output io.Writer
	Level  Level
	JSON   bool
}

// DefaultConfig returns a config writing human-readable logs to stderr at Info level.
func DefaultConfig() Config {
	return Config{Output: os.Stderr, Level: LevelInfo}
}

// Logger is a thin wrapper over log/slog giving call sites a small,
// stable surface (Info/Warn/Debug/Error with key-value pairs) and the
// ability to scope a sub-logger to a named component.
type Logger struct {
	base      *slog.Logger
	component string
}

// New creates a Logger from Config.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}
	return &Logger{base: slog.New(handler)}
}

// WithComponent returns a sub-logger that tags every record with
// component=name, e.g. logging.New(cfg).WithComponent("netsetup").
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{base: l.base.With("component", name), component: name}
}

// With returns a sub-logger with additional fixed key-value pairs.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{base: l.base.With(kv...), component: l.component}
}

func (l *Logger) Debug(msg string, kv ...any) { l.base.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.base.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.base.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.base.Error(msg, kv...) }

// SyslogConfig configures forwarding of log records to a remote syslog
// collector, independent of the primary Output writer.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // "udp" or "tcp"
	Tag      string
	Facility int
}

// DefaultSyslogConfig returns syslog forwarding disabled, with the usual
// UDP/514 defaults pre-filled so enabling it only requires setting Host.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "vnetd",
		Facility: 1, // user-level messages
	}
}

// syslogWriter forwards each Write as a single RFC3164-ish syslog datagram.
type syslogWriter struct {
	conn net.Conn
	tag  string
	pri  int
}

// NewSyslogWriter dials the configured syslog collector and returns an
// io.Writer suitable for use as a second logging.Config.Output via
// io.MultiWriter.
func NewSyslogWriter(cfg SyslogConfig) (io.Writer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "vnetd"
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	conn, err := net.DialTimeout(cfg.Protocol, addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("logging: dial syslog %s://%s: %w", cfg.Protocol, addr, err)
	}

	return &syslogWriter{
		conn: conn,
		tag:  cfg.Tag,
		pri:  cfg.Facility*8 + 6, // facility*8 + severity (6 = informational)
	}, nil
}

func (w *syslogWriter) Write(p []byte) (int, error) {
	msg := fmt.Sprintf("<%d>%s %s: %s", w.pri, time.Now().Format(time.Stamp), w.tag, p)
	if _, err := w.conn.Write([]byte(msg)); err != nil {
		return 0, err
	}
	return len(p), nil
}
