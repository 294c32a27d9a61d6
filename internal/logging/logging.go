// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the logrus logger shared by switchboard components.
//
// Every logger carries a RedactHook so credentials that slip into a message
// or field are scrubbed before a formatter sees them.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// Formats accepted by Options.Format.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options configures New.
type Options struct {
	// Level is a logrus level name (trace, debug, info, warn, error).
	Level string
	// Format is "text" or "json".
	Format string
	// Output defaults to stderr so logs never mix with streamed tokens.
	Output io.Writer
	// Secrets are exact values to scrub in addition to the known patterns.
	Secrets []string
}

// ValidLevels lists the level names Options.Level accepts.
var ValidLevels = []string{"trace", "debug", "info", "warn", "error"}

// ParseLevel accepts the names in ValidLevels, case-insensitively.
func ParseLevel(name string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return logrus.TraceLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "", "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("unknown log level %q (valid: %s)", name, strings.Join(ValidLevels, ", "))
	}
}

// New returns a configured logger and its redaction hook.
func New(opts Options) (*logrus.Logger, *RedactHook, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	log := logrus.New()
	log.SetLevel(level)

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	log.SetOutput(out)

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", FormatText:
		log.SetFormatter(&logrus.TextFormatter{
			DisableColors:   !isTerminal(out),
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05Z07:00",
		})
	case FormatJSON:
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, nil, fmt.Errorf("unknown log format %q (valid: %s, %s)", opts.Format, FormatText, FormatJSON)
	}

	hook := NewRedactHook(opts.Secrets...)
	log.AddHook(hook)
	return log, hook, nil
}

// Discard returns a logger that drops everything. Components use it when
// no logger is supplied.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
