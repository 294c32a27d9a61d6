// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"trace", logrus.TraceLevel},
		{"DEBUG", logrus.DebugLevel},
		{"", logrus.InfoLevel},
		{"info", logrus.InfoLevel},
		{"warning", logrus.WarnLevel},
		{" error ", logrus.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := New(Options{Level: "debug", Format: FormatJSON, Output: &buf})
	require.NoError(t, err)

	log.WithField("request_id", "abc").Debug("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "hello", entry["msg"])
	require.Equal(t, "abc", entry["request_id"])
	require.Equal(t, "debug", entry["level"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := New(Options{Level: "warn", Output: &buf})
	require.NoError(t, err)

	log.Info("hidden")
	require.Zero(t, buf.Len())

	log.Warn("shown")
	require.Contains(t, buf.String(), "shown")
}

func TestNew_InvalidOptions(t *testing.T) {
	_, _, err := New(Options{Level: "loud"})
	require.Error(t, err)

	_, _, err = New(Options{Format: "xml"})
	require.Error(t, err)
}

func TestScrubCredentials(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"openai key", "using sk-abcdefghijklmnopqrstuvwx now", "using [REDACTED] now"},
		{"together token", "key tok_abc123 loaded", "key [REDACTED] loaded"},
		{"bearer header", "Authorization: Bearer abcdefgh12345678", "Authorization: [REDACTED]"},
		{"key value", "api_key=hunter2hunter2", "api_key=[REDACTED]"},
		{"json field", `{"password": "correcthorse"}`, `{"password": "[REDACTED]"}`},
		{"nothing to scrub", "model meta-llama/Llama-3 selected", "model meta-llama/Llama-3 selected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ScrubCredentials(tt.in))
		})
	}
}

func TestRedactHook_ScrubsMessageAndFields(t *testing.T) {
	var buf bytes.Buffer
	log, hook, err := New(Options{Format: FormatJSON, Output: &buf, Secrets: []string{"plainsecretvalue"}})
	require.NoError(t, err)
	hook.AddSecret("another-secret")

	log.WithFields(logrus.Fields{
		"header": "Bearer abcdefgh12345678",
		"custom": "another-secret",
		"count":  3,
	}).WithError(errors.New("auth failed for plainsecretvalue")).
		Info("saving tok_abc123")

	out := buf.String()
	require.NotContains(t, out, "tok_abc123")
	require.NotContains(t, out, "abcdefgh12345678")
	require.NotContains(t, out, "another-secret")
	require.NotContains(t, out, "plainsecretvalue")
	require.Contains(t, out, Redacted)
	require.Contains(t, out, `"count":3`)
}

func TestRedactHook_IgnoresShortSecrets(t *testing.T) {
	hook := NewRedactHook("a", "ab")
	require.Equal(t, "a cab", hook.Scrub("a cab"))
}

func TestDiscard(t *testing.T) {
	log := Discard()
	log.Error("nothing to see")
}
