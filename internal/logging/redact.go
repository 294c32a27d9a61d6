// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Redacted replaces scrubbed credentials.
const Redacted = "[REDACTED]"

// minSecretLen keeps short values like "x" from blanking out whole logs.
const minSecretLen = 6

type credentialPattern struct {
	re   *regexp.Regexp
	repl string
}

var credentialPatterns = []credentialPattern{
	// OpenAI-style keys
	{regexp.MustCompile(`sk-[a-zA-Z0-9_-]{16,}`), Redacted},
	// Together tokens
	{regexp.MustCompile(`tok_[a-zA-Z0-9]{6,}`), Redacted},
	// Authorization headers
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/=-]{8,}`), Redacted},
	// key=value and key: value forms keep the key name
	{regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)(["']?\s*[:=]\s*["']?)[^\s"',}]{6,}`), "${1}${2}" + Redacted},
}

// ScrubCredentials replaces known credential patterns in text.
func ScrubCredentials(text string) string {
	for _, p := range credentialPatterns {
		text = p.re.ReplaceAllString(text, p.repl)
	}
	return text
}

// RedactHook scrubs registered secrets and credential patterns from the
// message and string fields of every entry.
type RedactHook struct {
	mu      sync.RWMutex
	secrets []string
}

// NewRedactHook returns a hook that also scrubs the given exact values.
func NewRedactHook(secrets ...string) *RedactHook {
	h := &RedactHook{}
	for _, s := range secrets {
		h.AddSecret(s)
	}
	return h
}

// AddSecret registers a value to scrub. Values shorter than six characters
// are ignored.
func (h *RedactHook) AddSecret(secret string) {
	if len(secret) < minSecretLen {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.secrets {
		if s == secret {
			return
		}
	}
	h.secrets = append(h.secrets, secret)
}

// Levels implements logrus.Hook.
func (h *RedactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (h *RedactHook) Fire(entry *logrus.Entry) error {
	entry.Message = h.Scrub(entry.Message)
	for k, v := range entry.Data {
		switch val := v.(type) {
		case string:
			entry.Data[k] = h.Scrub(val)
		case error:
			if scrubbed := h.Scrub(val.Error()); scrubbed != val.Error() {
				entry.Data[k] = scrubbed
			}
		}
	}
	return nil
}

// Scrub applies the registered secrets and the credential patterns to s.
func (h *RedactHook) Scrub(s string) string {
	h.mu.RLock()
	for _, secret := range h.secrets {
		s = strings.ReplaceAll(s, secret, Redacted)
	}
	h.mu.RUnlock()
	return ScrubCredentials(s)
}
