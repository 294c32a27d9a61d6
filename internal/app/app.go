// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mcp-switchboard/switchboard/internal/cloud"
	"github.com/mcp-switchboard/switchboard/internal/config"
	"github.com/mcp-switchboard/switchboard/internal/logging"
	"github.com/mcp-switchboard/switchboard/internal/security"
	"github.com/mcp-switchboard/switchboard/internal/util"
)

var (
	// ErrNoAPIKey is returned by operations that need a credential when
	// none resolves, including when the config file cannot be read.
	ErrNoAPIKey = errors.New("no API key configured")

	// ErrEmptyAPIKey rejects a key that is empty after sanitizing.
	ErrEmptyAPIKey = errors.New("API key must not be empty")

	// ErrEmptyModel rejects a blank model ID.
	ErrEmptyModel = errors.New("model must not be empty")

	// ErrEmptyMessage rejects a blank chat message.
	ErrEmptyMessage = errors.New("message must not be empty")
)

// CredentialStore is the subset of configstore.Store the service uses.
type CredentialStore interface {
	APIKey() (string, bool, error)
	HasConfig() bool
	PreferredModel() string
	SetAPIKey(key string) error
	SetPreferredModel(model string) error
}

// Service is the surface the CLI talks to. It resolves the credential on
// every call, so a key saved by another process is picked up without a
// restart.
type Service struct {
	store    CredentialStore
	settings *config.Config
	log      logrus.FieldLogger
	redact   *logging.RedactHook

	mu          sync.Mutex
	client      *cloud.Client
	clientKeyFP string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithRedactHook registers every credential the service handles with hook,
// so the value is scrubbed from later log entries.
func WithRedactHook(hook *logging.RedactHook) Option {
	return func(s *Service) { s.redact = hook }
}

// New creates a service. A nil settings uses config.Default.
func New(store CredentialStore, settings *config.Config, opts ...Option) *Service {
	if settings == nil {
		settings = config.Default()
	}
	s := &Service{
		store:    store,
		settings: settings,
		log:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settings returns the non-secret settings in use.
func (s *Service) Settings() *config.Config {
	return s.settings
}

// =============================================================================
// CREDENTIAL
// =============================================================================

// APIConfig returns the active credential and whether one is configured.
func (s *Service) APIConfig() (string, bool, error) {
	key, ok, err := s.store.APIKey()
	if err != nil {
		return "", false, err
	}
	if ok {
		s.protect(key)
	}
	return key, ok, nil
}

// SaveAPIConfig normalizes pasted input and stores it, keeping the model
// preference.
func (s *Service) SaveAPIConfig(key string) error {
	key = util.SanitizeSecret(key)
	if key == "" {
		return ErrEmptyAPIKey
	}
	s.protect(key)

	if err := s.store.SetAPIKey(key); err != nil {
		return err
	}
	s.log.WithField("key", security.Fingerprint(key)).Info("API key saved")
	return nil
}

// HasAPIConfig reports whether a credential resolves. It never fails.
func (s *Service) HasAPIConfig() bool {
	return s.store.HasConfig()
}

// =============================================================================
// MODELS
// =============================================================================

// AvailableModels lists the models the configured key can use.
func (s *Service) AvailableModels(ctx context.Context) ([]cloud.ModelInfo, error) {
	client, err := s.cloudClient()
	if err != nil {
		return nil, err
	}
	return client.ListModels(ctx)
}

// CurrentModel returns the preferred model, or the default when none is
// saved or the file cannot be read.
func (s *Service) CurrentModel() string {
	return s.store.PreferredModel()
}

// SetPreferredModel stores model, keeping the credential.
func (s *Service) SetPreferredModel(model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return ErrEmptyModel
	}
	if err := s.store.SetPreferredModel(model); err != nil {
		return err
	}
	s.log.WithField("model", model).Info("preferred model saved")
	return nil
}

// =============================================================================
// CHAT
// =============================================================================

// StreamChat sends history plus message to the current model. The channel
// follows cloud.Client.Stream: content, at most one error, then exactly one
// completion. history is not modified. opts tune the request (temperature,
// max tokens).
func (s *Service) StreamChat(ctx context.Context, history []cloud.ChatMessage, message string, opts ...cloud.ChatOption) (<-chan cloud.StreamMessage, error) {
	return s.StreamChatModel(ctx, "", history, message, opts...)
}

// StreamChatModel is StreamChat against an explicit model. An empty model
// means CurrentModel.
func (s *Service) StreamChatModel(ctx context.Context, model string, history []cloud.ChatMessage, message string, opts ...cloud.ChatOption) (<-chan cloud.StreamMessage, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	client, err := s.cloudClient()
	if err != nil {
		return nil, err
	}

	messages := make([]cloud.ChatMessage, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, cloud.NewUserMessage(message))

	if model = strings.TrimSpace(model); model == "" {
		model = s.CurrentModel()
	}
	s.log.WithFields(logrus.Fields{
		"model":    model,
		"messages": len(messages),
	}).Debug("starting chat stream")

	return client.Stream(ctx, model, messages, opts...), nil
}

// LogFrontend records a message from the user-facing layer.
func (s *Service) LogFrontend(msg string) {
	s.log.WithField("source", "frontend").Info(msg)
}

// =============================================================================
// HELPERS
// =============================================================================

// cloudClient returns a client for the current key. The client is reused
// while the key stays the same so its rate limiter spans calls.
func (s *Service) cloudClient() (*cloud.Client, error) {
	key, ok, err := s.store.APIKey()
	if err != nil {
		s.log.WithError(err).Warn("config could not be loaded")
		return nil, fmt.Errorf("%w: %w", ErrNoAPIKey, err)
	}
	if !ok {
		return nil, ErrNoAPIKey
	}
	s.protect(key)

	fp := security.Fingerprint(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil && s.clientKeyFP == fp {
		return s.client, nil
	}

	api := s.settings.API
	s.client = cloud.NewClient(key,
		cloud.WithBaseURL(api.BaseURL),
		cloud.WithTimeout(api.Timeout()),
		cloud.WithMaxRetries(api.MaxRetries),
		cloud.WithRateLimit(api.RequestsPerSecond),
		cloud.WithLogger(s.log),
	)
	s.clientKeyFP = fp

	s.log.WithFields(logrus.Fields{
		"base_url": s.client.BaseURL(),
		"key":      s.client.APIKeyMasked(),
	}).Debug("cloud client created")
	return s.client, nil
}

func (s *Service) protect(secret string) {
	if s.redact != nil {
		s.redact.AddSecret(secret)
	}
}
