// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package configstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mcp-switchboard/switchboard/internal/logging"
	"github.com/mcp-switchboard/switchboard/internal/security"
	"github.com/mcp-switchboard/switchboard/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// AppDirName is the directory under the user config dir.
	AppDirName = "mcp-switchboard"
	// FileName is the encrypted config file inside the app dir.
	FileName = "config.json"

	// EnvAPIKey overrides the stored credential. It is never written to disk.
	EnvAPIKey = "TOGETHERAI_API_KEY"
	// EnvConfigDir relocates the app dir (tests, portable installs).
	EnvConfigDir = "SWITCHBOARD_CONFIG_DIR"

	// DefaultModel is used when no preference has been saved.
	DefaultModel = "meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo"

	filePerm os.FileMode = 0600
	dirPerm  os.FileMode = 0700
)

// =============================================================================
// TYPES
// =============================================================================

// StoredConfig is the decrypted contents of the config file.
type StoredConfig struct {
	APIKey         string
	PreferredModel *string
}

// DefaultStoredConfig returns an empty credential with the default model.
func DefaultStoredConfig() StoredConfig {
	model := DefaultModel
	return StoredConfig{PreferredModel: &model}
}

// Model returns the preferred model, or DefaultModel when none is set.
func (c StoredConfig) Model() string {
	if c.PreferredModel != nil && *c.PreferredModel != "" {
		return *c.PreferredModel
	}
	return DefaultModel
}

// String never includes the credential.
func (c StoredConfig) String() string {
	model := "<nil>"
	if c.PreferredModel != nil {
		model = *c.PreferredModel
	}
	return fmt.Sprintf("StoredConfig{api_key: %s, preferred_model: %s}", redact(c.APIKey), model)
}

// GoString keeps %#v from printing the credential.
func (c StoredConfig) GoString() string {
	return c.String()
}

func redact(secret string) string {
	if secret == "" {
		return "<empty>"
	}
	return "<redacted:" + security.Fingerprint(secret) + ">"
}

// Source tells where the active credential comes from.
type Source string

const (
	SourceNone Source = "none"
	SourceEnv  Source = "env"
	SourceFile Source = "file"
)

// =============================================================================
// STORE
// =============================================================================

// Store reads and writes the encrypted config file.
//
// Writes are serialized by an in-process mutex. Nothing coordinates
// separate processes: concurrent writers each rename a complete file into
// place and the last rename wins.
type Store struct {
	dir  string
	path string

	identity func() security.Identity
	keyOnce  sync.Once
	key      []byte

	mu  sync.Mutex
	log logrus.FieldLogger
}

// Option configures a Store.
type Option func(*Store)

// WithIdentity binds the store to a fixed user/host pair instead of the
// current machine's.
func WithIdentity(id security.Identity) Option {
	return func(s *Store) {
		s.identity = func() security.Identity { return id }
	}
}

// WithLogger sets the logger. Credentials are never passed to it.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// DefaultDir returns $SWITCHBOARD_CONFIG_DIR if set, else
// <user config dir>/mcp-switchboard.
func DefaultDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(EnvConfigDir)); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine config directory: %w", err)
	}
	return filepath.Join(base, AppDirName), nil
}

// New returns a store rooted at dir. Nothing touches the filesystem until
// the first operation.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:      dir,
		path:     filepath.Join(dir, FileName),
		identity: security.CurrentIdentity,
		log:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open returns a store rooted at DefaultDir.
func Open(opts ...Option) (*Store, error) {
	dir, err := DefaultDir()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return New(dir, opts...), nil
}

// Path returns the config file path.
func (s *Store) Path() string { return s.path }

// Dir returns the app directory.
func (s *Store) Dir() string { return s.dir }

// machineKey derives the key on first use and caches it for the store's
// lifetime.
func (s *Store) machineKey() []byte {
	s.keyOnce.Do(func() {
		s.key = security.DeriveMachineKey(s.identity())
	})
	return s.key
}

// envAPIKey returns the override as set. Any non-empty value counts,
// whitespace included.
func envAPIKey() string {
	return os.Getenv(EnvAPIKey)
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// Load returns the active config. A non-empty TOGETHERAI_API_KEY wins and
// the file is not read. Otherwise the file is read and decrypted.
func (s *Store) Load() (*StoredConfig, error) {
	if key := envAPIKey(); key != "" {
		s.log.Debug("using API key from environment")
		return &StoredConfig{APIKey: key}, nil
	}
	return s.loadFile()
}

// loadFile reads the disk copy only, ignoring the env override.
func (s *Store) loadFile() (*StoredConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, s.path, err)
	}

	cfg, err := decodeConfig(s.machineKey(), data)
	if err != nil {
		s.log.WithField("path", s.path).WithError(err).Warn("config file could not be decoded")
		return nil, err
	}
	return cfg, nil
}

// HasConfig reports whether a usable credential exists. It never fails:
// any error counts as not configured.
func (s *Store) HasConfig() bool {
	return s.Source() != SourceNone
}

// Source reports where the active credential comes from.
func (s *Store) Source() Source {
	if envAPIKey() != "" {
		return SourceEnv
	}
	cfg, err := s.loadFile()
	if err != nil || cfg.APIKey == "" {
		return SourceNone
	}
	return SourceFile
}

// FileState describes the config file on disk, ignoring the env override.
type FileState string

const (
	FileMissing    FileState = "missing"
	FileValid      FileState = "valid"
	FileCorrupt    FileState = "corrupt"
	FileUnreadable FileState = "unreadable"
)

// FileState reads and decrypts the file and reports the outcome.
func (s *Store) FileState() FileState {
	_, err := s.loadFile()
	switch {
	case err == nil:
		return FileValid
	case errors.Is(err, ErrNotFound):
		return FileMissing
	case errors.Is(err, ErrCorrupt):
		return FileCorrupt
	default:
		return FileUnreadable
	}
}

// APIKey returns the active credential. A missing config is not an error.
func (s *Store) APIKey() (string, bool, error) {
	cfg, err := s.Load()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if cfg.APIKey == "" {
		return "", false, nil
	}
	return cfg.APIKey, true, nil
}

// PreferredModel returns the saved model preference, falling back to
// DefaultModel on any error.
func (s *Store) PreferredModel() string {
	cfg, err := s.loadFile()
	if err != nil {
		return DefaultModel
	}
	return cfg.Model()
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// Save encrypts cfg with a fresh nonce and atomically replaces the file.
func (s *Store) Save(cfg StoredConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(cfg)
}

func (s *Store) saveLocked(cfg StoredConfig) error {
	blob, err := encodeConfig(s.machineKey(), cfg)
	if err != nil {
		return err
	}

	if err := util.AtomicWriteFile(s.path, blob, filePerm, dirPerm); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrIO, s.path, err)
	}

	s.log.WithField("path", s.path).Info("config saved")
	s.warnInsecure(s.dir, dirPerm)
	s.warnInsecure(s.path, filePerm)
	return nil
}

// warnInsecure logs when path is reachable by other users. A directory that
// already existed keeps its mode, and Windows ignores the requested one.
func (s *Store) warnInsecure(path string, want fs.FileMode) {
	if err := security.CheckOwnerOnly(path, want); err != nil {
		s.log.WithError(err).WithField("path", path).Warn("config is readable by other users")
	}
}

// Update loads the disk copy (or the default config when there is none),
// applies fn and saves the result, all under the write lock. The env
// override is never written back.
func (s *Store) Update(fn func(*StoredConfig)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadFile()
	if errors.Is(err, ErrNotFound) {
		def := DefaultStoredConfig()
		cfg, err = &def, nil
	}
	if err != nil {
		return err
	}

	fn(cfg)
	return s.saveLocked(*cfg)
}

// SetAPIKey stores key and keeps the existing model preference. A corrupt
// file is replaced by a fresh default config, which is how a user recovers
// from one.
func (s *Store) SetAPIKey(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadFile()
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		def := DefaultStoredConfig()
		cfg = &def
	case errors.Is(err, ErrCorrupt):
		s.log.WithField("path", s.path).Warn("replacing corrupt config file")
		def := DefaultStoredConfig()
		cfg = &def
	default:
		return err
	}

	cfg.APIKey = key
	return s.saveLocked(*cfg)
}

// SetPreferredModel stores model and keeps the existing credential.
func (s *Store) SetPreferredModel(model string) error {
	return s.Update(func(cfg *StoredConfig) {
		cfg.PreferredModel = &model
	})
}

// Clear removes the config file. A missing file is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %w", ErrIO, s.path, err)
	}
	s.log.WithField("path", s.path).Info("config removed")
	return nil
}
