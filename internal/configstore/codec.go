// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package configstore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mcp-switchboard/switchboard/internal/security"
)

// On disk: base64(nonce || ciphertext || tag). Strict decoding rejects
// non-zero padding bits so every single-bit change is caught.
var blobEncoding = base64.StdEncoding.Strict()

// payload is the plaintext JSON layout. APIKey is a pointer so a missing
// field can be told apart from an empty one.
type payload struct {
	APIKey         *string `json:"together_ai_api_key"`
	PreferredModel *string `json:"preferred_model"`
}

func encodeConfig(key []byte, cfg StoredConfig) ([]byte, error) {
	apiKey := cfg.APIKey
	plaintext, err := json.Marshal(payload{APIKey: &apiKey, PreferredModel: cfg.PreferredModel})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %w", ErrEncryption, err)
	}
	defer security.ZeroBytes(plaintext)

	sealed, err := security.Seal(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryption, err)
	}

	out := make([]byte, blobEncoding.EncodedLen(len(sealed)))
	blobEncoding.Encode(out, sealed)
	return out, nil
}

func decodeConfig(key, data []byte) (*StoredConfig, error) {
	sealed := make([]byte, blobEncoding.DecodedLen(len(data)))
	n, err := blobEncoding.Decode(sealed, data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 framing", ErrCorrupt)
	}
	sealed = sealed[:n]

	if len(sealed) < security.MinBlobSize {
		return nil, fmt.Errorf("%w: blob too short (%d bytes)", ErrCorrupt, len(sealed))
	}

	plaintext, err := security.Open(key, sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer security.ZeroBytes(plaintext)

	// json errors can quote plaintext bytes, so the cause is not wrapped.
	var p payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrCorrupt)
	}
	if p.APIKey == nil {
		return nil, fmt.Errorf("%w: payload has no together_ai_api_key field", ErrCorrupt)
	}

	return &StoredConfig{APIKey: *p.APIKey, PreferredModel: p.PreferredModel}, nil
}
