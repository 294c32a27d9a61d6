// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the Together.ai client used for model listing and
// streaming chat.
//
// Together exposes an OpenAI-compatible API. This package implements the
// two endpoints switchboard needs, with retry logic, client-side rate
// limiting and secure logging.
//
// # Key Types
//
//   - Client: HTTP client with retry, rate limiting and request IDs
//   - ChatMessage: Chat message in the OpenAI wire format
//   - StreamMessage: Content, Error or Complete item of a channel stream
//   - APIError: Non-2xx response, matching ErrAuthFailed and friends
//
// # Usage
//
//	client := cloud.NewClient(apiKey, cloud.WithLogger(log))
//	for msg := range client.Stream(ctx, model, []cloud.ChatMessage{
//	    cloud.NewUserMessage("Hello"),
//	}) {
//	    switch msg.Kind {
//	    case cloud.StreamContent:
//	        fmt.Print(msg.Content)
//	    case cloud.StreamError:
//	        return msg.Err
//	    }
//	}
//
// # Security
//
// API keys are never logged. Log entries carry a SHA-256 fingerprint of the
// key and the X-Request-ID sent with each request.
package cloud
