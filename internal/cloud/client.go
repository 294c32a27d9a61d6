// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/mcp-switchboard/switchboard/internal/logging"
	"github.com/mcp-switchboard/switchboard/internal/security"
	"github.com/mcp-switchboard/switchboard/internal/util"
)

// Configuration constants for the Together.ai API.
const (
	// DefaultBaseURL is the base URL for the Together.ai API.
	DefaultBaseURL = "https://api.together.xyz/v1"

	// DefaultTimeout bounds model listing and the wait for a stream's
	// response headers.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for transient errors.
	DefaultMaxRetries = 3

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	// RequestIDHeader carries the per-request correlation ID.
	RequestIDHeader = "X-Request-ID"

	userAgent = "switchboard/1.0"
)

// Backoff bounds. Variables so tests can shorten them.
var (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 10 * time.Second
)

// Error variables for common API errors.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("Together.ai API key not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrInsufficientCredits indicates the account has insufficient credits.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")
)

// APIError is a non-2xx response. For the statuses with a sentinel above,
// errors.Is matches the sentinel too.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string

	// RetryAfter is parsed from the Retry-After header, zero if absent.
	RetryAfter time.Duration

	kind error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	prefix := "Together.ai error"
	if e.kind != nil {
		prefix = e.kind.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s [%s] (HTTP %d): %s", prefix, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s (HTTP %d): %s", prefix, e.Status, e.Message)
}

// Unwrap exposes the matching sentinel, if any.
func (e *APIError) Unwrap() error {
	return e.kind
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || (e.Status >= 500 && e.Status < 600)
}

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`    // "user", "assistant", or "system"
	Content string `json:"content"` // The message content
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// ChatRequest represents a request to the chat completions endpoint.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatOption adjusts a chat completion request.
type ChatOption func(*ChatRequest)

// WithTemperature sets the sampling temperature. Zero is sent as given.
func WithTemperature(t float64) ChatOption {
	return func(r *ChatRequest) {
		r.Temperature = &t
	}
}

// WithMaxTokens caps the reply length. Zero or less leaves the server default.
func WithMaxTokens(n int) ChatOption {
	return func(r *ChatRequest) {
		if n > 0 {
			r.MaxTokens = n
		}
	}
}

// ModelInfo describes an available model.
type ModelInfo struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	Organization  string `json:"organization"`
	Type          string `json:"type,omitempty"`
	ContextLength int    `json:"context_length,omitempty"`
}

// apiErrorResponse represents an error response from the API.
type apiErrorResponse struct {
	Error struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the Together.ai OpenAI-compatible API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	timeout    time.Duration
	limiter    *rate.Limiter
	log        logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(maxRetries int) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables the limit.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithHTTPClient replaces the HTTP client (tests, proxies).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client. An empty key still yields a client, but every
// request fails with ErrNotConfigured.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    DefaultBaseURL,
		maxRetries: DefaultMaxRetries,
		timeout:    DefaultTimeout,
		limiter:    rate.NewLimiter(rate.Inf, 0),
		log:        logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		// No client-level timeout: streams run as long as the context allows.
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: c.timeout,
				TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
			},
		}
	}
	return c
}

// IsConfigured returns true if the client has an API key configured.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// KeyFingerprint identifies the API key in logs without exposing it.
func (c *Client) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	return security.Fingerprint(c.apiKey)
}

// APIKeyMasked returns a display form of the key that reveals no characters.
func (c *Client) APIKeyMasked() string {
	if c.apiKey == "" {
		return "[not set]"
	}
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(c.apiKey), c.KeyFingerprint())
}

// =============================================================================
// REQUESTS
// =============================================================================

// do sends a request, retrying 429 and 5xx responses and transport errors
// with capped exponential backoff. Only a 200 response is returned; the
// caller closes its body.
func (c *Client) do(ctx context.Context, method, path string, body []byte, accept string) (*http.Response, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	url := c.baseURL + path
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		requestID := uuid.New().String()
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", accept)
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set(RequestIDHeader, requestID)

		entry := c.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     method,
			"path":       path,
			"attempt":    attempt + 1,
			"key":        c.KeyFingerprint(),
		})

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			entry.WithError(err).Warn("API request failed")
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		entry = entry.WithFields(logrus.Fields{
			"status":   resp.StatusCode,
			"duration": time.Since(start).Round(time.Millisecond).String(),
		})

		if resp.StatusCode == http.StatusOK {
			entry.Debug("API response")
			return resp, nil
		}

		respBody, _ := readResponse(resp)
		resp.Body.Close()
		apiErr := c.handleErrorResponse(resp, respBody, requestID)
		entry.WithError(apiErr).Warn("API error response")

		if !apiErr.Retryable() {
			return nil, apiErr
		}
		lastErr = apiErr
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// readResponse reads the response body with size limits to prevent memory exhaustion.
//
// SECURITY: Response size limit prevents memory exhaustion attacks.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts a non-200 response to an *APIError.
func (c *Client) handleErrorResponse(resp *http.Response, body []byte, requestID string) *APIError {
	apiErr := &APIError{
		Status:    resp.StatusCode,
		RequestID: requestID,
	}

	var parsed apiErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Message = parsed.Error.Message
		apiErr.Code = parseErrorCode(parsed.Error.Code)
		if apiErr.Code == "" {
			apiErr.Code = parsed.Error.Type
		}
	} else {
		apiErr.Message = util.TruncateRunes(strings.TrimSpace(string(body)), 200)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		apiErr.kind = ErrAuthFailed
	case http.StatusPaymentRequired:
		apiErr.kind = ErrInsufficientCredits
	case http.StatusNotFound:
		apiErr.kind = ErrModelNotFound
	case http.StatusTooManyRequests:
		apiErr.kind = ErrRateLimited
	}

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			apiErr.RetryAfter = time.Duration(seconds) * time.Second
		} else if t, err := http.ParseTime(retryAfter); err == nil {
			apiErr.RetryAfter = time.Until(t)
		}
	}

	return apiErr
}

func parseErrorCode(raw json.RawMessage) string {
	code := strings.TrimSpace(string(raw))
	if code == "" || code == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return code
}

// calculateBackoff returns the delay to wait before the next retry,
// honoring Retry-After when the server sent one.
func (c *Client) calculateBackoff(attempt int, lastErr error) time.Duration {
	var apiErr *APIError
	if errors.As(lastErr, &apiErr) && apiErr.RetryAfter > 0 {
		return min(apiErr.RetryAfter, retryMaxDelay)
	}

	// Exponential backoff: 500ms, 1000ms, 2000ms, etc.
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

// =============================================================================
// MODELS
// =============================================================================

// ListModels retrieves the models available to this key. Together returns a
// bare JSON array; the OpenAI {"data": [...]} envelope is accepted as well.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/models", nil, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	models, err := parseModels(body)
	if err != nil {
		return nil, err
	}
	c.log.WithField("count", len(models)).Info("fetched models")
	return models, nil
}

type rawModel struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	Organization  string `json:"organization"`
	Type          string `json:"type"`
	ContextLength int    `json:"context_length"`
}

func parseModels(body []byte) ([]ModelInfo, error) {
	var list []rawModel
	if err := json.Unmarshal(body, &list); err != nil {
		var envelope struct {
			Data []rawModel `json:"data"`
		}
		if err2 := json.Unmarshal(body, &envelope); err2 != nil || envelope.Data == nil {
			return nil, fmt.Errorf("failed to parse models response: %w", err)
		}
		list = envelope.Data
	}

	models := make([]ModelInfo, 0, len(list))
	for _, m := range list {
		if m.ID == "" {
			continue
		}
		info := ModelInfo{
			ID:            m.ID,
			DisplayName:   m.DisplayName,
			Organization:  m.Organization,
			Type:          m.Type,
			ContextLength: m.ContextLength,
		}
		if info.DisplayName == "" {
			info.DisplayName = m.ID
		}
		if info.Organization == "" {
			info.Organization = "Unknown"
		}
		models = append(models, info)
	}
	return models, nil
}
