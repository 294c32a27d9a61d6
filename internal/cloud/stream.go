// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// STREAMING: Robust SSE parsing with error handling

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxChunkSize is the maximum allowed size for a single SSE line (64KB)
const MaxChunkSize = 64 * 1024

// ErrModelRequired is returned when a stream is requested without a model.
var ErrModelRequired = errors.New("model is required")

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk represents a single chunk from the streaming response.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	// Error is set when the server reports a failure mid-stream.
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// GetContent returns the content from the first choice's delta.
func (c *StreamChunk) GetContent() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// GetFinishReason returns the finish reason if streaming is complete.
func (c *StreamChunk) GetFinishReason() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason
	}
	return ""
}

// StreamCallback is the function type called for each received chunk.
type StreamCallback func(chunk StreamChunk)

// StreamKind tags a StreamMessage.
type StreamKind int

const (
	// StreamContent carries a non-empty text delta.
	StreamContent StreamKind = iota
	// StreamError carries the error that ended the stream.
	StreamError
	// StreamComplete is always the last message.
	StreamComplete
)

func (k StreamKind) String() string {
	switch k {
	case StreamContent:
		return "content"
	case StreamError:
		return "error"
	case StreamComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// StreamMessage is one item of a channel-based stream.
type StreamMessage struct {
	Kind    StreamKind
	Content string
	Err     error
	// FinishReason is set on StreamComplete ("stop", "length", ...).
	FinishReason string
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader creates a new SSE reader. Lines longer than MaxChunkSize
// fail with bufio.ErrTooLong.
func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), MaxChunkSize)
	return &SSEReader{scanner: scanner}
}

// ReadEvent reads the next SSE event from the stream.
// Returns the event type, data, and any error.
// Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for s.scanner.Scan() {
		line := bytes.TrimRight(s.scanner.Bytes(), "\r")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		// Parse field
		if bytes.HasPrefix(line, []byte("event:")) {
			eventType = string(bytes.TrimSpace(line[6:]))
		} else if bytes.HasPrefix(line, []byte("data:")) {
			data := bytes.TrimPrefix(line[5:], []byte(" "))
			dataLines = append(dataLines, append([]byte(nil), data...))
		}
		// Ignore other fields (id:, retry:, comments starting with :)
	}

	if err := s.scanner.Err(); err != nil {
		return "", nil, err
	}
	// If we have data, return it before EOF
	if len(dataLines) > 0 {
		return eventType, bytes.Join(dataLines, []byte("\n")), nil
	}
	return "", nil, io.EOF
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream performs a streaming chat completion request.
// The callback is called for each chunk received.
// Transient failures are retried only before the first byte of the stream.
func (c *Client) ChatStream(ctx context.Context, model string, messages []ChatMessage, callback StreamCallback, opts ...ChatOption) error {
	if strings.TrimSpace(model) == "" {
		return ErrModelRequired
	}

	req := ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	for _, opt := range opts {
		opt(&req)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/chat/completions", body, "text/event-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.log.WithField("model", model).Debug("stream opened")
	return c.processStream(ctx, resp.Body, callback)
}

// processStream reads and processes the SSE stream.
func (c *Client) processStream(ctx context.Context, body io.Reader, callback StreamCallback) error {
	reader := NewSSEReader(body)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream read failed: %w", err)
		}

		// Check for [DONE] signal
		if bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]")) {
			return nil
		}

		// Parse the chunk
		var chunk StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Skip malformed chunks
			c.log.WithError(err).Debug("skipping malformed stream chunk")
			continue
		}

		if chunk.Error != nil && chunk.Error.Message != "" {
			return &APIError{Status: http.StatusOK, Code: chunk.Error.Type, Message: chunk.Error.Message}
		}

		callback(chunk)
	}
}

// Stream runs ChatStream in the background and delivers its output on a
// channel: any number of StreamContent messages, at most one StreamError,
// then exactly one StreamComplete, after which the channel is closed.
// The StreamComplete message carries the last finish reason the server
// sent. Callers must read until the channel is closed.
func (c *Client) Stream(ctx context.Context, model string, messages []ChatMessage, opts ...ChatOption) <-chan StreamMessage {
	out := make(chan StreamMessage, 16)

	go func() {
		defer close(out)

		var finishReason string
		err := c.ChatStream(ctx, model, messages, func(chunk StreamChunk) {
			if reason := chunk.GetFinishReason(); reason != "" {
				finishReason = reason
			}
			content := chunk.GetContent()
			if content == "" {
				return
			}
			select {
			case out <- StreamMessage{Kind: StreamContent, Content: content}:
			case <-ctx.Done():
			}
		})

		if err != nil {
			out <- StreamMessage{Kind: StreamError, Err: err}
		}
		out <- StreamMessage{Kind: StreamComplete, FinishReason: finishReason}
	}()

	return out
}

// =============================================================================
// STREAM ACCUMULATOR
// =============================================================================

// StreamStats holds statistics collected during streaming.
type StreamStats struct {
	FirstTokenTime time.Duration
	TotalTime      time.Duration
	TokenCount     int
	FinishReason   string
}

// StreamAccumulator collects streamed content and timing.
type StreamAccumulator struct {
	Content      strings.Builder
	TokenCount   int
	StartTime    time.Time
	FirstTokenAt time.Time
	FinishReason string
	Err          error
}

// NewStreamAccumulator creates a new accumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{
		StartTime: time.Now(),
	}
}

// Add processes a stream message.
func (a *StreamAccumulator) Add(msg StreamMessage) {
	switch msg.Kind {
	case StreamContent:
		a.TokenCount++
		if a.FirstTokenAt.IsZero() {
			a.FirstTokenAt = time.Now()
		}
		a.Content.WriteString(msg.Content)
	case StreamError:
		a.Err = msg.Err
	case StreamComplete:
		a.FinishReason = msg.FinishReason
	}
}

// GetContent returns the accumulated content.
func (a *StreamAccumulator) GetContent() string {
	return a.Content.String()
}

// GetStats returns the collected statistics.
func (a *StreamAccumulator) GetStats() StreamStats {
	var ttft time.Duration
	if !a.FirstTokenAt.IsZero() {
		ttft = a.FirstTokenAt.Sub(a.StartTime)
	}

	return StreamStats{
		FirstTokenTime: ttft,
		TotalTime:      time.Since(a.StartTime),
		TokenCount:     a.TokenCount,
		FinishReason:   a.FinishReason,
	}
}
