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
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/mcp-switchboard/switchboard/internal/logging"
)

const testKey = "tok_abc123def456"

func fastRetries(t *testing.T) {
	t.Helper()
	base, max := retryBaseDelay, retryMaxDelay
	retryBaseDelay, retryMaxDelay = time.Millisecond, 5*time.Millisecond
	t.Cleanup(func() { retryBaseDelay, retryMaxDelay = base, max })
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(testKey, append([]Option{WithBaseURL(server.URL + "/")}, opts...)...)
}

func writeSSE(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, l := range lines {
		fmt.Fprintf(w, "%s\n\n", l)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func contentChunk(s string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"delta": map[string]string{"content": s}}},
	})
	return "data: " + string(b)
}

func collect(ch <-chan StreamMessage) []StreamMessage {
	var out []StreamMessage
	for msg := range ch {
		out = append(out, msg)
	}
	return out
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestClient_NotConfigured(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { hits.Add(1) })
	client.apiKey = ""

	_, err := client.ListModels(context.Background())
	require.ErrorIs(t, err, ErrNotConfigured)

	err = client.ChatStream(context.Background(), "m", nil, func(StreamChunk) {})
	require.ErrorIs(t, err, ErrNotConfigured)
	require.Zero(t, hits.Load(), "no request may be sent without a key")
}

func TestClient_KeyNeverExposed(t *testing.T) {
	client := NewClient("  " + testKey + "\n")
	require.True(t, client.IsConfigured())
	require.Len(t, client.KeyFingerprint(), 12)
	require.NotContains(t, client.APIKeyMasked(), "tok_")
	require.Contains(t, client.APIKeyMasked(), client.KeyFingerprint())

	require.Equal(t, "none", NewClient("").KeyFingerprint())
	require.Equal(t, "[not set]", NewClient("").APIKeyMasked())
}

func TestClient_RequestHeaders(t *testing.T) {
	headers := make(chan http.Header, 1)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		w.Write([]byte(`[]`))
	})

	_, err := client.ListModels(context.Background())
	require.NoError(t, err)

	got := <-headers
	require.Equal(t, "Bearer "+testKey, got.Get("Authorization"))
	require.Equal(t, userAgent, got.Get("User-Agent"))
	_, err = uuid.Parse(got.Get(RequestIDHeader))
	require.NoError(t, err, "request ID must be a UUID")
}

func TestClient_LogsNeverContainKey(t *testing.T) {
	fastRetries(t)
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Invalid API key provided"}}`))
	}, WithLogger(log))

	_, err := client.ListModels(context.Background())
	require.Error(t, err)
	require.NotEmpty(t, buf.String())
	require.NotContains(t, buf.String(), testKey)
	require.Contains(t, buf.String(), "request_id")
}

// =============================================================================
// MODELS
// =============================================================================

func TestClient_ListModels_BareArray(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/models", r.URL.Path)
		w.Write([]byte(`[
			{"id": "meta-llama/Llama-3-8b", "display_name": "Llama 3 8B", "organization": "Meta", "type": "chat", "context_length": 8192},
			{"id": "mistralai/Mixtral"},
			{"display_name": "no id, skipped"}
		]`))
	})

	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)

	require.Equal(t, ModelInfo{
		ID: "meta-llama/Llama-3-8b", DisplayName: "Llama 3 8B", Organization: "Meta", Type: "chat", ContextLength: 8192,
	}, models[0])

	require.Equal(t, "mistralai/Mixtral", models[1].DisplayName, "display name falls back to id")
	require.Equal(t, "Unknown", models[1].Organization)
}

func TestClient_ListModels_Envelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"object": "list", "data": [{"id": "m1"}, {"id": "m2"}]}`))
	})

	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	require.Equal(t, "m2", models[1].ID)
}

func TestClient_ListModels_Malformed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unexpected": true}`))
	})

	_, err := client.ListModels(context.Background())
	require.Error(t, err)
}

// =============================================================================
// ERRORS AND RETRIES
// =============================================================================

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuthFailed},
		{http.StatusPaymentRequired, ErrInsufficientCredits},
		{http.StatusNotFound, ErrModelNotFound},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var hits atomic.Int32
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error","code":"bad"}}`))
			})

			_, err := client.ListModels(context.Background())
			require.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			require.Equal(t, tt.status, apiErr.Status)
			require.Equal(t, "bad", apiErr.Code)
			require.Equal(t, "nope", apiErr.Message)
			require.NotEmpty(t, apiErr.RequestID)
			require.Equal(t, int32(1), hits.Load(), "4xx errors are not retried")
		})
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	fastRetries(t)
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down"))
			return
		}
		w.Write([]byte(`[{"id":"m1"}]`))
	})

	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, int32(3), hits.Load())
}

func TestClient_RetriesExhausted(t *testing.T) {
	fastRetries(t)
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}, WithMaxRetries(2))

	_, err := client.ListModels(context.Background())
	require.ErrorIs(t, err, ErrRateLimited)
	require.Contains(t, err.Error(), "max retries exceeded")
	require.Equal(t, int32(3), hits.Load(), "one attempt plus two retries")
}

func TestClient_UnparseableErrorBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(strings.Repeat("x", 500)))
	})

	_, err := client.ListModels(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
	require.LessOrEqual(t, len([]rune(apiErr.Message)), 200)
	require.False(t, apiErr.Retryable())
}

func TestClient_ContextStopsRetries(t *testing.T) {
	base := retryBaseDelay
	retryBaseDelay = time.Second
	t.Cleanup(func() { retryBaseDelay = base })

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.ListModels(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}

func TestClient_CalculateBackoff(t *testing.T) {
	c := NewClient(testKey)
	require.Equal(t, retryBaseDelay, c.calculateBackoff(1, nil))
	require.Equal(t, 2*retryBaseDelay, c.calculateBackoff(2, nil))
	require.Equal(t, retryMaxDelay, c.calculateBackoff(20, nil))

	withHint := &APIError{Status: 429, RetryAfter: 3 * time.Second}
	require.Equal(t, 3*time.Second, c.calculateBackoff(1, withHint))
	withHint.RetryAfter = time.Hour
	require.Equal(t, retryMaxDelay, c.calculateBackoff(1, withHint))
}

func TestClient_RateLimit(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`[]`))
	}, WithRateLimit(20))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.ListModels(context.Background())
		require.NoError(t, err)
	}
	// Burst of one, then 50ms per request.
	require.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	require.Equal(t, int32(3), hits.Load())
}

// =============================================================================
// STREAMING
// =============================================================================

func TestClient_ChatStream(t *testing.T) {
	requests := make(chan *http.Request, 1)
	bodies := make(chan ChatRequest, 1)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		requests <- r.Clone(context.Background())
		bodies <- req
		writeSSE(w,
			": keep-alive comment",
			contentChunk("Hel"),
			"data: {not json",
			contentChunk("lo"),
			`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			"data: [DONE]",
			contentChunk("after done is ignored"),
		)
	})

	var got strings.Builder
	err := client.ChatStream(context.Background(), "model-x",
		[]ChatMessage{NewSystemMessage("be brief"), NewUserMessage("hi")},
		func(chunk StreamChunk) { got.WriteString(chunk.GetContent()) })

	require.NoError(t, err)
	require.Equal(t, "Hello", got.String())

	r := <-requests
	require.Equal(t, "/chat/completions", r.URL.Path)
	require.Equal(t, "text/event-stream", r.Header.Get("Accept"))

	req := <-bodies
	require.True(t, req.Stream)
	require.Equal(t, "model-x", req.Model)
	require.Len(t, req.Messages, 2)
	require.Equal(t, "system", req.Messages[0].Role)
	require.Nil(t, req.Temperature)
	require.Zero(t, req.MaxTokens)
}

func TestClient_ChatStreamOptions(t *testing.T) {
	bodies := make(chan map[string]any, 3)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		json.NewDecoder(r.Body).Decode(&raw)
		bodies <- raw
		writeSSE(w, "data: [DONE]")
	})
	noop := func(StreamChunk) {}

	require.NoError(t, client.ChatStream(context.Background(), "m", nil, noop,
		WithTemperature(0.7), WithMaxTokens(256)))
	raw := <-bodies
	require.Equal(t, 0.7, raw["temperature"])
	require.Equal(t, float64(256), raw["max_tokens"])

	require.NoError(t, client.ChatStream(context.Background(), "m", nil, noop, WithTemperature(0)))
	raw = <-bodies
	require.Contains(t, raw, "temperature", "an explicit zero is sent")
	require.Equal(t, float64(0), raw["temperature"])

	require.NoError(t, client.ChatStream(context.Background(), "m", nil, noop, WithMaxTokens(-1)))
	raw = <-bodies
	require.NotContains(t, raw, "temperature")
	require.NotContains(t, raw, "max_tokens")
}

func TestClient_ChatStreamRequiresModel(t *testing.T) {
	client := NewClient(testKey)
	err := client.ChatStream(context.Background(), " ", nil, func(StreamChunk) {})
	require.ErrorIs(t, err, ErrModelRequired)
}

func TestClient_ChatStreamMidStreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			contentChunk("partial"),
			`data: {"error":{"message":"model overloaded","type":"server_error"}}`,
		)
	})

	var got strings.Builder
	err := client.ChatStream(context.Background(), "m", nil, func(chunk StreamChunk) {
		got.WriteString(chunk.GetContent())
	})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "model overloaded", apiErr.Message)
	require.Equal(t, "partial", got.String())
}

func TestClient_ChatStreamLineTooLong(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, "data: "+strings.Repeat("a", MaxChunkSize+1))
	})

	err := client.ChatStream(context.Background(), "m", nil, func(StreamChunk) {})
	require.ErrorIs(t, err, bufio.ErrTooLong)
}

func TestClient_StreamChannel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, contentChunk("a"), contentChunk(""), contentChunk("b"), "data: [DONE]")
	})

	msgs := collect(client.Stream(context.Background(), "m", []ChatMessage{NewUserMessage("hi")}))
	require.Equal(t, []StreamMessage{
		{Kind: StreamContent, Content: "a"},
		{Kind: StreamContent, Content: "b"},
		{Kind: StreamComplete},
	}, msgs, "empty deltas are dropped")
}

func TestClient_StreamChannelFinishReason(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			contentChunk("cut"),
			`data: {"choices":[{"delta":{},"finish_reason":"length"}]}`,
			`data: {"choices":[{"delta":{},"finish_reason":null}]}`,
			"data: [DONE]",
		)
	})

	msgs := collect(client.Stream(context.Background(), "m", nil, WithMaxTokens(1)))
	require.Equal(t, []StreamMessage{
		{Kind: StreamContent, Content: "cut"},
		{Kind: StreamComplete, FinishReason: "length"},
	}, msgs)

	acc := NewStreamAccumulator()
	for _, msg := range msgs {
		acc.Add(msg)
	}
	require.Equal(t, "length", acc.GetStats().FinishReason)
}

func TestClient_StreamChannelError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	msgs := collect(client.Stream(context.Background(), "m", nil))
	require.Len(t, msgs, 2)
	require.Equal(t, StreamError, msgs[0].Kind)
	require.ErrorIs(t, msgs[0].Err, ErrAuthFailed)
	require.Equal(t, StreamComplete, msgs[1].Kind)
}

func TestClient_StreamChannelCancel(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, contentChunk("first"))
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch := client.Stream(ctx, "m", nil)

	first := <-ch
	require.Equal(t, StreamContent, first.Kind)
	cancel()

	rest := collect(ch)
	require.NotEmpty(t, rest)
	require.Equal(t, StreamComplete, rest[len(rest)-1].Kind)

	errorCount, completeCount := 0, 0
	for _, m := range rest {
		switch m.Kind {
		case StreamError:
			errorCount++
			require.ErrorIs(t, m.Err, context.Canceled)
		case StreamComplete:
			completeCount++
		}
	}
	require.LessOrEqual(t, errorCount, 1)
	require.Equal(t, 1, completeCount)
}

func TestClient_ConcurrentStreams(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		writeSSE(w, contentChunk(req.Model), "data: [DONE]")
	}, WithLogger(logging.Discard()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			model := fmt.Sprintf("model-%d", i)
			acc := NewStreamAccumulator()
			for msg := range client.Stream(context.Background(), model, nil) {
				acc.Add(msg)
			}
			if acc.GetContent() != model || acc.Err != nil {
				t.Errorf("stream %d: got %q, err %v", i, acc.GetContent(), acc.Err)
			}
		}(i)
	}
	wg.Wait()
}

// =============================================================================
// SSE READER
// =============================================================================

func TestSSEReader(t *testing.T) {
	input := "event: message\ndata: one\ndata:two\n\nid: 7\r\ndata: three\r\n\n: comment\ndata: tail"
	r := NewSSEReader(strings.NewReader(input))

	typ, data, err := r.ReadEvent()
	require.NoError(t, err)
	require.Equal(t, "message", typ)
	require.Equal(t, "one\ntwo", string(data))

	_, data, err = r.ReadEvent()
	require.NoError(t, err)
	require.Equal(t, "three", string(data))

	_, data, err = r.ReadEvent()
	require.NoError(t, err)
	require.Equal(t, "tail", string(data))

	_, _, err = r.ReadEvent()
	require.ErrorIs(t, err, io.EOF)
}

func TestStreamAccumulator(t *testing.T) {
	acc := NewStreamAccumulator()
	acc.Add(StreamMessage{Kind: StreamContent, Content: "foo"})
	acc.Add(StreamMessage{Kind: StreamContent, Content: "bar"})
	acc.Add(StreamMessage{Kind: StreamError, Err: ErrRateLimited})
	acc.Add(StreamMessage{Kind: StreamComplete})

	require.Equal(t, "foobar", acc.GetContent())
	require.ErrorIs(t, acc.Err, ErrRateLimited)

	stats := acc.GetStats()
	require.Equal(t, 2, stats.TokenCount)
	require.GreaterOrEqual(t, stats.TotalTime, stats.FirstTokenTime)
}

func TestStreamKind_String(t *testing.T) {
	require.Equal(t, "content", StreamContent.String())
	require.Equal(t, "error", StreamError.String())
	require.Equal(t, "complete", StreamComplete.String())
}
