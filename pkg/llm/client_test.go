package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messagesJSON(text string) map[string]any {
	return map[string]any{
		"id":          "msg_test",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-sonnet-4-5-20250929",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": 12, "output_tokens": 7},
	}
}

func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    "authentication_error",
			"message": "invalid x-api-key",
		},
	})
}

func chatReq() ChatRequest {
	return ChatRequest{
		Model:  "claude-sonnet-4-5-20250929",
		System: "be brief",
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("hello")),
		},
	}
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "sk-good", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messagesJSON("hi there"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-good", nil)
	resp, err := c.Chat(context.Background(), chatReq())
	require.NoError(t, err)

	assert.Equal(t, "end_turn", resp.StopReason)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "hi there", resp.Content[0].Text)
	assert.Equal(t, int64(12), resp.InputTokens)
	assert.Equal(t, int64(7), resp.OutputTokens)
}

func TestChatRefreshesKeyOn401(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("x-api-key") != "sk-fresh" {
			writeAuthError(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messagesJSON("ok"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-stale", StaticCredentialProvider("sk-fresh"))
	resp, err := c.Chat(context.Background(), chatReq())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content[0].Text)
	assert.Equal(t, int32(2), calls.Load())

	// The refreshed key is cached for the next call.
	_, err = c.Chat(context.Background(), chatReq())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestChatSecond401IsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAuthError(w)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-stale", StaticCredentialProvider("sk-also-bad"))
	_, err := c.Chat(context.Background(), chatReq())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed after key refresh")
}

func TestChatNoProviderNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAuthError(w)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-bad", nil)
	_, err := c.Chat(context.Background(), chatReq())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatEmptyKeyFetchesFromProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "sk-provided", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messagesJSON("ok"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", StaticCredentialProvider("sk-provided"))
	_, err := c.Chat(context.Background(), chatReq())
	require.NoError(t, err)
}

func TestStaticCredentialProvider(t *testing.T) {
	_, err := StaticCredentialProvider("").Provide(context.Background())
	assert.Error(t, err)

	key, err := StaticCredentialProvider("sk-x").Provide(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-x", key)
}
