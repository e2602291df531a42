package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickjot/quickjot/config"
	"github.com/quickjot/quickjot/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(config.LLMConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "test-model",
		Timeout: 2 * time.Second,
	}, nil)
}

func TestOpenAIClient_Chat(t *testing.T) {
	var gotAuth string
	var gotBody openAIRequest

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "hello"}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12},
		})
	})

	resp, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{SystemMessage("you classify"), UserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
	assert.Equal(t, "Bearer test-key", gotAuth)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "system", gotBody.Messages[0].Role)
}

func TestOpenAIClient_Chat_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "backend down", "type": "server_error"},
		})
	})

	_, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{UserMessage("hi")},
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrLLMUnavailable))
	assert.Contains(t, err.Error(), "backend down")
}

func TestOpenAIClient_Chat_BadRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "model not found"},
		})
	})

	_, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{UserMessage("hi")},
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestOpenAIClient_Chat_EmptyChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"model": "m", "choices": []any{}})
	})

	_, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{UserMessage("hi")},
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrLLMUnavailable))
}

func TestOpenAIClient_Chat_ConnectionRefused(t *testing.T) {
	client := NewOpenAIClient(config.LLMConfig{
		BaseURL: "http://127.0.0.1:1",
		Model:   "m",
		Timeout: time.Second,
	}, nil)

	_, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{UserMessage("hi")},
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrLLMUnavailable))
}
