package llmrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProviderCompleteSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user", body.Messages[0].Role)

		json.NewEncoder(w).Encode(chatCompletionResponse{
			Choices: []struct {
				Message      chatMessage `json:"message"`
				FinishReason string      `json:"finish_reason"`
			}{
				{Message: chatMessage{Content: "hi there"}, FinishReason: "stop"},
			},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{Name: "openai", BaseURL: server.URL, APIKey: "test-key"})
	resp, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hello"}}})

	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestOpenAIProviderRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL, APIKey: "k"})
	_, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})

	require.Error(t, err)
	assert.True(t, isRetryable(err))
}

func TestOpenAIProviderToolCallParsed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{
					"message": map[string]interface{}{
						"content": "",
						"tool_calls": []map[string]interface{}{
							{
								"id": "call-1",
								"function": map[string]interface{}{
									"name":      "task_create",
									"arguments": `{"title":"Test"}`,
								},
							},
						},
					},
					"finish_reason": "tool_calls",
				},
			},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL, APIKey: "k"})
	resp, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "create task"}}})

	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "task_create", resp.ToolCalls[0].Name)
	assert.Equal(t, "Test", resp.ToolCalls[0].Args["title"])
}

func TestOpenAIProviderServerErrorIsExternalAPI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad request"))
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL, APIKey: "k"})
	_, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
}
