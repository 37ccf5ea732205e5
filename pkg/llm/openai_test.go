package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionResponse(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return string(body)
}

func TestGenerateStructuredDecodesFirstAttempt(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[0].Content, "EXPECTED SCHEMA")

		w.Write([]byte(completionResponse(`{"name": "todo-api"}`)))
	}))
	defer server.Close()

	client := NewHTTPClient(Config{BaseURL: server.URL + "/v1", APIKey: "test-key", Model: "test-model"}, nil)

	var out struct {
		Name string `json:"name"`
	}
	err := client.GenerateStructured(context.Background(), "system", "user", Schema{Name: "charter", JSON: "{}"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "todo-api", out.Name)
	assert.Equal(t, 1, calls)
}

func TestGenerateStructuredRetriesOnceWithStricterInstruction(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if calls == 1 {
			w.Write([]byte(completionResponse("I could not produce JSON, sorry!")))
			return
		}
		assert.Contains(t, req.Messages[0].Content, "previous response was not valid JSON")
		w.Write([]byte(completionResponse("```json\n{\"name\": \"fixed\"}\n```")))
	}))
	defer server.Close()

	client := NewHTTPClient(Config{BaseURL: server.URL, Model: "test-model"}, nil)

	var out struct {
		Name string `json:"name"`
	}
	err := client.GenerateStructured(context.Background(), "system", "user", Schema{Name: "charter", JSON: "{}"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "fixed", out.Name)
	assert.Equal(t, 2, calls)
}

func TestGenerateStructuredFailsAfterRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionResponse("still not json")))
	}))
	defer server.Close()

	client := NewHTTPClient(Config{BaseURL: server.URL, Model: "test-model"}, nil)

	var out map[string]any
	err := client.GenerateStructured(context.Background(), "system", "user", Schema{Name: "charter", JSON: "{}"}, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutputInvalid)
}

func TestGenerateTextReturnsRawCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.InDelta(t, 0.7, req.Temperature, 0.001)
		w.Write([]byte(completionResponse("a design document")))
	}))
	defer server.Close()

	client := NewHTTPClient(Config{BaseURL: server.URL, Model: "test-model"}, nil)

	text, err := client.GenerateText(context.Background(), "system", "user", 0.7)
	require.NoError(t, err)
	assert.Equal(t, "a design document", text)
}

func TestGenerateTextProviderErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited"}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(Config{BaseURL: server.URL, Model: "test-model"}, nil)

	_, err := client.GenerateText(context.Background(), "system", "user", 0.2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestGenerateTextNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	client := NewHTTPClient(Config{BaseURL: server.URL, Model: "test-model"}, nil)

	_, err := client.GenerateText(context.Background(), "system", "user", 0.2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output")
}
