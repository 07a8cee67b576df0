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

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var payload ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "llama3", payload.Model)
		assert.False(t, payload.Stream)
		assert.InDelta(t, 0.2, payload.Options.Temperature, 1e-6)
		require.Len(t, payload.Messages, 2)
		assert.Equal(t, RoleSystem, payload.Messages[0].Role)

		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaChatMessage{Role: RoleAssistant, Content: "This prints one."},
			Done:    true,
		})
	}))
	defer srv.Close()

	client := NewOllamaClient(Options{OllamaHost: srv.URL + "/", Model: "llama3"})
	text, err := client.Generate(context.Background(), NewRequest("teacher", "print(1)", 0.2))
	require.NoError(t, err)
	assert.Equal(t, "This prints one.", text)
}

func TestOllamaStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   Class
	}{
		{http.StatusTooManyRequests, ClassQuota},
		{http.StatusServiceUnavailable, ClassTransient},
		{http.StatusBadRequest, ClassOther},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		}))

		client := NewOllamaClient(Options{OllamaHost: srv.URL, Model: "llama3"})
		_, err := client.Generate(context.Background(), NewRequest("s", "u", 0))
		require.Error(t, err)
		assert.Equal(t, tt.want, Classify(err), "status %d", tt.status)

		srv.Close()
	}
}

func TestOllamaMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	client := NewOllamaClient(Options{OllamaHost: srv.URL})
	_, err := client.Generate(context.Background(), NewRequest("s", "u", 0))
	require.ErrorIs(t, err, ErrMalformedResponse)
}
