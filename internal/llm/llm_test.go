package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyai.dev/notes/internal/logging"
)

func TestOllamaEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "hello", req.Prompt)
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer server.Close()

	o := NewOllama(server.URL, "", "", 0.7)
	emb, err := o.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, emb)
}

func TestOllamaComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 4)
		assert.Equal(t, ollamaChatMessage{Role: "system", Content: "be grounded"}, req.Messages[0])
		assert.Equal(t, "assistant", req.Messages[2].Role)
		assert.Equal(t, "and now?", req.Messages[3].Content)
		json.NewEncoder(w).Encode(ollamaChatResponse{Message: ollamaChatMessage{Role: "assistant", Content: "answer"}, Done: true})
	}))
	defer server.Close()

	o := NewOllama(server.URL, "", "", 0.7)
	out, err := o.Complete(context.Background(), "be grounded", []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleModel, Content: "hello"},
		{Role: RoleUser, Content: "and now?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
}

func TestOllamaErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/chat" {
			json.NewEncoder(w).Encode(ollamaChatResponse{Done: true})
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer server.Close()

	o := NewOllama(server.URL, "", "", 0)

	_, err := o.Embed(context.Background(), "x")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.False(t, se.Temporary())

	_, err = o.Complete(context.Background(), "", []Message{{Role: RoleUser, Content: "x"}})
	assert.Error(t, err)

	_, err = o.Complete(context.Background(), "", nil)
	assert.Error(t, err)
}

type flakyModel struct {
	failures []error
	calls    int
}

func (f *flakyModel) Complete(context.Context, string, []Message) (string, error) {
	f.calls++
	if f.calls <= len(f.failures) {
		return "", f.failures[f.calls-1]
	}
	return "ok", nil
}

func (f *flakyModel) Embed(context.Context, string) ([]float32, error) {
	f.calls++
	if f.calls <= len(f.failures) {
		return nil, f.failures[f.calls-1]
	}
	return []float32{1}, nil
}

var fastPolicy = RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxElapsedTime: time.Second}

func TestRetrying_RecoversFromTransientErrors(t *testing.T) {
	m := &flakyModel{failures: []error{&StatusError{Code: 503}, errors.New("connection reset")}}
	r := NewRetrying(m, m, fastPolicy, logging.Discard())

	out, err := r.Complete(context.Background(), "", []Message{{Role: RoleUser, Content: "q"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, m.calls)
}

func TestRetrying_DoesNotRetryPermanentErrors(t *testing.T) {
	m := &flakyModel{failures: []error{&StatusError{Code: 400}}}
	r := NewRetrying(m, m, fastPolicy, logging.Discard())

	_, err := r.Embed(context.Background(), "q")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, m.calls)

	u := Unavailable{Reason: "GEMINI_API_KEY is empty"}
	r = NewRetrying(u, u, fastPolicy, logging.Discard())
	_, err = r.Complete(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRetrying_GivesUp(t *testing.T) {
	fail := &StatusError{Code: 502}
	m := &flakyModel{failures: []error{fail, fail, fail, fail, fail}}
	r := NewRetrying(m, m, fastPolicy, logging.Discard())

	_, err := r.Complete(context.Background(), "", nil)
	assert.ErrorIs(t, err, fail)
	assert.Equal(t, 4, m.calls)
}
