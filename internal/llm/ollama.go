package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultOllamaBaseURL    = "http://localhost:11434"
	DefaultOllamaChatModel  = "llama3"
	DefaultOllamaEmbedModel = "nomic-embed-text"
)

// StatusError is a non-200 reply from a model server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model server returned status %d: %s", e.Code, e.Body)
}

// Temporary reports whether retrying could help.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Ollama talks to a local Ollama server for both chat and embeddings.
type Ollama struct {
	baseURL     string
	chatModel   string
	embedModel  string
	temperature float32
	client      *http.Client
}

func NewOllama(baseURL, chatModel, embedModel string, temperature float32) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	if chatModel == "" {
		chatModel = DefaultOllamaChatModel
	}
	if embedModel == "" {
		embedModel = DefaultOllamaEmbedModel
	}
	return &Ollama{
		baseURL:     strings.TrimRight(baseURL, "/"),
		chatModel:   chatModel,
		embedModel:  embedModel,
		temperature: temperature,
		client:      &http.Client{Timeout: 300 * time.Second},
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp ollamaEmbedResponse
	if err := o.post(ctx, "/api/embeddings", ollamaEmbedRequest{Model: o.embedModel, Prompt: text}, &resp); err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}
	return resp.Embedding, nil
}

func (o *Ollama) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages to complete")
	}

	req := ollamaChatRequest{
		Model:   o.chatModel,
		Stream:  false,
		Options: map[string]any{"temperature": o.temperature},
	}
	if system != "" {
		req.Messages = append(req.Messages, ollamaChatMessage{Role: RoleSystem, Content: system})
	}
	for _, m := range messages {
		role := m.Role
		if role == RoleModel {
			role = "assistant"
		}
		req.Messages = append(req.Messages, ollamaChatMessage{Role: role, Content: m.Content})
	}

	var resp ollamaChatResponse
	if err := o.post(ctx, "/api/chat", req, &resp); err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return "", fmt.Errorf("ollama returned an empty response")
	}
	return resp.Message.Content, nil
}

func (o *Ollama) post(ctx context.Context, path string, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling Ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
