package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

const (
	DefaultGeminiChatModel      = "gemini-1.5-flash-latest"
	DefaultGeminiEmbeddingModel = "text-embedding-004"
)

type Gemini struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
	temperature    float32
	log            logrus.FieldLogger
}

func NewGemini(ctx context.Context, apiKey, chatModel string, temperature float32, log logrus.FieldLogger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is empty", ErrUnavailable)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if chatModel == "" {
		chatModel = DefaultGeminiChatModel
	}
	return &Gemini{
		client:         client,
		chatModel:      chatModel,
		embeddingModel: DefaultGeminiEmbeddingModel,
		temperature:    temperature,
		log:            log,
	}, nil
}

func (g *Gemini) Close() {
	if g.client == nil {
		return
	}
	if err := g.client.Close(); err != nil {
		g.log.WithError(err).Warn("Error closing GenAI client")
	} else {
		g.log.Debug("GenAI client closed")
	}
}

func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	em := g.client.EmbeddingModel(g.embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}

	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

func (g *Gemini) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages to complete")
	}
	last := messages[len(messages)-1]
	if last.Role != RoleUser {
		return "", fmt.Errorf("last message is from %q, expected %q", last.Role, RoleUser)
	}

	model := g.client.GenerativeModel(g.chatModel)
	if system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}
	temp := g.temperature
	model.GenerationConfig = genai.GenerationConfig{Temperature: &temp}

	chatSession := model.StartChat()
	for _, m := range messages[:len(messages)-1] {
		chatSession.History = append(chatSession.History, &genai.Content{
			Role:  m.Role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	resp, err := chatSession.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini response had no candidates")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		} else {
			g.log.Debugf("Gemini response part was not text: %T", part)
		}
	}

	if strings.TrimSpace(responseText.String()) == "" {
		return "", fmt.Errorf("gemini returned an empty response")
	}
	return responseText.String(), nil
}
