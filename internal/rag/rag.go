// Package rag answers questions from a user's indexed documents.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"studyai.dev/notes/internal/llm"
	"studyai.dev/notes/internal/store"
)

const (
	StrategyHistoryAware = "history_aware"
	StrategyMultiQuery   = "multi_query"
)

const (
	// InsufficientInformation is returned when nothing relevant was retrieved.
	InsufficientInformation = "I don't have enough information in your documents to answer that."
	// FallbackAnswer is shown when answering failed outright.
	FallbackAnswer = "I couldn't find enough information to answer that."
)

var errEmptyAnswer = errors.New("model returned an empty answer")

type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Retriever is bound to a single user's documents.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]store.Chunk, error)
}

type Strategy interface {
	Answer(ctx context.Context, query string, history []Turn) (string, error)
}

func NewStrategy(name string, model llm.ChatModel, retriever Retriever, log logrus.FieldLogger) (Strategy, error) {
	switch name {
	case "", StrategyHistoryAware:
		return &HistoryAware{model: model, retriever: retriever, log: log}, nil
	case StrategyMultiQuery:
		return &MultiQuery{model: model, retriever: retriever, variants: 3, log: log}, nil
	default:
		return nil, fmt.Errorf("unknown answering strategy %q", name)
	}
}

func toMessages(history []Turn, query string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == RoleAI {
			role = llm.RoleModel
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: query})
}

func formatContext(chunks []store.Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Content
	}
	return strings.Join(parts, "\n\n")
}

// generate stuffs the retrieved chunks into the grounding prompt and asks for
// an answer.
func generate(ctx context.Context, model llm.ChatModel, chunks []store.Chunk, history []Turn, query string) (string, error) {
	system := fmt.Sprintf(qaSystemPrompt, formatContext(chunks))
	answer, err := model.Complete(ctx, system, toMessages(history, query))
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", errEmptyAnswer
	}
	return answer, nil
}
