package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"studyai.dev/notes/internal/llm"
)

// HistoryAware rewrites a follow-up question into a standalone one, retrieves
// once with it, and answers from what was retrieved.
type HistoryAware struct {
	model     llm.ChatModel
	retriever Retriever
	log       logrus.FieldLogger
}

func (h *HistoryAware) Answer(ctx context.Context, query string, history []Turn) (string, error) {
	standalone, err := h.contextualize(ctx, query, history)
	if err != nil {
		return "", err
	}

	chunks, err := h.retriever.Retrieve(ctx, standalone)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve context: %w", err)
	}
	h.log.WithFields(logrus.Fields{"chunks": len(chunks)}).Debug("Retrieved context")
	if len(chunks) == 0 {
		return InsufficientInformation, nil
	}

	return generate(ctx, h.model, chunks, history, standalone)
}

func (h *HistoryAware) contextualize(ctx context.Context, query string, history []Turn) (string, error) {
	if len(history) == 0 {
		return query, nil
	}
	out, err := h.model.Complete(ctx, contextualizeSystemPrompt, toMessages(history, query))
	if err != nil {
		return "", fmt.Errorf("failed to reformulate question: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return query, nil
	}
	h.log.WithField("standalone", out).Debug("Reformulated question")
	return out, nil
}
