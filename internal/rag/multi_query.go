package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"studyai.dev/notes/internal/llm"
	"studyai.dev/notes/internal/store"
)

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

// MultiQuery asks the model for several phrasings of the question, retrieves
// for each and answers from the de-duplicated union.
type MultiQuery struct {
	model     llm.ChatModel
	retriever Retriever
	variants  int
	log       logrus.FieldLogger
}

func (m *MultiQuery) Answer(ctx context.Context, query string, history []Turn) (string, error) {
	queries, err := m.expand(ctx, query)
	if err != nil {
		return "", err
	}

	seen := make(map[string]bool)
	var chunks []store.Chunk
	for _, q := range queries {
		found, err := m.retriever.Retrieve(ctx, q)
		if err != nil {
			return "", fmt.Errorf("failed to retrieve context: %w", err)
		}
		for _, c := range found {
			key := c.ID
			if key == "" {
				key = c.Content
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			chunks = append(chunks, c)
		}
	}
	m.log.WithFields(logrus.Fields{"queries": len(queries), "chunks": len(chunks)}).Debug("Retrieved context")
	if len(chunks) == 0 {
		return InsufficientInformation, nil
	}

	return generate(ctx, m.model, chunks, history, query)
}

// expand returns the original query followed by up to m.variants rephrasings.
func (m *MultiQuery) expand(ctx context.Context, query string) ([]string, error) {
	prompt := fmt.Sprintf(multiQueryPrompt, m.variants, query)
	out, err := m.model.Complete(ctx, "", []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query variants: %w", err)
	}
	return parseVariants(query, out, m.variants), nil
}

func parseVariants(query, out string, max int) []string {
	queries := []string{query}
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(query)): true}
	for _, line := range strings.Split(out, "\n") {
		if len(queries) > max {
			break
		}
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		key := strings.ToLower(line)
		if line == "" || seen[key] {
			continue
		}
		seen[key] = true
		queries = append(queries, line)
	}
	return queries
}
