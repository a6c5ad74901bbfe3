package store

import (
	"context"
	"errors"
)

const DefaultHistoryLimit = 10

var ErrHistoryDisabled = errors.New("chat history is disabled")

// HistoryStore persists question/answer pairs. Every read and write is
// scoped to one user id.
type HistoryStore interface {
	SaveChat(ctx context.Context, userID, question, answer string) error
	GetUserHistory(ctx context.Context, userID string, limit int) ([]ChatRecord, error)
	Close() error
}

// DisabledHistory stands in when the database is not configured or could not
// be reached at startup.
type DisabledHistory struct{}

func (DisabledHistory) SaveChat(context.Context, string, string, string) error {
	return ErrHistoryDisabled
}

func (DisabledHistory) GetUserHistory(context.Context, string, int) ([]ChatRecord, error) {
	return nil, ErrHistoryDisabled
}

func (DisabledHistory) Close() error { return nil }

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}
