// Package llm holds the language-model and embedding clients.
package llm

import (
	"context"
	"errors"
)

const (
	RoleSystem = "system"
	RoleUser   = "user"
	RoleModel  = "model"
)

var ErrUnavailable = errors.New("language model is not configured")

type Message struct {
	Role    string
	Content string
}

// ChatModel produces one completion for a system prompt and an ordered list
// of messages; the last message is the one being answered.
type ChatModel interface {
	Complete(ctx context.Context, system string, messages []Message) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Unavailable answers every call with ErrUnavailable. It is wired in when the
// configured provider could not be constructed.
type Unavailable struct {
	Reason string
}

func (u Unavailable) Complete(context.Context, string, []Message) (string, error) {
	return "", u.err()
}

func (u Unavailable) Embed(context.Context, string) ([]float32, error) {
	return nil, u.err()
}

func (u Unavailable) err() error {
	if u.Reason == "" {
		return ErrUnavailable
	}
	return errors.Join(ErrUnavailable, errors.New(u.Reason))
}
