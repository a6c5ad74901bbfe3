package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: 500 * time.Millisecond,
	MaxElapsedTime:  30 * time.Second,
}

// Retrying wraps a model and an embedder with exponential backoff. Client
// errors (4xx other than 429) and ErrUnavailable are not retried.
type Retrying struct {
	model    ChatModel
	embedder Embedder
	policy   RetryPolicy
	log      logrus.FieldLogger
}

func NewRetrying(model ChatModel, embedder Embedder, policy RetryPolicy, log logrus.FieldLogger) *Retrying {
	return &Retrying{model: model, embedder: embedder, policy: policy, log: log}
}

func (r *Retrying) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	var out string
	err := r.do(ctx, "complete", func() error {
		var err error
		out, err = r.model.Complete(ctx, system, messages)
		return err
	})
	return out, err
}

func (r *Retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := r.do(ctx, "embed", func() error {
		var err error
		out, err = r.embedder.Embed(ctx, text)
		return err
	})
	return out, err
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		eb.InitialInterval = r.policy.InitialInterval
	}
	eb.MaxElapsedTime = r.policy.MaxElapsedTime

	b := backoff.WithContext(backoff.WithMaxRetries(eb, r.policy.MaxRetries), ctx)

	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		r.log.WithError(err).WithField("op", op).Warnf("Model call failed, retrying in %s", wait)
	})
}

func retryable(err error) bool {
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
