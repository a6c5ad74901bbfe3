// Package vectorindex owns the per-user embedding index. Every write is
// stamped with its owner and every read is filtered by it.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"studyai.dev/notes/internal/llm"
	"studyai.dev/notes/internal/store"
)

const MetadataUserID = "user_id"

var ErrMissingUser = errors.New("user id is required")

// ChunkStore is the durable side of the index.
type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []store.Chunk) error
	ChunksForUser(ctx context.Context, userID string) ([]store.Chunk, error)
	CountForUser(ctx context.Context, userID string) (int, error)
}

type Options struct {
	// EmbedRatePerSec bounds embedding calls; 0 disables pacing.
	EmbedRatePerSec int
	// QueryCacheSize is the number of query embeddings kept in memory.
	QueryCacheSize int
}

type Index struct {
	store    ChunkStore
	embedder llm.Embedder
	limiter  *rate.Limiter
	cache    *lru.Cache[string, []float32]
	log      logrus.FieldLogger
}

type ScoredChunk struct {
	Chunk      store.Chunk
	Similarity float64
}

func New(st ChunkStore, embedder llm.Embedder, opts Options, log logrus.FieldLogger) (*Index, error) {
	if opts.QueryCacheSize <= 0 {
		opts.QueryCacheSize = 256
	}
	cache, err := lru.New[string, []float32](opts.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.EmbedRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.EmbedRatePerSec), opts.EmbedRatePerSec)
	}
	return &Index{
		store:    st,
		embedder: embedder,
		limiter:  limiter,
		cache:    cache,
		log:      log,
	}, nil
}

// Add embeds and stores chunks for userID. Each chunk gets a fresh id and its
// user_id metadata is overwritten with userID. Nothing is stored unless every
// chunk was embedded.
func (ix *Index) Add(ctx context.Context, chunks []store.Chunk, userID string) error {
	if userID == "" {
		return ErrMissingUser
	}
	if len(chunks) == 0 {
		return nil
	}

	stamped := make([]store.Chunk, 0, len(chunks))
	for _, c := range chunks {
		md := make(map[string]any, len(c.Metadata)+1)
		for k, v := range c.Metadata {
			md[k] = v
		}
		md[MetadataUserID] = userID

		emb, err := ix.embed(ctx, c.Content)
		if err != nil {
			return fmt.Errorf("failed to embed chunk from %q: %w", c.Source(), err)
		}
		stamped = append(stamped, store.Chunk{
			ID:        uuid.NewString(),
			UserID:    userID,
			Content:   c.Content,
			Metadata:  md,
			Embedding: emb,
		})
	}

	if err := ix.store.InsertChunks(ctx, stamped); err != nil {
		return err
	}
	ix.log.WithFields(logrus.Fields{"user": userID, "chunks": len(stamped)}).Info("Chunks added to index")
	return nil
}

// Retrieve returns up to k of userID's chunks, most similar to query first.
func (ix *Index) Retrieve(ctx context.Context, query, userID string, k int) ([]store.Chunk, error) {
	scored, err := ix.Search(ctx, query, userID, k)
	if err != nil {
		return nil, err
	}
	out := make([]store.Chunk, len(scored))
	for i, s := range scored {
		out[i] = s.Chunk
	}
	return out, nil
}

func (ix *Index) Search(ctx context.Context, query, userID string, k int) ([]ScoredChunk, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if k <= 0 {
		k = 4
	}

	chunks, err := ix.store.ChunksForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	queryEmbedding, err := ix.queryEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	scored := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if !ownedBy(c, userID) {
			ix.log.WithFields(logrus.Fields{"user": userID, "chunk": c.ID}).Error("Chunk owner mismatch, skipping")
			continue
		}
		sim, err := cosine(queryEmbedding, c.Embedding)
		if err != nil {
			ix.log.WithError(err).WithField("chunk", c.ID).Warn("Skipping chunk")
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: c, Similarity: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (ix *Index) CountForUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrMissingUser
	}
	return ix.store.CountForUser(ctx, userID)
}

// ForUser binds the index to one tenant.
func (ix *Index) ForUser(userID string, k int) *UserRetriever {
	return &UserRetriever{index: ix, userID: userID, k: k}
}

func (ix *Index) embed(ctx context.Context, text string) ([]float32, error) {
	if err := ix.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return ix.embedder.Embed(ctx, text)
}

func (ix *Index) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if emb, ok := ix.cache.Get(query); ok {
		return emb, nil
	}
	emb, err := ix.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	ix.cache.Add(query, emb)
	return emb, nil
}

func ownedBy(c store.Chunk, userID string) bool {
	if c.UserID != userID {
		return false
	}
	owner, ok := c.Metadata[MetadataUserID].(string)
	return ok && owner == userID
}

// UserRetriever is an Index scoped to a single user.
type UserRetriever struct {
	index  *Index
	userID string
	k      int
}

func (r *UserRetriever) Retrieve(ctx context.Context, query string) ([]store.Chunk, error) {
	return r.index.Retrieve(ctx, query, r.userID, r.k)
}
