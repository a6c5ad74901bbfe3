package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

func openSQLite(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// ChunkStore is the durable half of the vector index: chunk text, metadata
// and embeddings in one SQLite file per collection.
type ChunkStore struct {
	db *sql.DB
}

// OpenChunkStore opens (creating if needed) <dir>/<collection>.sqlite3.
func OpenChunkStore(dir, collection string) (*ChunkStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create vector store directory: %w", err)
	}
	db, err := openSQLite(filepath.Join(dir, collection+".sqlite3"))
	if err != nil {
		return nil, err
	}
	store := &ChunkStore{db: db}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *ChunkStore) Close() error {
	return s.db.Close()
}

func (s *ChunkStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS document_chunks (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        content TEXT NOT NULL,
        metadata_json TEXT NOT NULL DEFAULT '{}',
        embedding_json TEXT NOT NULL,
        created_at DATETIME NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_document_chunks_user ON document_chunks (user_id);
    `
	_, err := s.db.Exec(schema)
	return err
}

// InsertChunks writes a batch in one transaction; the commit is the persist step.
func (s *ChunkStore) InsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin chunk insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO document_chunks (id, user_id, content, metadata_json, embedding_json, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range chunks {
		c := &chunks[i]
		if c.UserID == "" {
			return fmt.Errorf("chunk %s has no user_id", c.ID)
		}
		metadataJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		embeddingJSON, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.UserID, c.Content, string(metadataJSON), string(embeddingJSON), c.CreatedAt); err != nil {
			return fmt.Errorf("failed to execute chunk insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

// ChunksForUser loads every chunk owned by userID, embeddings included.
func (s *ChunkStore) ChunksForUser(ctx context.Context, userID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, user_id, content, metadata_json, embedding_json, created_at FROM document_chunks WHERE user_id = ? ORDER BY created_at, id", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query document_chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var metadataJSON, embeddingJSON string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Content, &metadataJSON, &embeddingJSON, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document_chunk row: %w", err)
		}
		if err := json.Unmarshal([]byte(metadataJSON), &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for chunk %s: %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(embeddingJSON), &c.Embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding for chunk %s: %w", c.ID, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *ChunkStore) CountForUser(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM document_chunks WHERE user_id = ?", userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// SQLiteHistory is the default chat history backend.
type SQLiteHistory struct {
	db *sql.DB
}

func NewSQLiteHistory(dataSourceName string) (*SQLiteHistory, error) {
	db, err := openSQLite(dataSourceName)
	if err != nil {
		return nil, err
	}
	h, err := newSQLiteHistoryFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

func newSQLiteHistoryFromDB(db *sql.DB) (*SQLiteHistory, error) {
	h := &SQLiteHistory{db: db}
	if err := h.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return h, nil
}

func (h *SQLiteHistory) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS chat_history (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_email TEXT NOT NULL,
        question TEXT NOT NULL,
        answer TEXT NOT NULL,
        timestamp DATETIME NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_chat_history_user_time ON chat_history (user_email, timestamp);
    `
	_, err := h.db.Exec(schema)
	return err
}

func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}

func (h *SQLiteHistory) SaveChat(ctx context.Context, userID, question, answer string) error {
	_, err := h.db.ExecContext(ctx, "INSERT INTO chat_history (user_email, question, answer, timestamp) VALUES (?, ?, ?, ?)",
		userID, question, answer, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save chat: %w", err)
	}
	return nil
}

func (h *SQLiteHistory) GetUserHistory(ctx context.Context, userID string, limit int) ([]ChatRecord, error) {
	query := `
        SELECT id, user_email, question, answer, timestamp
        FROM chat_history
        WHERE user_email = ?
        ORDER BY timestamp DESC, id DESC
        LIMIT ?
    `
	rows, err := h.db.QueryContext(ctx, query, userID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer rows.Close()

	var records []ChatRecord
	for rows.Next() {
		var r ChatRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Question, &r.Answer, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan chat history row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chat history: %w", err)
	}
	return records, nil
}
