package store

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresOptions struct {
	Host           string
	Port           string
	User           string
	Password       string
	Database       string
	SSLRootCert    string
	PoolSize       int
	AcquireTimeout time.Duration
}

// DSN builds a connection URL. A CA path turns on verify-full; otherwise the
// driver negotiates TLS opportunistically.
func (o PostgresOptions) DSN() string {
	q := url.Values{}
	if o.SSLRootCert != "" {
		q.Set("sslmode", "verify-full")
		q.Set("sslrootcert", o.SSLRootCert)
	} else {
		q.Set("sslmode", "prefer")
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(o.User, o.Password),
		Host:     net.JoinHostPort(o.Host, o.Port),
		Path:     "/" + o.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// PostgresHistory keeps chat history in Postgres behind a fixed-size pool.
// Every call is bounded by the acquire timeout, so an exhausted pool turns
// into an error instead of a hang.
type PostgresHistory struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPostgresHistory(ctx context.Context, opts PostgresOptions) (*PostgresHistory, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if opts.PoolSize > 0 {
		cfg.MaxConns = int32(opts.PoolSize)
	}
	timeout := opts.AcquireTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	h := &PostgresHistory{pool: pool, timeout: timeout}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := h.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return h, nil
}

func (h *PostgresHistory) initSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	_, err := h.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chat_history (
			id BIGSERIAL PRIMARY KEY,
			user_email TEXT NOT NULL,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_chat_history_user_time ON chat_history (user_email, timestamp DESC);`)
	return err
}

func (h *PostgresHistory) Close() error {
	h.pool.Close()
	return nil
}

func (h *PostgresHistory) SaveChat(ctx context.Context, userID, question, answer string) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	_, err := h.pool.Exec(ctx, `
		INSERT INTO chat_history (user_email, question, answer, timestamp)
		VALUES ($1, $2, $3, $4)`,
		userID, question, answer, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save chat: %w", err)
	}
	return nil
}

func (h *PostgresHistory) GetUserHistory(ctx context.Context, userID string, limit int) ([]ChatRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	rows, err := h.pool.Query(ctx, `
		SELECT id, user_email, question, answer, timestamp
		FROM chat_history
		WHERE user_email = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2`,
		userID, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	defer rows.Close()

	var records []ChatRecord
	for rows.Next() {
		var r ChatRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Question, &r.Answer, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan chat history: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read chat history: %w", err)
	}
	return records, nil
}
