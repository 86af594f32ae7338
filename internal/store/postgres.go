package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/pingline/pingline/internal/metrics"
	"github.com/pingline/pingline/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}

	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT UNIQUE NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		body TEXT NOT NULL,
		read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_messages_recipient_read ON messages(recipient, read);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(sender, recipient, read);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Enqueue inserts a message record.
func (s *PostgresStore) Enqueue(ctx context.Context, msg *models.Message) error {
	start := time.Now()
	defer func() {
		metrics.StoreLatency.WithLabelValues("enqueue").Observe(time.Since(start).Seconds())
	}()

	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	return s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, sender, recipient, body, read, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		RETURNING seq
	`, msg.ID, msg.From, msg.To, msg.Body, msg.CreatedAt).Scan(&msg.Seq)
}

// DrainUnread returns all unread messages for user, oldest first.
func (s *PostgresStore) DrainUnread(ctx context.Context, user string) ([]models.Message, error) {
	start := time.Now()
	defer func() {
		metrics.StoreLatency.WithLabelValues("drain_unread").Observe(time.Since(start).Seconds())
	}()

	rows, err := s.pool.Query(ctx, `
		SELECT seq, id, sender, recipient, body, read, created_at
		FROM messages
		WHERE recipient = $1 AND read = FALSE
		ORDER BY created_at ASC, seq ASC
	`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(
			&msg.Seq,
			&msg.ID,
			&msg.From,
			&msg.To,
			&msg.Body,
			&msg.Read,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	return msgs, rows.Err()
}

// MarkRead marks every unread message in the from→to thread as read.
func (s *PostgresStore) MarkRead(ctx context.Context, from, to string) (int64, error) {
	start := time.Now()
	defer func() {
		metrics.StoreLatency.WithLabelValues("mark_read").Observe(time.Since(start).Seconds())
	}()

	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET read = TRUE
		WHERE sender = $1 AND recipient = $2 AND read = FALSE
	`, from, to)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
