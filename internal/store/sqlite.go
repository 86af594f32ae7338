package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/pingline/pingline/internal/metrics"
	"github.com/pingline/pingline/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/pingline.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/pingline.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		body TEXT NOT NULL,
		read INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_messages_recipient_read ON messages(recipient, read);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(sender, recipient, read);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Enqueue inserts a message record.
func (s *SQLiteStore) Enqueue(ctx context.Context, msg *models.Message) error {
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

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender, recipient, body, read, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, msg.ID, msg.From, msg.To, msg.Body, msg.CreatedAt)
	if err != nil {
		return err
	}

	msg.Seq, err = res.LastInsertId()
	return err
}

// DrainUnread returns all unread messages for user, oldest first.
func (s *SQLiteStore) DrainUnread(ctx context.Context, user string) ([]models.Message, error) {
	start := time.Now()
	defer func() {
		metrics.StoreLatency.WithLabelValues("drain_unread").Observe(time.Since(start).Seconds())
	}()

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, sender, recipient, body, read, created_at
		FROM messages
		WHERE recipient = ? AND read = 0
		ORDER BY created_at ASC, seq ASC
	`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var msg models.Message
		var readInt int
		err := rows.Scan(
			&msg.Seq,
			&msg.ID,
			&msg.From,
			&msg.To,
			&msg.Body,
			&readInt,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		msg.Read = readInt == 1
		msgs = append(msgs, msg)
	}

	return msgs, rows.Err()
}

// MarkRead marks every unread message in the from→to thread as read.
func (s *SQLiteStore) MarkRead(ctx context.Context, from, to string) (int64, error) {
	start := time.Now()
	defer func() {
		metrics.StoreLatency.WithLabelValues("mark_read").Observe(time.Since(start).Seconds())
	}()

	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read = 1
		WHERE sender = ? AND recipient = ? AND read = 0
	`, from, to)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
