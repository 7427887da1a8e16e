package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/xhad/gitagpt/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	thread_id  TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	role       TEXT    NOT NULL,
	content    TEXT    NOT NULL,
	created_at TEXT    NOT NULL,
	PRIMARY KEY (thread_id, seq)
)`

// SQLiteStore is an append-only message log. Rows are keyed by
// (thread_id, seq); a second writer that computed the same seq fails with
// ErrConcurrentAppend instead of interleaving.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) conversations.db under dataDir.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "conversations.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, threadID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages WHERE thread_id = ? ORDER BY seq`, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var (
			m         models.Message
			role      string
			createdAt string
		)
		if err := rows.Scan(&role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = models.Role(role)
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}

	return msgs, nil
}

func (s *SQLiteStore) Append(ctx context.Context, threadID string, messages ...models.Message) error {
	if threadID == "" {
		return ErrEmptyThreadID
	}
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var last int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE thread_id = ?`, threadID).Scan(&last); err != nil {
		return fmt.Errorf("reading sequence: %w", err)
	}

	return s.insert(ctx, tx, threadID, last, messages)
}

// AppendAt appends only if the thread currently holds exactly expected
// messages. Callers that loaded history and want to detect a concurrent
// writer use this instead of Append.
func (s *SQLiteStore) AppendAt(ctx context.Context, threadID string, expected int, messages ...models.Message) error {
	if threadID == "" {
		return ErrEmptyThreadID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var last int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE thread_id = ?`, threadID).Scan(&last); err != nil {
		return fmt.Errorf("reading sequence: %w", err)
	}
	if last != int64(expected) {
		return fmt.Errorf("%w: %s has %d messages, expected %d", ErrConcurrentAppend, threadID, last, expected)
	}

	return s.insert(ctx, tx, threadID, last, messages)
}

func (s *SQLiteStore) insert(ctx context.Context, tx *sql.Tx, threadID string, last int64, messages []models.Message) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (thread_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range messages {
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, threadID, last+int64(i)+1, string(m.Role), m.Content,
			createdAt.Format(time.RFC3339Nano)); err != nil {
			if isConstraintError(err) {
				return fmt.Errorf("%w: %s", ErrConcurrentAppend, threadID)
			}
			return fmt.Errorf("inserting message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing messages: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListThreads(ctx context.Context) ([]models.ThreadSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.thread_id, c.n, m.content, m.created_at
		FROM messages m
		JOIN (
			SELECT thread_id, COUNT(*) AS n, MAX(seq) AS last
			FROM messages
			GROUP BY thread_id
		) c ON m.thread_id = c.thread_id AND m.seq = c.last
		ORDER BY m.created_at DESC, m.thread_id`)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer rows.Close()

	out := []models.ThreadSummary{}
	for rows.Next() {
		var (
			t         models.ThreadSummary
			updatedAt string
		)
		if err := rows.Scan(&t.ThreadID, &t.MessageCount, &t.LastMessage, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning thread: %w", err)
		}
		t.UpdatedAt = parseTime(updatedAt)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading threads: %w", err)
	}

	return out, nil
}

func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("deleting thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting thread: %w", err)
	}
	if n == 0 {
		return ErrThreadNotFound
	}
	return nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isConstraintError(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY")
}
