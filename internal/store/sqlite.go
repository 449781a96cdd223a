package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/domain"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS students (
		user_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS struggle_counts (
		user_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL DEFAULT 'Inactive',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, topic)
	);
	CREATE INDEX IF NOT EXISTS idx_struggle_counts_user ON struggle_counts(user_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// unavailable wraps a driver error so callers can detect ErrStoreUnavailable
// with errors.Is while keeping the original cause in the message.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStoreUnavailable, err))
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetCounts returns a snapshot of a student's per-topic struggle counters.
func (s *SQLiteStore) GetCounts(ctx context.Context, userID string) (map[string]int, error) {
	query := `SELECT topic, count FROM struggle_counts WHERE user_id = ?`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, unavailable("query struggle counts", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close struggle count rows", "error", closeErr)
		}
	}()

	counts := make(map[string]int)
	for rows.Next() {
		var topic string
		var count int
		if err := rows.Scan(&topic, &count); err != nil {
			return nil, unavailable("scan struggle count row", err)
		}
		counts[topic] = count
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate struggle counts", err)
	}

	return counts, nil
}

// GetRecord returns the full struggle record for a student.
func (s *SQLiteStore) GetRecord(ctx context.Context, userID string) (*domain.StruggleRecord, error) {
	query := `SELECT topic, count, state FROM struggle_counts WHERE user_id = ?`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, unavailable("query struggle record", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close struggle record rows", "error", closeErr)
		}
	}()

	record := &domain.StruggleRecord{
		UserID: userID,
		Counts: make(map[string]int),
		States: make(map[string]domain.TopicState),
	}
	for rows.Next() {
		var topic, state string
		var count int
		if err := rows.Scan(&topic, &count, &state); err != nil {
			return nil, unavailable("scan struggle record row", err)
		}
		record.Counts[topic] = count
		record.States[topic] = domain.TopicState(state)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate struggle record", err)
	}

	return record, nil
}

// IncrementAndGetState atomically bumps the counter for (userID, topic) and
// recomputes the topic state. The increment is a single upsert so concurrent
// chat turns for the same student serialize at the database; the state flip
// happens in the same transaction. Retries on SQLITE_BUSY with backoff.
func (s *SQLiteStore) IncrementAndGetState(ctx context.Context, userID, topic string, threshold int) (int, domain.TopicState, domain.TopicState, error) {
	topic = domain.NormalizeTopic(topic)

	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		count, prev, next, err := s.incrementOnce(ctx, userID, topic, threshold)
		if err == nil {
			return count, prev, next, nil
		}
		lastErr = err

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("struggle increment hit SQLITE_BUSY, retrying",
				"user_id", userID,
				"topic", topic,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}
		break
	}

	return 0, domain.TopicInactive, domain.TopicInactive,
		unavailable("increment struggle count", lastErr)
}

func (s *SQLiteStore) incrementOnce(ctx context.Context, userID, topic string, threshold int) (int, domain.TopicState, domain.TopicState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, "", "", fmt.Errorf("begin increment tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().Unix()
	query := `
		INSERT INTO struggle_counts (user_id, topic, count, state, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(user_id, topic) DO UPDATE SET
			count = struggle_counts.count + 1,
			updated_at = excluded.updated_at
		RETURNING count, state`

	var newCount int
	var prevState string
	row := tx.QueryRowContext(ctx, query, userID, topic, string(domain.TopicInactive), now, now)
	if err := row.Scan(&newCount, &prevState); err != nil {
		return 0, "", "", fmt.Errorf("upsert struggle count: %w", err)
	}

	prev := domain.TopicState(prevState)
	next := prev
	if newCount > threshold && prev != domain.TopicActive {
		next = domain.TopicActive
		_, err := tx.ExecContext(ctx,
			`UPDATE struggle_counts SET state = ?, updated_at = ? WHERE user_id = ? AND topic = ?`,
			string(domain.TopicActive), now, userID, topic,
		)
		if err != nil {
			return 0, "", "", fmt.Errorf("activate struggle state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, "", "", fmt.Errorf("commit increment tx: %w", err)
	}

	return newCount, prev, next, nil
}

// ResetTopic zeroes the counter for (userID, topic) and deactivates it.
func (s *SQLiteStore) ResetTopic(ctx context.Context, userID, topic string) error {
	topic = domain.NormalizeTopic(topic)
	query := `
		UPDATE struggle_counts
		SET count = 0, state = ?, updated_at = ?
		WHERE user_id = ? AND topic = ?`

	result, err := s.db.ExecContext(ctx, query, string(domain.TopicInactive), time.Now().Unix(), userID, topic)
	if err != nil {
		return unavailable("reset struggle topic", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("ResetTopic affected 0 rows", "user_id", userID, "topic", topic)
	}

	return nil
}

// GetStudent retrieves a student by user ID.
func (s *SQLiteStore) GetStudent(ctx context.Context, userID string) (*domain.Student, error) {
	query := `SELECT user_id, display_name, created_at, updated_at FROM students WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var student domain.Student
	var createdAt, updatedAt int64

	err := row.Scan(&student.UserID, &student.DisplayName, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("scan student row", err)
	}

	student.CreatedAt = time.Unix(createdAt, 0)
	student.UpdatedAt = time.Unix(updatedAt, 0)

	return &student, nil
}

// UpsertStudent creates or updates a student record.
func (s *SQLiteStore) UpsertStudent(ctx context.Context, student *domain.Student) error {
	query := `
	INSERT INTO students (user_id, display_name, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		display_name = excluded.display_name,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		student.UserID, student.DisplayName,
		student.CreatedAt.Unix(), student.UpdatedAt.Unix(),
	)
	if err != nil {
		return unavailable("upsert student", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
