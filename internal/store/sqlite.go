package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

var sqliteMigrations = []string{
	`
CREATE TABLE IF NOT EXISTS messages (
  seq         INTEGER PRIMARY KEY AUTOINCREMENT,
  id          TEXT NOT NULL UNIQUE,
  message     TEXT NOT NULL CHECK(message <> ''),
  username    TEXT NOT NULL CHECK(username <> ''),
  profile_pic TEXT,
  image       TEXT,
  date        INTEGER NOT NULL
);
`,
}

// SQLiteStore persists messages in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}
	// A single connection keeps ":memory:" databases coherent and serialises writers.
	db.SetMaxOpenConns(1)

	for i, stmt := range sqliteMigrations {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply migration %d: %w", i, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, m chat.Message) (chat.Message, error) {
	if err := checkRecord(m); err != nil {
		return chat.Message{}, err
	}
	m.ID = uuid.NewString()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, message, username, profile_pic, image, date) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.Message,
		m.Username,
		nullString(m.ProfilePic),
		nullString(m.Image),
		m.Date.UnixNano(),
	)
	if err != nil {
		if isSQLiteConstraint(err) {
			return chat.Message{}, fmt.Errorf("%w: %v", ErrConstraint, err)
		}
		return chat.Message{}, fmt.Errorf("insert message %q: %w", m.ID, err)
	}

	return m, nil
}

func (s *SQLiteStore) FindAll(ctx context.Context) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message, username, profile_pic, image, date FROM messages ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var (
			m          chat.Message
			profilePic sql.NullString
			image      sql.NullString
			date       int64
		)
		if err := rows.Scan(&m.ID, &m.Message, &m.Username, &profilePic, &image, &date); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ProfilePic = fromNullString(profilePic)
		m.Image = fromNullString(image)
		m.Date = time.Unix(0, date).UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

// isSQLiteConstraint reports CHECK and NOT NULL violations, the ones caused by record content.
func isSQLiteConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintNotNull:
		return true
	default:
		return false
	}
}
