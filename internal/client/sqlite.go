package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore хранит снимок сессии в локальной SQLite-базе (одна строка).
type SQLiteStore struct {
	db *sql.DB
}

const createSnapshotTable = `
CREATE TABLE IF NOT EXISTS session_snapshot (
  id        INTEGER PRIMARY KEY CHECK (id = 1),
  user_id   TEXT    NOT NULL,
  name      TEXT    NOT NULL,
  email     TEXT    NOT NULL,
  role      TEXT    NOT NULL,
  login_at  INTEGER NOT NULL
);`

// OpenSQLite открывает (или создаёт) базу по пути dsn и готовит схему.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	const op = "client.OpenSQLite"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// Одно соединение: для ":memory:" иначе у каждого соединения своя база.
	db.SetMaxOpenConns(1)

	st, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return st, nil
}

// NewSQLiteStore создаёт хранилище поверх открытой базы и готовит схему.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, createSnapshotTable); err != nil {
		return nil, fmt.Errorf("failed to create session_snapshot: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*Snapshot, error) {
	var (
		snap    Snapshot
		loginAt int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, name, email, role, login_at FROM session_snapshot WHERE id = 1`,
	).Scan(&snap.UserID, &snap.Name, &snap.Email, &snap.Role, &loginAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session snapshot: %w", err)
	}

	snap.LoginAt = time.Unix(loginAt, 0).UTC()
	return &snap, nil
}

func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_snapshot (id, user_id, name, email, role, login_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  user_id = excluded.user_id,
		  name = excluded.name,
		  email = excluded.email,
		  role = excluded.role,
		  login_at = excluded.login_at
	`, snap.UserID, snap.Name, snap.Email, snap.Role, snap.LoginAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save session snapshot: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_snapshot`); err != nil {
		return fmt.Errorf("failed to clear session snapshot: %w", err)
	}

	return nil
}

// Close закрывает базу.
func (s *SQLiteStore) Close() error { return s.db.Close() }
