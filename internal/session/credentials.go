package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// StoredCredentials is the durable part of a session: just enough to
// rehydrate authentication after a restart.
type StoredCredentials struct {
	UserID       string
	Token        string
	RefreshToken string
	SavedAt      time.Time
}

var ErrNoCredentials = errors.New("session: no stored credentials")

type CredentialRepository interface {
	Save(ctx context.Context, creds StoredCredentials) error
	Load(ctx context.Context) (StoredCredentials, error)
	Clear(ctx context.Context) error
}

type SQLiteCredentials struct {
	db *sql.DB
}

func NewSQLiteCredentials(path string) (*SQLiteCredentials, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteCredentials{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating database: %w", err)
	}

	return s, nil
}

func (s *SQLiteCredentials) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS credentials (
			slot INTEGER PRIMARY KEY CHECK (slot = 1),
			user_id TEXT NOT NULL,
			token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			saved_at DATETIME NOT NULL
		);
  	`

	_, err := s.db.Exec(schema)
	return err
}

// Save upserts the single credential slot; one identity per client store.
func (s *SQLiteCredentials) Save(ctx context.Context, creds StoredCredentials) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (slot, user_id, token, refresh_token, saved_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			user_id = excluded.user_id,
			token = excluded.token,
			refresh_token = excluded.refresh_token,
			saved_at = excluded.saved_at`,
		creds.UserID, creds.Token, creds.RefreshToken, creds.SavedAt)
	return err
}

func (s *SQLiteCredentials) Load(ctx context.Context) (StoredCredentials, error) {
	var creds StoredCredentials
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, token, refresh_token, saved_at FROM credentials WHERE slot = 1`).
		Scan(&creds.UserID, &creds.Token, &creds.RefreshToken, &creds.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredCredentials{}, ErrNoCredentials
	}
	if err != nil {
		return StoredCredentials{}, err
	}
	return creds, nil
}

func (s *SQLiteCredentials) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE slot = 1`)
	return err
}

func (s *SQLiteCredentials) Close() error {
	return s.db.Close()
}
