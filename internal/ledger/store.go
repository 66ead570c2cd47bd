package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/kwikset-bridge/internal/infrastructure/database"
)

// SQLiteStore persists ledger documents in the bridge's SQLite database.
// One row per home; the document column holds the full JSON blob and is
// replaced wholesale on every save, which rides on SQLite's per-statement
// atomicity.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore wraps an open database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load reads the document for a home. A home with no row yet yields nil,
// not an error.
func (s *SQLiteStore) Load(ctx context.Context, homeID string) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM access_code_ledger WHERE home_id = ?`, homeID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger document: %w", err)
	}
	return raw, nil
}

// Save replaces the home's document.
func (s *SQLiteStore) Save(ctx context.Context, homeID string, doc []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_code_ledger (home_id, document, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(home_id) DO UPDATE SET
		   document = excluded.document,
		   updated_at = excluded.updated_at`,
		homeID, string(doc), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing ledger document: %w", err)
	}
	return nil
}
