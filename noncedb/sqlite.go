package noncedb

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// currentSchemaVersion is the latest schema version. Bump when adding
// migrations.
const currentSchemaVersion = 1

// SQLite is a persistent ledger shared by every encoder process on a host.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite initialises the ledger database at baseDir/nonces.db. The
// directory and file get owner-only permissions: the ledger records which
// nonces exist, and in deterministic mode that maps to which sources were
// encoded.
func OpenSQLite(baseDir string) (*SQLite, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("noncedb: create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	dbPath := filepath.Join(baseDir, "nonces.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("noncedb: open database: %w", err)
	}
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	_ = os.Chmod(dbPath, 0600)
	return &SQLite{db: db}, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("noncedb: get user_version: %w", err)
	}
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS nonces (
		  id        TEXT PRIMARY KEY,
		  key_id    TEXT NOT NULL,
		  nonce_hex TEXT NOT NULL,
		  seen_at   INTEGER NOT NULL,
		  UNIQUE(key_id, nonce_hex)
		);

		CREATE INDEX IF NOT EXISTS idx_nonces_key
		ON nonces(key_id);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("noncedb: migration 1 failed: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("noncedb: set user_version: %w", err)
		}
	}
	return nil
}

func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("noncedb: verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("noncedb: expected WAL mode, got %s", journalMode)
	}
	return nil
}

func (s *SQLite) Reserve(ctx context.Context, keyID string, nonce []byte) (Record, error) {
	rec := Record{
		ID:     ulid.Make().String(),
		KeyID:  keyID,
		Nonce:  append([]byte(nil), nonce...),
		SeenAt: time.Now().UTC(),
	}
	// INSERT OR IGNORE keeps reuse detection inside a single statement,
	// so concurrent writers race in SQLite, not in Go.
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO nonces (id, key_id, nonce_hex, seen_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.KeyID, hex.EncodeToString(nonce), rec.SeenAt.Unix())
	if err != nil {
		return Record{}, fmt.Errorf("noncedb: reserve: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, fmt.Errorf("noncedb: reserve: %w", err)
	}
	if n == 0 {
		return Record{}, ErrNonceReuse
	}
	return rec, nil
}

func (s *SQLite) Seen(ctx context.Context, keyID string, nonce []byte) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM nonces WHERE key_id = ? AND nonce_hex = ?`,
		keyID, hex.EncodeToString(nonce)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("noncedb: seen: %w", err)
	}
	return true, nil
}

func (s *SQLite) Close() error { return s.db.Close() }
