package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is an in-memory SQLite spool for uploaded files. Nothing survives
// Close.
type Store struct {
	db *sql.DB
}

// Open creates an empty in-memory database and runs migrations.
func Open() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Every connection to :memory: is a separate database; keep exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection and drops all data.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Uploads ---

// ReplaceUpload stores content as the only upload of sessionID, dropping
// any earlier one, and returns the stored record without its content.
func (s *Store) ReplaceUpload(ctx context.Context, sessionID, name string, content []byte) (Upload, error) {
	u := Upload{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Name:      name,
		Size:      int64(len(content)),
		CreatedAt: time.Now().UTC(),
	}
	if content == nil {
		content = []byte{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Upload{}, fmt.Errorf("beginning upload transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE session_id = ?`, sessionID); err != nil {
		return Upload{}, fmt.Errorf("dropping previous upload: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO uploads (id, session_id, name, size, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.SessionID, u.Name, u.Size, content, u.CreatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return Upload{}, fmt.Errorf("saving upload: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Upload{}, fmt.Errorf("committing upload: %w", err)
	}
	return u, nil
}

// GetUpload returns the upload with its content.
func (s *Store) GetUpload(ctx context.Context, id string) (Upload, error) {
	var u Upload
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, name, size, content, created_at
		FROM uploads WHERE id = ?`, id,
	).Scan(&u.ID, &u.SessionID, &u.Name, &u.Size, &u.Content, &createdAt)
	if err == sql.ErrNoRows {
		return Upload{}, ErrNotFound
	}
	if err != nil {
		return Upload{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Upload{}, fmt.Errorf("parsing created_at: %w", err)
	}
	u.CreatedAt = t
	return u, nil
}

// SessionUpload returns the current upload of sessionID.
func (s *Store) SessionUpload(ctx context.Context, sessionID string) (Upload, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM uploads WHERE session_id = ? ORDER BY created_at DESC LIMIT 1`, sessionID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return Upload{}, ErrNotFound
	}
	if err != nil {
		return Upload{}, err
	}
	return s.GetUpload(ctx, id)
}

// DeleteSessionUploads removes every upload of sessionID and reports how
// many were removed.
func (s *Store) DeleteSessionUploads(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM uploads WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UploadStats reports the number of spooled files and their total size.
func (s *Store) UploadStats(ctx context.Context) (count int, bytes int64, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM uploads`).Scan(&count, &bytes)
	return count, bytes, err
}
