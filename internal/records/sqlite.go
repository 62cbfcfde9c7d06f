package records

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"pixvault/internal/asset"
)

//go:embed migrations
var migrationsFS embed.FS

const recordColumns = `id, name, size_bytes, extension, storage_key, last_updated`

// SQLiteStore is an asset.RecordStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// initSchema applies every SQL file in the embedded migrations directory in
// lexicographical order. All migrations are idempotent.
func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Debug("Running migration", "path", path)
		if _, execError := db.ExecContext(ctx, string(content)); execError != nil {
			return fmt.Errorf("error running migration %s: %w", path, execError)
		}
		return nil
	})
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. The special path ":memory:" yields a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?_busy_timeout=5000"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		q := url.Values{}
		q.Set("_busy_timeout", "5000")
		q.Set("_journal_mode", "WAL")
		dsn = "file:" + path + "?" + q.Encode()
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if path == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTransaction runs a function within a database transaction.
func WithTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("error executing transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (asset.Record, error) {
	var rec asset.Record
	err := row.Scan(&rec.ID, &rec.Name, &rec.SizeBytes, &rec.Extension, &rec.StorageKey, &rec.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return asset.Record{}, asset.ErrRecordNotFound
	}
	if err != nil {
		return asset.Record{}, err
	}
	rec.LastUpdated = rec.LastUpdated.UTC()
	return rec, nil
}

// isUniqueViolation reports whether err is a SQLite uniqueness failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// GetByName implements asset.RecordStore.
func (s *SQLiteStore) GetByName(ctx context.Context, name string) (asset.Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM images WHERE name = ?`, name))
}

// GetByKey implements asset.RecordStore.
func (s *SQLiteStore) GetByKey(ctx context.Context, key string) (asset.Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM images WHERE storage_key = ?`, key))
}

// Count implements asset.RecordStore.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// GetAt implements asset.RecordStore.
func (s *SQLiteStore) GetAt(ctx context.Context, offset int64) (asset.Record, error) {
	if offset < 0 {
		return asset.Record{}, asset.ErrRecordNotFound
	}
	return scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM images ORDER BY id LIMIT 1 OFFSET ?`, offset))
}

// List implements asset.RecordStore.
func (s *SQLiteStore) List(ctx context.Context, limit int, offset int) ([]asset.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM images ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []asset.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Insert implements asset.RecordStore.
func (s *SQLiteStore) Insert(ctx context.Context, rec asset.Record) (asset.Record, error) {
	var inserted asset.Record
	err := WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO images(name, size_bytes, extension, storage_key) VALUES(?, ?, ?, ?)`,
			rec.Name, rec.SizeBytes, rec.Extension, rec.StorageKey,
		)
		if err != nil {
			return err
		}

		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		inserted, err = scanRecord(tx.QueryRowContext(ctx,
			`SELECT `+recordColumns+` FROM images WHERE id = ?`, id))
		return err
	})

	if isUniqueViolation(err) {
		return asset.Record{}, fmt.Errorf("%w: %w", asset.ErrDuplicateRecord, err)
	}
	if err != nil {
		return asset.Record{}, err
	}
	return inserted, nil
}

// Update implements asset.RecordStore.
func (s *SQLiteStore) Update(ctx context.Context, rec asset.Record) (asset.Record, error) {
	var updated asset.Record
	err := WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE images SET
				size_bytes = ?,
				extension = ?,
				storage_key = ?,
				last_updated = strftime('%Y-%m-%d %H:%M:%f', 'now')
			 WHERE id = ?`,
			rec.SizeBytes, rec.Extension, rec.StorageKey, rec.ID,
		)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return asset.ErrRecordNotFound
		}

		updated, err = scanRecord(tx.QueryRowContext(ctx,
			`SELECT `+recordColumns+` FROM images WHERE id = ?`, rec.ID))
		return err
	})

	if isUniqueViolation(err) {
		return asset.Record{}, fmt.Errorf("%w: %w", asset.ErrDuplicateRecord, err)
	}
	if err != nil {
		return asset.Record{}, err
	}
	return updated, nil
}

// Delete implements asset.RecordStore.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return asset.ErrRecordNotFound
	}
	return nil
}
