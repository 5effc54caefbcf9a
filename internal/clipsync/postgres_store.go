package clipsync

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

const (
	postgresItemsTableName    = "clipboard_items"
	postgresOperationTimeout  = 5 * time.Second
	postgresDefaultSelectSize = 100
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore implements RemoteStore against the hosted Postgres service.
// The schema is owned by the backend; the CREATE TABLE here only makes
// local development and integration tests self-contained.
type PostgresStore struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, &ValidationError{Field: "dsn", Message: "Postgres DSN is required."}
	}
	return &PostgresStore{
		dsn:       dsn,
		tableName: postgresItemsTableName,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				user_id TEXT NOT NULL,
				content TEXT NOT NULL,
				device_name TEXT NOT NULL DEFAULT '',
				device_type TEXT NOT NULL,
				target_device_type TEXT[],
				is_public BOOLEAN NOT NULL DEFAULT FALSE,
				is_encrypted BOOLEAN NOT NULL DEFAULT FALSE,
				content_type TEXT NOT NULL,
				storage_path TEXT NOT NULL DEFAULT '',
				file_size_bytes BIGINT NOT NULL DEFAULT 0,
				mime_type TEXT NOT NULL DEFAULT '',
				metadata JSONB,
				rich_text_format TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		indexName := s.tableName + "_user_created_idx"
		indexQuery := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (user_id, created_at DESC)",
			postgresQuoteIdentifier(indexName),
			postgresQuoteIdentifier(s.tableName),
		)
		if _, err := db.ExecContext(ctx, indexQuery); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresStore) InsertItem(ctx context.Context, row ItemRow) (ItemRow, error) {
	if err := s.ensureReady(); err != nil {
		return ItemRow{}, &NetworkError{Op: "insert", Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (
			user_id, content, device_name, device_type, target_device_type,
			is_public, is_encrypted, content_type, storage_path,
			file_size_bytes, mime_type, metadata, rich_text_format, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, '')::jsonb, $13, NOW())
		RETURNING id, created_at`, postgresQuoteIdentifier(s.tableName))
	var targets any
	if row.TargetDeviceTypes != nil {
		targets = pq.Array(row.TargetDeviceTypes)
	}
	err := s.db.QueryRowContext(ctx, query,
		row.UserID, row.Content, row.DeviceName, row.DeviceType, targets,
		row.IsPublic, row.IsEncrypted, row.ContentType, row.StoragePath,
		row.FileSizeBytes, row.MimeType, row.Metadata, row.RichTextFormat,
	).Scan(&row.ID, &row.CreatedAt)
	if err != nil {
		return ItemRow{}, &NetworkError{Op: "insert", Err: err}
	}
	return row, nil
}

func (s *PostgresStore) SelectItems(ctx context.Context, userID string, limit int) ([]ItemRow, error) {
	if err := s.ensureReady(); err != nil {
		return nil, &NetworkError{Op: "select", Err: err}
	}
	if limit <= 0 {
		limit = postgresDefaultSelectSize
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, user_id, content, device_name, device_type, target_device_type,
			is_public, is_encrypted, content_type, storage_path,
			file_size_bytes, mime_type, COALESCE(metadata::text, ''), rich_text_format, created_at
		FROM %s
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, postgresQuoteIdentifier(s.tableName))
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, &NetworkError{Op: "select", Err: err}
	}
	defer rows.Close()

	items := make([]ItemRow, 0, limit)
	for rows.Next() {
		var row ItemRow
		var targets pq.StringArray
		if err := rows.Scan(
			&row.ID, &row.UserID, &row.Content, &row.DeviceName, &row.DeviceType, &targets,
			&row.IsPublic, &row.IsEncrypted, &row.ContentType, &row.StoragePath,
			&row.FileSizeBytes, &row.MimeType, &row.Metadata, &row.RichTextFormat, &row.CreatedAt,
		); err != nil {
			return nil, &NetworkError{Op: "select", Err: err}
		}
		if targets != nil {
			row.TargetDeviceTypes = []string(targets)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &NetworkError{Op: "select", Err: err}
	}
	return items, nil
}

func (s *PostgresStore) UpdateStorage(ctx context.Context, userID, id, storagePath, contentURL string) error {
	if err := s.ensureReady(); err != nil {
		return &NetworkError{Op: "update", Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"UPDATE %s SET storage_path = $1, content = $2 WHERE id = $3 AND user_id = $4",
		postgresQuoteIdentifier(s.tableName))
	result, err := s.db.ExecContext(ctx, query, storagePath, contentURL, id, userID)
	if err != nil {
		return &NetworkError{Op: "update", Err: err}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return &NetworkError{Op: "update", Err: err}
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteItem(ctx context.Context, userID, id string) error {
	if err := s.ensureReady(); err != nil {
		return &NetworkError{Op: "delete", Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"DELETE FROM %s WHERE id = $1 AND user_id = $2",
		postgresQuoteIdentifier(s.tableName))
	result, err := s.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return &NetworkError{Op: "delete", Err: err}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return &NetworkError{Op: "delete", Err: err}
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllButNewest trims the user's history in one statement rather than
// a delete per row.
func (s *PostgresStore) DeleteAllButNewest(ctx context.Context, userID string, keep int) (int64, error) {
	if err := s.ensureReady(); err != nil {
		return 0, &NetworkError{Op: "cleanup", Err: err}
	}
	if keep < 0 {
		keep = 0
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	table := postgresQuoteIdentifier(s.tableName)
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM %s
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		)`, table, table)
	result, err := s.db.ExecContext(ctx, query, userID, keep)
	if err != nil {
		return 0, &NetworkError{Op: "cleanup", Err: err}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, &NetworkError{Op: "cleanup", Err: err}
	}
	return affected, nil
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
