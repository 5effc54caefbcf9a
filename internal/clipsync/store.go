package clipsync

import (
	"context"
	"time"
)

// ItemRow is the wire/database shape of a clipboard item. The remote store
// owns the schema; the core only reads and writes these fields. Row-level
// access control (one user sees only their own rows) is enforced server
// side — the checks in this package are defense in depth.
type ItemRow struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Content           string    `json:"content"`
	DeviceName        string    `json:"device_name"`
	DeviceType        string    `json:"device_type"`
	TargetDeviceTypes []string  `json:"target_device_type"`
	IsPublic          bool      `json:"is_public"`
	IsEncrypted       bool      `json:"is_encrypted"`
	ContentType       string    `json:"content_type"`
	StoragePath       string    `json:"storage_path"`
	FileSizeBytes     int64     `json:"file_size_bytes"`
	MimeType          string    `json:"mime_type"`
	Metadata          string    `json:"metadata"`
	RichTextFormat    string    `json:"rich_text_format"`
	CreatedAt         time.Time `json:"created_at"`
}

// RemoteStore is the hosted row store the repository syncs against.
type RemoteStore interface {
	// InsertItem persists row and returns it with the server-assigned id
	// and created_at.
	InsertItem(ctx context.Context, row ItemRow) (ItemRow, error)
	// SelectItems returns up to limit rows owned by userID, newest first.
	SelectItems(ctx context.Context, userID string, limit int) ([]ItemRow, error)
	// UpdateStorage sets the storage path and retrievable content URL on
	// an existing row, scoped to its owner.
	UpdateStorage(ctx context.Context, userID, id, storagePath, contentURL string) error
	// DeleteItem removes one row scoped to its owner.
	DeleteItem(ctx context.Context, userID, id string) error
	// DeleteAllButNewest trims the user's history to the keep newest rows
	// in a single batched request and reports how many were removed.
	DeleteAllButNewest(ctx context.Context, userID string, keep int) (int64, error)
	Close() error
}

// BlobStore holds binary payloads too large for the content column.
type BlobStore interface {
	// Upload stores data under key and returns a retrievable URL.
	Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// ChangeEvent signals that the user's remote history changed. Events carry
// no row data: consumers re-fetch the full window, which keeps delivery
// semantics at "always replace, never patch".
type ChangeEvent struct {
	UserID     string    `json:"user_id"`
	Kind       string    `json:"kind"`
	ItemID     string    `json:"item_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ChangeFeed is a live subscription to remote history changes.
type ChangeFeed interface {
	// Subscribe delivers change events for userID until ctx is cancelled
	// or Close is called. The returned channel is closed on teardown.
	Subscribe(ctx context.Context, userID string) (<-chan ChangeEvent, error)
	Close() error
}

// ContentCipher is the slice of the encryption engine the repository needs.
type ContentCipher interface {
	Enabled() bool
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}
