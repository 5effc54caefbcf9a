package clipsync

import (
	"context"
	"encoding/json"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Repository defaults. The offload and window constants are empirical
// tuning values surfaced as configuration, not semantics.
const (
	DefaultHistoryLimit      = 50
	MaxHistoryLimit          = 1000
	DefaultParseOffloadItems = 20
)

// RepositoryOptions wires the repository to its collaborators. Store and
// UserID are required; everything else has a working default.
type RepositoryOptions struct {
	// UserID is the authenticated user this session acts for. Requests
	// carrying any other user id fail with a SecurityError.
	UserID string
	Store  RemoteStore
	Blobs  BlobStore
	Feed   ChangeFeed
	Cipher ContentCipher
	Logger *slog.Logger

	HistoryLimit       int
	ParseOffloadItems  int
	ContentCacheSize   int
	DetectionCacheSize int
}

// Repository orchestrates the write path (validate, sanitize, encrypt,
// persist) and the read path (fetch, decrypt, cache) against the remote
// store. It is safe for concurrent use; writes are serialized so at most
// one insert is in flight at a time.
type Repository struct {
	userID string
	store  RemoteStore
	blobs  BlobStore
	feed   ChangeFeed
	cipher ContentCipher
	logger *slog.Logger

	historyLimit      int
	parseOffloadItems int

	contentCache   *Cache[string, string]
	detectionCache *Cache[string, DetectionResult]
	detector       *Detector

	writeMu sync.Mutex
}

func NewRepository(opts RepositoryOptions) (*Repository, error) {
	if strings.TrimSpace(opts.UserID) == "" {
		return nil, &ValidationError{Field: "userId", Message: "User id is required."}
	}
	if opts.Store == nil {
		return nil, &ValidationError{Field: "store", Message: "A remote store is required."}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.ParseOffloadItems <= 0 {
		opts.ParseOffloadItems = DefaultParseOffloadItems
	}
	return &Repository{
		userID:            opts.UserID,
		store:             opts.Store,
		blobs:             opts.Blobs,
		feed:              opts.Feed,
		cipher:            opts.Cipher,
		logger:            opts.Logger,
		historyLimit:      opts.HistoryLimit,
		parseOffloadItems: opts.ParseOffloadItems,
		contentCache:      NewCache[string, string](opts.ContentCacheSize),
		detectionCache:    NewCache[string, DetectionResult](opts.DetectionCacheSize),
		detector:          NewDetector(),
	}, nil
}

// InsertRequest is a text or rich-text write.
type InsertRequest struct {
	UserID            string
	Content           string
	ContentType       ContentType
	RichTextFormat    string
	DeviceType        DeviceType
	DeviceName        string
	TargetDeviceTypes []DeviceType
}

// Insert validates, sanitizes, optionally encrypts, and persists a text
// item. The returned item carries the server-assigned id and timestamp and
// the original plaintext content — the caller already holds the plaintext,
// so ciphertext is never echoed back.
func (r *Repository) Insert(ctx context.Context, req InsertRequest) (ClipboardItem, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if req.ContentType == "" {
		req.ContentType = ContentText
	}
	sanitized, err := r.validateTextRequest(&req)
	if err != nil {
		return ClipboardItem{}, err
	}

	opID := uuid.NewString()
	stored := sanitized
	encrypted := false
	if r.cipher != nil && r.cipher.Enabled() {
		stored, err = r.cipher.Encrypt(ctx, sanitized)
		if err != nil {
			return ClipboardItem{}, &EncryptionError{Op: "encrypt", Message: "could not encrypt content", Err: err}
		}
		encrypted = true
	}

	row := ItemRow{
		UserID:            r.userID,
		Content:           stored,
		DeviceName:        req.DeviceName,
		DeviceType:        string(req.DeviceType),
		TargetDeviceTypes: deviceTypesToStrings(req.TargetDeviceTypes),
		IsPublic:          false,
		IsEncrypted:       encrypted,
		ContentType:       string(req.ContentType),
		RichTextFormat:    req.RichTextFormat,
	}
	persisted, err := r.store.InsertItem(ctx, row)
	if err != nil {
		return ClipboardItem{}, err
	}
	r.logger.Info("item inserted",
		"op_id", opID, "item_id", persisted.ID,
		"content_type", row.ContentType, "encrypted", encrypted)

	item := rowToItem(persisted)
	item.Content = sanitized
	r.contentCache.Put(item.ID, sanitized)
	return item, nil
}

// InsertRichText persists HTML or Markdown content along with its source
// format label.
func (r *Repository) InsertRichText(ctx context.Context, req InsertRequest) (ClipboardItem, error) {
	if req.ContentType != ContentHTML && req.ContentType != ContentMarkdown {
		return ClipboardItem{}, &ValidationError{Field: "contentType", Message: "Rich text must be HTML or Markdown."}
	}
	if strings.TrimSpace(req.RichTextFormat) == "" {
		req.RichTextFormat = string(req.ContentType)
	}
	return r.Insert(ctx, req)
}

// ProgressFunc receives monotonically increasing progress in [0, 1] during
// a binary insert.
type ProgressFunc func(fraction float64)

// InsertBinaryRequest is an image or file write. Data never travels through
// the content column: it is uploaded to blob storage and the row keeps only
// a retrievable URL.
type InsertBinaryRequest struct {
	UserID            string
	Data              []byte
	ContentType       ContentType
	MimeType          string
	Filename          string
	Width             int
	Height            int
	DeviceType        DeviceType
	DeviceName        string
	TargetDeviceTypes []DeviceType
	Progress          ProgressFunc
}

// InsertImage stores an image payload using the two-phase write.
func (r *Repository) InsertImage(ctx context.Context, req InsertBinaryRequest) (ClipboardItem, error) {
	switch req.ContentType {
	case ContentImagePNG, ContentImageJPEG, ContentImageGIF:
	default:
		return ClipboardItem{}, &ValidationError{Field: "contentType", Message: "Image inserts require an image content type."}
	}
	return r.insertBinary(ctx, req)
}

// InsertFile stores an arbitrary file payload using the two-phase write.
func (r *Repository) InsertFile(ctx context.Context, req InsertBinaryRequest) (ClipboardItem, error) {
	req.ContentType = ContentFile
	if strings.TrimSpace(req.Filename) == "" {
		return ClipboardItem{}, &ValidationError{Field: "filename", Message: "A filename is required for file inserts."}
	}
	return r.insertBinary(ctx, req)
}

// insertBinary runs the two-phase write: a placeholder row to obtain the
// server id, the blob upload keyed by user and item id, then the row update
// with the storage path and content URL. Failures roll the placeholder
// back so a partial write is never visible.
//
// Binary payloads deliberately bypass the encryption engine; end-to-end
// encryption currently covers text and rich text only.
func (r *Repository) insertBinary(ctx context.Context, req InsertBinaryRequest) (ClipboardItem, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.checkOwnership(req.UserID); err != nil {
		return ClipboardItem{}, err
	}
	if len(req.Data) == 0 {
		return ClipboardItem{}, &ValidationError{Field: "data", Message: "Binary content must not be empty."}
	}
	if len(req.Data) > MaxFileBytes {
		return ClipboardItem{}, &ValidationError{Field: "data", Message: "Binary content exceeds the 10 MiB limit."}
	}
	if !req.DeviceType.Valid() {
		return ClipboardItem{}, &ValidationError{Field: "deviceType", Message: "Unknown device type: " + string(req.DeviceType) + "."}
	}
	if len(req.DeviceName) > MaxDeviceNameChars {
		return ClipboardItem{}, &ValidationError{Field: "deviceName", Message: "Device name exceeds 255 characters."}
	}
	if err := validateTargets(req.TargetDeviceTypes); err != nil {
		return ClipboardItem{}, err
	}
	if r.blobs == nil {
		return ClipboardItem{}, &RepositoryError{Op: "insert binary", Err: ErrRepository}
	}

	progress := req.Progress
	if progress == nil {
		progress = func(float64) {}
	}
	progress(0)

	opID := uuid.NewString()
	metadata, err := json.Marshal(ItemMetadata{
		Width:            req.Width,
		Height:           req.Height,
		OriginalFilename: req.Filename,
	})
	if err != nil {
		return ClipboardItem{}, &RepositoryError{Op: "encode metadata", Err: err}
	}

	placeholder := ItemRow{
		UserID:            r.userID,
		Content:           "pending:" + path.Base(req.Filename),
		DeviceName:        req.DeviceName,
		DeviceType:        string(req.DeviceType),
		TargetDeviceTypes: deviceTypesToStrings(req.TargetDeviceTypes),
		IsPublic:          false,
		IsEncrypted:       false,
		ContentType:       string(req.ContentType),
		FileSizeBytes:     int64(len(req.Data)),
		MimeType:          req.MimeType,
		Metadata:          string(metadata),
	}
	persisted, err := r.store.InsertItem(ctx, placeholder)
	if err != nil {
		return ClipboardItem{}, err
	}
	progress(0.25)

	storageKey := r.userID + "/" + persisted.ID + "/" + path.Base(req.Filename)
	contentURL, err := r.blobs.Upload(ctx, storageKey, req.Data, req.MimeType)
	if err != nil {
		r.rollbackBinary(persisted.ID, "", opID)
		return ClipboardItem{}, err
	}
	progress(0.75)

	if err := r.store.UpdateStorage(ctx, r.userID, persisted.ID, storageKey, contentURL); err != nil {
		r.rollbackBinary(persisted.ID, storageKey, opID)
		return ClipboardItem{}, err
	}
	progress(0.9)

	persisted.StoragePath = storageKey
	persisted.Content = contentURL
	r.logger.Info("binary item inserted",
		"op_id", opID, "item_id", persisted.ID,
		"content_type", placeholder.ContentType, "bytes", placeholder.FileSizeBytes)
	progress(1.0)
	return rowToItem(persisted), nil
}

// rollbackBinary undoes a half-finished two-phase write. Best effort: the
// server-side retention policy reaps anything we fail to remove here.
func (r *Repository) rollbackBinary(itemID, storageKey, opID string) {
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	if storageKey != "" {
		if err := r.blobs.Delete(ctx, storageKey); err != nil {
			r.logger.Warn("binary rollback: blob delete failed", "op_id", opID, "key", storageKey, "error", err)
		}
	}
	if err := r.store.DeleteItem(ctx, r.userID, itemID); err != nil {
		r.logger.Warn("binary rollback: row delete failed", "op_id", opID, "item_id", itemID, "error", err)
	}
}

// GetHistory fetches up to limit items newest first, decrypting each one.
// A single unreadable item is dropped and logged; it never fails the batch.
func (r *Repository) GetHistory(ctx context.Context, limit int) ([]ClipboardItem, error) {
	limit = clampLimit(limit)
	rows, err := r.store.SelectItems(ctx, r.userID, limit)
	if err != nil {
		return nil, err
	}
	items, err := r.decodeRows(ctx, rows)
	if err != nil {
		return nil, err
	}
	r.refreshCaches(items)
	return items, nil
}

// decodeRows converts and decrypts a fetched batch. Batches at or above the
// parse-offload threshold are decoded on their own goroutine so a large
// window never stalls the caller inline. Cancellation surfaces as an error;
// an empty history and an abandoned fetch must stay distinguishable.
func (r *Repository) decodeRows(ctx context.Context, rows []ItemRow) ([]ClipboardItem, error) {
	if len(rows) < r.parseOffloadItems {
		return r.decodeRowsInline(ctx, rows), nil
	}
	results := make(chan []ClipboardItem, 1)
	go func() {
		results <- r.decodeRowsInline(ctx, rows)
	}()
	select {
	case items := <-results:
		return items, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Repository) decodeRowsInline(ctx context.Context, rows []ItemRow) []ClipboardItem {
	items := make([]ClipboardItem, 0, len(rows))
	for _, row := range rows {
		item, err := r.decodeRow(ctx, row)
		if err != nil {
			r.logger.Warn("dropping unreadable item", "item_id", row.ID, "error", err)
			continue
		}
		items = append(items, item)
	}
	return items
}

func (r *Repository) decodeRow(ctx context.Context, row ItemRow) (ClipboardItem, error) {
	item := rowToItem(row)
	if !row.IsEncrypted {
		return item, nil
	}
	if cached, ok := r.contentCache.Get(row.ID); ok {
		item.Content = cached
		return item, nil
	}
	if r.cipher == nil {
		return ClipboardItem{}, &EncryptionError{Op: "decrypt", Message: "no cipher configured for encrypted item"}
	}
	plain, err := r.cipher.Decrypt(ctx, row.Content)
	if err != nil {
		return ClipboardItem{}, &EncryptionError{Op: "decrypt", Message: "item unreadable", Err: err}
	}
	item.Content = plain
	r.contentCache.Put(row.ID, plain)
	return item, nil
}

// refreshCaches drops cache entries for items that fell out of the visible
// window so cached plaintext never outlives its source row.
func (r *Repository) refreshCaches(items []ClipboardItem) {
	live := make(map[string]struct{}, len(items))
	for _, item := range items {
		live[item.ID] = struct{}{}
	}
	r.contentCache.InvalidateMissing(live)
	r.detectionCache.InvalidateMissing(live)
}

// Classify returns the cached content classification for an item,
// computing it on first use.
func (r *Repository) Classify(itemID, content string) DetectionResult {
	if itemID != "" {
		if cached, ok := r.detectionCache.Get(itemID); ok {
			return cached
		}
	}
	result := Classify(content)
	if itemID != "" {
		r.detectionCache.Put(itemID, result)
	}
	return result
}

// DetectSensitive runs the sensitive-data detector, offloading large
// payloads so the caller is never blocked past a frame budget. Cancellation
// is an error, never a "not sensitive" verdict.
func (r *Repository) DetectSensitive(ctx context.Context, content string) (SensitivityResult, error) {
	select {
	case result := <-r.detector.DetectAsync(ctx, content):
		return result, nil
	case <-ctx.Done():
		return SensitivityResult{}, ctx.Err()
	}
}

// SearchHistory is a case-insensitive substring match over the locally
// fetched window: content, device name, and mime type. It never queries
// the server beyond the ordinary history fetch.
func (r *Repository) SearchHistory(ctx context.Context, query string, limit int) ([]ClipboardItem, error) {
	items, err := r.GetHistory(ctx, limit)
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return items, nil
	}
	matched := items[:0]
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.Content), query) ||
			strings.Contains(strings.ToLower(item.DeviceName), query) ||
			strings.Contains(strings.ToLower(item.MimeType), query) {
			matched = append(matched, item)
		}
	}
	return matched, nil
}

// Delete removes a single item owned by the session user.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: "id", Message: "Item id is required."}
	}
	return r.store.DeleteItem(ctx, r.userID, id)
}

// CleanupOldItems trims the user's stored history to the keepCount newest
// items in one batched request.
func (r *Repository) CleanupOldItems(ctx context.Context, keepCount int) (int64, error) {
	if keepCount < 0 {
		return 0, &ValidationError{Field: "keepCount", Message: "Keep count must not be negative."}
	}
	removed, err := r.store.DeleteAllButNewest(ctx, r.userID, keepCount)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		r.logger.Info("history trimmed", "removed", removed, "kept", keepCount)
	}
	return removed, nil
}

// FlushCaches drops all decrypted plaintext and detection results. Wired to
// memory-pressure signals and backgrounding so plaintext does not linger
// while the app is idle.
func (r *Repository) FlushCaches() {
	r.contentCache.Clear()
	r.detectionCache.Clear()
}

// CacheSizes reports current cache occupancy, mostly for diagnostics.
func (r *Repository) CacheSizes() (content, detection int) {
	return r.contentCache.Len(), r.detectionCache.Len()
}

func (r *Repository) validateTextRequest(req *InsertRequest) (string, error) {
	if err := r.checkOwnership(req.UserID); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Content) == "" {
		return "", &ValidationError{Field: "content", Message: "Content must not be empty."}
	}
	sanitized := sanitizeContent(req.Content)
	if sanitized == "" {
		return "", &ValidationError{Field: "content", Message: "Content must not be empty."}
	}
	if len(sanitized) > MaxContentBytes {
		return "", &ValidationError{Field: "content", Message: "Content exceeds the 100 KiB limit."}
	}
	if !req.DeviceType.Valid() {
		return "", &ValidationError{Field: "deviceType", Message: "Unknown device type: " + string(req.DeviceType) + "."}
	}
	if len(req.DeviceName) > MaxDeviceNameChars {
		return "", &ValidationError{Field: "deviceName", Message: "Device name exceeds 255 characters."}
	}
	if !req.ContentType.Valid() || req.ContentType.IsBinary() {
		return "", &ValidationError{Field: "contentType", Message: "Text inserts require a textual content type."}
	}
	if err := validateTargets(req.TargetDeviceTypes); err != nil {
		return "", err
	}
	return sanitized, nil
}

// checkOwnership is defense in depth against cross-user writes; the remote
// store enforces row-level ownership regardless.
func (r *Repository) checkOwnership(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return &ValidationError{Field: "userId", Message: "User id is required."}
	}
	if userID != r.userID {
		return &SecurityError{Message: "Cannot write items for another user."}
	}
	return nil
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

func deviceTypesToStrings(targets []DeviceType) []string {
	if targets == nil {
		return nil
	}
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = string(t)
	}
	return out
}

func rowToItem(row ItemRow) ClipboardItem {
	item := ClipboardItem{
		ID:             row.ID,
		UserID:         row.UserID,
		Content:        row.Content,
		ContentType:    ContentType(row.ContentType),
		RichTextFormat: row.RichTextFormat,
		MimeType:       row.MimeType,
		FileSizeBytes:  row.FileSizeBytes,
		StoragePath:    row.StoragePath,
		DeviceType:     DeviceType(row.DeviceType),
		DeviceName:     row.DeviceName,
		IsEncrypted:    row.IsEncrypted,
		IsPublic:       row.IsPublic,
		CreatedAt:      row.CreatedAt,
	}
	if row.TargetDeviceTypes != nil {
		targets := make([]DeviceType, len(row.TargetDeviceTypes))
		for i, t := range row.TargetDeviceTypes {
			targets[i] = DeviceType(t)
		}
		item.TargetDeviceTypes = targets
	}
	if strings.TrimSpace(row.Metadata) != "" {
		var metadata ItemMetadata
		if err := json.Unmarshal([]byte(row.Metadata), &metadata); err == nil {
			item.Metadata = &metadata
		}
	}
	return item
}
