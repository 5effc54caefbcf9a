// Package httpapi exposes the daemon's local control surface: history reads,
// inserts, content inspection, game-mode and sleep toggles, and cache
// maintenance. It is meant to listen on loopback only and authenticates
// every request with a static bearer token.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ghostcopy/clipsync/internal/clipsync"
)

type ServerConfig struct {
	// AuthToken guards every /v1 route. Empty disables the API entirely.
	AuthToken       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

// ServerOptions wires the server to the daemon's collaborators. Repo is
// required; nil Games or Sleep disables the corresponding routes.
type ServerOptions struct {
	Repo   *clipsync.Repository
	Games  *clipsync.GameModeQueue
	Sleep  *clipsync.SleepController
	Logger *slog.Logger

	// DeviceType and DeviceName stamp items inserted through the API with
	// the daemon's own provenance.
	UserID     string
	DeviceType clipsync.DeviceType
	DeviceName string
}

type Server struct {
	opts        ServerOptions
	cfg         ServerConfig
	rateLimiter *rateLimiter
	logger      *slog.Logger
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(opts ServerOptions, cfg ServerConfig) *Server {
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{opts: opts, cfg: cfg, rateLimiter: limiter, logger: opts.Logger}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if r.URL.Path == "/dashboard" && r.Method == http.MethodGet {
		s.handleDashboard(w, r)
		return
	}

	if authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.AuthToken); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}
	if s.rateLimiter != nil {
		key := clientKey(r)
		if !s.rateLimiter.allow(key, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "items" && r.Method == http.MethodGet:
		s.handleListItems(w, r)
	case len(parts) == 2 && parts[1] == "items" && r.Method == http.MethodPost:
		s.handleInsertItem(w, r)
	case len(parts) == 3 && parts[1] == "items" && parts[2] == "cleanup" && r.Method == http.MethodPost:
		s.handleCleanup(w, r)
	case len(parts) == 3 && parts[1] == "items" && r.Method == http.MethodDelete:
		s.handleDeleteItem(w, r, parts[2])
	case len(parts) == 2 && parts[1] == "inspect" && r.Method == http.MethodPost:
		s.handleInspect(w, r)
	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodGet:
		s.handleStatus(w, r)
	case len(parts) == 2 && parts[1] == "game-mode" && r.Method == http.MethodPost:
		s.handleGameModeToggle(w, r)
	case len(parts) == 2 && parts[1] == "sleep" && r.Method == http.MethodPost:
		s.handleSleep(w, r)
	case len(parts) == 3 && parts[1] == "caches" && parts[2] == "flush" && r.Method == http.MethodPost:
		s.handleFlushCaches(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

type itemResponse struct {
	ID                string                 `json:"id"`
	Content           string                 `json:"content"`
	ContentType       string                 `json:"contentType"`
	RichTextFormat    string                 `json:"richTextFormat,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	FileSizeBytes     int64                  `json:"fileSizeBytes,omitempty"`
	DeviceType        string                 `json:"deviceType"`
	DeviceName        string                 `json:"deviceName,omitempty"`
	TargetDeviceTypes []string               `json:"targetDeviceTypes,omitempty"`
	IsEncrypted       bool                   `json:"isEncrypted"`
	CreatedAt         time.Time              `json:"createdAt"`
	Metadata          *clipsync.ItemMetadata `json:"metadata,omitempty"`
}

func toItemResponse(item clipsync.ClipboardItem) itemResponse {
	resp := itemResponse{
		ID:             item.ID,
		Content:        item.Content,
		ContentType:    string(item.ContentType),
		RichTextFormat: item.RichTextFormat,
		MimeType:       item.MimeType,
		FileSizeBytes:  item.FileSizeBytes,
		DeviceType:     string(item.DeviceType),
		DeviceName:     item.DeviceName,
		IsEncrypted:    item.IsEncrypted,
		CreatedAt:      item.CreatedAt,
		Metadata:       item.Metadata,
	}
	for _, t := range item.TargetDeviceTypes {
		resp.TargetDeviceTypes = append(resp.TargetDeviceTypes, string(t))
	}
	return resp
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	limit := parseBoundedInt(r.URL.Query().Get("limit"), clipsync.DefaultHistoryLimit, 1, clipsync.MaxHistoryLimit)
	query := r.URL.Query().Get("q")

	var items []clipsync.ClipboardItem
	var err error
	if query != "" {
		items, err = s.opts.Repo.SearchHistory(r.Context(), query, limit)
	} else {
		items, err = s.opts.Repo.GetHistory(r.Context(), limit)
	}
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	responses := make([]itemResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, toItemResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": responses})
}

func (s *Server) handleInsertItem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content           string   `json:"content"`
		ContentType       string   `json:"contentType"`
		RichTextFormat    string   `json:"richTextFormat"`
		DeviceName        string   `json:"deviceName"`
		TargetDeviceTypes []string `json:"targetDeviceTypes"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}

	req := clipsync.InsertRequest{
		UserID:         s.opts.UserID,
		Content:        body.Content,
		ContentType:    clipsync.ContentType(body.ContentType),
		RichTextFormat: body.RichTextFormat,
		DeviceType:     s.opts.DeviceType,
		DeviceName:     body.DeviceName,
	}
	if req.DeviceName == "" {
		req.DeviceName = s.opts.DeviceName
	}
	if body.TargetDeviceTypes != nil {
		targets := make([]clipsync.DeviceType, len(body.TargetDeviceTypes))
		for i, t := range body.TargetDeviceTypes {
			targets[i] = clipsync.DeviceType(t)
		}
		req.TargetDeviceTypes = targets
	}

	// Game mode suppresses item notifications downstream; writes are always
	// durable regardless of its state.
	var item clipsync.ClipboardItem
	var err error
	if req.ContentType == clipsync.ContentHTML || req.ContentType == clipsync.ContentMarkdown {
		item, err = s.opts.Repo.InsertRichText(r.Context(), req)
	} else {
		item, err = s.opts.Repo.Insert(r.Context(), req)
	}
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.opts.Repo.Delete(r.Context(), id); err != nil {
		s.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Keep int `json:"keep"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	removed, err := s.opts.Repo.CleanupOldItems(r.Context(), body.Keep)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed, "kept": body.Keep})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	detection := s.opts.Repo.Classify("", body.Content)
	sensitivity, err := s.opts.Repo.DetectSensitive(r.Context(), body.Content)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":            string(detection.Kind),
		"isTransformable": detection.IsTransformable,
		"isSensitive":     sensitivity.IsSensitive,
		"sensitiveType":   string(sensitivity.Type),
		"reason":          sensitivity.Reason,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	contentCache, detectionCache := s.opts.Repo.CacheSizes()
	status := map[string]any{
		"contentCacheSize":   contentCache,
		"detectionCacheSize": detectionCache,
	}
	if s.opts.Games != nil {
		status["gameModeActive"] = s.opts.Games.Active()
		status["gameModeQueueDepth"] = s.opts.Games.Depth()
	}
	if s.opts.Sleep != nil {
		status["sleeping"] = s.opts.Sleep.Sleeping()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleGameModeToggle(w http.ResponseWriter, r *http.Request) {
	if s.opts.Games == nil {
		writeError(w, http.StatusNotFound, "not_found", "game mode not enabled")
		return
	}
	active := s.opts.Games.Toggle()
	s.logger.Info("game mode toggled", "active", active)
	writeJSON(w, http.StatusOK, map[string]any{"active": active})
}

func (s *Server) handleSleep(w http.ResponseWriter, r *http.Request) {
	if s.opts.Sleep == nil {
		writeError(w, http.StatusNotFound, "not_found", "sleep control not enabled")
		return
	}
	var body struct {
		Sleeping bool `json:"sleeping"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	if body.Sleeping {
		s.opts.Sleep.EnterSleepMode()
	} else {
		s.opts.Sleep.ExitSleepMode()
	}
	writeJSON(w, http.StatusOK, map[string]any{"sleeping": s.opts.Sleep.Sleeping()})
}

func (s *Server) handleFlushCaches(w http.ResponseWriter, r *http.Request) {
	s.opts.Repo.FlushCaches()
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

// writeRepoError maps repository error categories onto HTTP statuses without
// leaking internals: validation and security failures carry their user
// message, everything else gets a generic body.
func (s *Server) writeRepoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, clipsync.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", userMessage(err))
	case errors.Is(err, clipsync.ErrSecurity):
		writeError(w, http.StatusForbidden, "forbidden", userMessage(err))
	case errors.Is(err, clipsync.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "item not found")
	case errors.Is(err, clipsync.ErrEncryption):
		writeError(w, http.StatusConflict, "encryption_failed", userMessage(err))
	default:
		s.logger.Error("control api request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "request failed")
	}
}

func userMessage(err error) string {
	var messenger interface{ UserMessage() string }
	if errors.As(err, &messenger) {
		return messenger.UserMessage()
	}
	return err.Error()
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"code": code, "message": message})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseBoundedInt(raw string, fallback, min, max int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAt) {
		l.entries[key] = rateEntry{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if entry.count >= l.max {
		return false
	}
	entry.count++
	l.entries[key] = entry
	return true
}
