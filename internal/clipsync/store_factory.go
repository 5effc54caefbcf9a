package clipsync

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// BuildRemoteStore constructs a RemoteStore from a DSN. An empty DSN and
// the memory schemes select the in-process store, which keeps local runs
// and tests free of external services.
func BuildRemoteStore(dsn string) (RemoteStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryStore(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported remote store scheme: %s", scheme)
	}
}

// BuildBlobStore constructs a BlobStore from a location string of the form
// s3://bucket/prefix. Empty or memory locations select the in-process
// store. The MemoryStore fallback shares blobs with the memory remote
// store only when the same instance is passed; the factory keeps them
// separate on purpose.
func BuildBlobStore(ctx context.Context, location, region string) (BlobStore, error) {
	location = strings.TrimSpace(location)
	if location == "" || location == "memory" {
		return NewMemoryStore(), nil
	}
	if !strings.HasPrefix(location, "s3://") {
		return nil, fmt.Errorf("unsupported blob store location: %s", location)
	}
	trimmed := strings.TrimPrefix(location, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	bucket := parts[0]
	prefix := ""
	if len(parts) > 1 {
		prefix = parts[1]
	}
	return NewS3BlobStore(ctx, bucket, prefix, region)
}

// BuildChangeFeed constructs a ChangeFeed. Websocket URLs select the
// realtime feed; empty selects none (callers treat a nil feed as "watch
// unsupported"). A *MemoryStore may be passed through fallback so local
// profiles get a working feed.
func BuildChangeFeed(feedURL, token string, fallback ChangeFeed, logger *slog.Logger) (ChangeFeed, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return fallback, nil
	}
	if !strings.HasPrefix(feedURL, "ws://") && !strings.HasPrefix(feedURL, "wss://") {
		return nil, fmt.Errorf("unsupported change feed url: %s", feedURL)
	}
	return NewRealtimeFeed(feedURL, token, logger)
}
