package clipsync

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	feedBaseBackoff = 250 * time.Millisecond
	feedMaxBackoff  = 10 * time.Second
	feedReadTimeout = 60 * time.Second
)

type subscribeFrame struct {
	Action string `json:"action"`
	Table  string `json:"table"`
	UserID string `json:"user_id"`
	Token  string `json:"token,omitempty"`
}

type feedFrame struct {
	Type  string      `json:"type"`
	Event ChangeEvent `json:"event"`
}

// RealtimeFeed subscribes to the hosted store's change-data-capture stream
// over a websocket. Connection drops are retried with capped backoff; the
// event channel stays open across reconnects so consumers only observe a
// gap, never a teardown.
type RealtimeFeed struct {
	url    string
	token  string
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

func NewRealtimeFeed(url, token string, logger *slog.Logger) (*RealtimeFeed, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, &ValidationError{Field: "url", Message: "Realtime feed URL is required."}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RealtimeFeed{url: url, token: token, logger: logger}, nil
}

func (f *RealtimeFeed) Subscribe(ctx context.Context, userID string) (<-chan ChangeEvent, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &ValidationError{Field: "userId", Message: "User id is required."}
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.mu.Unlock()

	events := make(chan ChangeEvent, 16)
	go f.run(ctx, userID, events)
	return events, nil
}

func (f *RealtimeFeed) run(ctx context.Context, userID string, events chan<- ChangeEvent) {
	defer close(events)
	backoff := feedBaseBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		err := f.stream(ctx, userID, events)
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn("realtime feed disconnected", "error", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > feedMaxBackoff {
			backoff = feedMaxBackoff
		}
	}
}

// stream holds one websocket session: subscribe, then relay frames until
// the connection fails or ctx ends.
func (f *RealtimeFeed) stream(ctx context.Context, userID string, events chan<- ChangeEvent) error {
	conn, _, err := websocket.Dial(ctx, f.url, nil)
	if err != nil {
		return &NetworkError{Op: "feed dial", Err: err}
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	frame := subscribeFrame{
		Action: "subscribe",
		Table:  postgresItemsTableName,
		UserID: userID,
		Token:  f.token,
	}
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		return &NetworkError{Op: "feed subscribe", Err: err}
	}
	f.logger.Debug("realtime feed subscribed", "user_id", userID)

	for {
		readCtx, cancel := context.WithTimeout(ctx, feedReadTimeout)
		var incoming feedFrame
		err := wsjson.Read(readCtx, conn, &incoming)
		cancel()
		if err != nil {
			return &NetworkError{Op: "feed read", Err: err}
		}
		switch incoming.Type {
		case "change":
			select {
			case events <- incoming.Event:
			case <-ctx.Done():
				return ctx.Err()
			}
		case "ping":
			if err := wsjson.Write(ctx, conn, map[string]string{"type": "pong"}); err != nil {
				return &NetworkError{Op: "feed pong", Err: err}
			}
		default:
			// Unknown frame types are forward-compatibility noise.
		}
	}
}

func (f *RealtimeFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	return nil
}
