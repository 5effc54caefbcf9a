package clipsync

import (
	"context"
	"sync"
)

// HistorySubscription is a live, newest-first view of the user's history.
// Every remote change re-delivers the entire current window rather than a
// diff, so consumers always replace their local list and never patch it.
//
// Pause suppresses local delivery while keeping the server-side
// subscription alive; Resume re-delivers a fresh snapshot so nothing
// observed during the pause is lost. HistorySubscription satisfies
// Pausable and can be registered with a SleepController.
type HistorySubscription struct {
	repo  *Repository
	limit int

	snapshots chan []ClipboardItem
	kick      chan struct{}
	cancel    context.CancelFunc

	mu     sync.Mutex
	paused bool
	closed bool
}

// WatchHistory opens a live subscription delivering up to limit items per
// snapshot. The first snapshot is delivered without waiting for a remote
// change.
func (r *Repository) WatchHistory(ctx context.Context, limit int) (*HistorySubscription, error) {
	if r.feed == nil {
		return nil, &RepositoryError{Op: "watch", Err: ErrRepository}
	}
	limit = clampLimit(limit)

	ctx, cancel := context.WithCancel(ctx)
	events, err := r.feed.Subscribe(ctx, r.userID)
	if err != nil {
		cancel()
		return nil, err
	}
	sub := &HistorySubscription{
		repo:      r,
		limit:     limit,
		snapshots: make(chan []ClipboardItem, 1),
		kick:      make(chan struct{}, 1),
		cancel:    cancel,
	}
	go sub.run(ctx, events)
	return sub, nil
}

// Snapshots delivers full history windows, newest first. Only the latest
// snapshot is retained if the consumer lags; intermediate windows are
// superseded, which matches the "latest known server state" guarantee.
func (s *HistorySubscription) Snapshots() <-chan []ClipboardItem {
	return s.snapshots
}

func (s *HistorySubscription) run(ctx context.Context, events <-chan ChangeEvent) {
	defer close(s.snapshots)

	s.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			s.refresh(ctx)
		case <-s.kick:
			s.refresh(ctx)
		}
	}
}

func (s *HistorySubscription) refresh(ctx context.Context) {
	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()
	if paused {
		return
	}
	items, err := s.repo.GetHistory(ctx, s.limit)
	if err != nil {
		s.repo.logger.Warn("history refresh failed", "error", err)
		return
	}
	// Replace any undelivered snapshot; only the producer goroutine
	// touches the channel, so the drain cannot race another send.
	select {
	case s.snapshots <- items:
	default:
		select {
		case <-s.snapshots:
		default:
		}
		select {
		case s.snapshots <- items:
		case <-ctx.Done():
		}
	}
}

// Pause suppresses snapshot delivery without tearing down the server-side
// subscription. Idempotent.
func (s *HistorySubscription) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume re-enables delivery and schedules an immediate refresh so changes
// that arrived during the pause are reflected. Idempotent.
func (s *HistorySubscription) Resume() {
	s.mu.Lock()
	wasPaused := s.paused
	s.paused = false
	closed := s.closed
	s.mu.Unlock()
	if !wasPaused || closed {
		return
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// SnapshotTracker diffs consecutive full-window snapshots. Because every
// change re-delivers the whole window, a consumer that only cares about
// newly appeared items (game mode, notifications) must diff against the
// previous window's ids or it will re-process the same items on every
// delivery.
//
// Not safe for concurrent use; each subscription consumer owns one.
type SnapshotTracker struct {
	seen map[string]struct{}
}

func NewSnapshotTracker() *SnapshotTracker {
	return &SnapshotTracker{seen: make(map[string]struct{})}
}

// Fresh returns the items absent from the previous snapshot, in delivery
// order, and remembers the current window's ids for the next call.
func (t *SnapshotTracker) Fresh(items []ClipboardItem) []ClipboardItem {
	next := make(map[string]struct{}, len(items))
	var fresh []ClipboardItem
	for _, item := range items {
		next[item.ID] = struct{}{}
		if _, ok := t.seen[item.ID]; !ok {
			fresh = append(fresh, item)
		}
	}
	t.seen = next
	return fresh
}

// Close tears down the subscription. The snapshot channel is closed once
// the worker drains.
func (s *HistorySubscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}
