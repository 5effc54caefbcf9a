package clipsync

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process RemoteStore, BlobStore, and ChangeFeed in
// one. It backs the "memory" backend profile and the package tests, and
// mirrors the hosted service's observable behavior: server-assigned ids
// and timestamps, owner-scoped queries, and a change event per mutation.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []ItemRow
	blobs  map[string][]byte

	subMu  sync.Mutex
	subs   map[int]chan ChangeEvent
	nextSb int
	closed bool

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
		subs:  make(map[int]chan ChangeEvent),
		now:   time.Now,
	}
}

func (s *MemoryStore) InsertItem(ctx context.Context, row ItemRow) (ItemRow, error) {
	if err := ctx.Err(); err != nil {
		return ItemRow{}, err
	}
	s.mu.Lock()
	s.nextID++
	row.ID = fmt.Sprintf("item_%d", s.nextID)
	row.CreatedAt = s.now()
	s.rows = append(s.rows, row)
	s.mu.Unlock()

	s.broadcast(ChangeEvent{UserID: row.UserID, Kind: "insert", ItemID: row.ID, OccurredAt: row.CreatedAt})
	return row, nil
}

func (s *MemoryStore) SelectItems(ctx context.Context, userID string, limit int) ([]ItemRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]ItemRow, 0, limit)
	for _, row := range s.rows {
		if row.UserID == userID {
			matched = append(matched, row)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return newerRow(matched[i], matched[j])
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// newerRow orders rows newest first and breaks created_at ties on id,
// matching the SQL backend's "ORDER BY created_at DESC, id DESC". Generated
// ids carry a monotonic counter in their numeric suffix, so ties between
// them compare numerically; foreign ids fall back to a byte-wise compare.
func newerRow(a, b ItemRow) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	aSeq, aOK := itemSeq(a.ID)
	bSeq, bOK := itemSeq(b.ID)
	if aOK && bOK {
		return aSeq > bSeq
	}
	return a.ID > b.ID
}

func itemSeq(id string) (int64, bool) {
	rest, found := strings.CutPrefix(id, "item_")
	if !found {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	return n, err == nil
}

func (s *MemoryStore) UpdateStorage(ctx context.Context, userID, id, storagePath, contentURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	for i := range s.rows {
		if s.rows[i].ID == id && s.rows[i].UserID == userID {
			s.rows[i].StoragePath = storagePath
			s.rows[i].Content = contentURL
			s.mu.Unlock()
			s.broadcast(ChangeEvent{UserID: userID, Kind: "update", ItemID: id, OccurredAt: s.now()})
			return nil
		}
	}
	s.mu.Unlock()
	return ErrNotFound
}

func (s *MemoryStore) DeleteItem(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	for i := range s.rows {
		if s.rows[i].ID == id && s.rows[i].UserID == userID {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			s.mu.Unlock()
			s.broadcast(ChangeEvent{UserID: userID, Kind: "delete", ItemID: id, OccurredAt: s.now()})
			return nil
		}
	}
	s.mu.Unlock()
	return ErrNotFound
}

func (s *MemoryStore) DeleteAllButNewest(ctx context.Context, userID string, keep int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	s.mu.Lock()
	owned := make([]int, 0)
	for i, row := range s.rows {
		if row.UserID == userID {
			owned = append(owned, i)
		}
	}
	sort.SliceStable(owned, func(i, j int) bool {
		return newerRow(s.rows[owned[i]], s.rows[owned[j]])
	})
	if len(owned) <= keep {
		s.mu.Unlock()
		return 0, nil
	}
	drop := make(map[int]struct{}, len(owned)-keep)
	for _, idx := range owned[keep:] {
		drop[idx] = struct{}{}
	}
	kept := s.rows[:0]
	for i, row := range s.rows {
		if _, gone := drop[i]; !gone {
			kept = append(kept, row)
		}
	}
	removed := int64(len(drop))
	s.rows = kept
	s.mu.Unlock()

	s.broadcast(ChangeEvent{UserID: userID, Kind: "cleanup", OccurredAt: s.now()})
	return removed, nil
}

func (s *MemoryStore) Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	_ = mimeType
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), data...)
	return "memory://" + key, nil
}

func (s *MemoryStore) Download(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, userID string) (<-chan ChangeEvent, error) {
	s.subMu.Lock()
	if s.closed {
		s.subMu.Unlock()
		return nil, ErrClosed
	}
	id := s.nextSb
	s.nextSb++
	events := make(chan ChangeEvent, 16)
	s.subs[id] = events
	s.subMu.Unlock()

	out := make(chan ChangeEvent, 16)
	go func() {
		defer func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(out)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				if event.UserID != userID && event.UserID != "" {
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *MemoryStore) broadcast(event ChangeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, events := range s.subs {
		select {
		case events <- event:
		default:
		}
	}
}

func (s *MemoryStore) Close() error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, events := range s.subs {
		close(events)
		delete(s.subs, id)
	}
	return nil
}

// SeedRow inserts a row directly, bypassing validation. Test helper for
// building remote histories; content is stored as given.
func (s *MemoryStore) SeedRow(row ItemRow) ItemRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	if row.ID == "" {
		row.ID = fmt.Sprintf("item_%d", s.nextID)
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now().Add(time.Duration(s.nextID) * time.Millisecond)
	}
	s.rows = append(s.rows, row)
	return row
}

// rowCountForUser is a test helper.
func (s *MemoryStore) rowCountForUser(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, row := range s.rows {
		if strings.EqualFold(row.UserID, userID) {
			count++
		}
	}
	return count
}
