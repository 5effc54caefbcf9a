package clipsync

import "sync"

// GameModeQueueCapacity bounds the suppressed-item queue. Beyond it the
// oldest entry is evicted, so the most recent items are always retained.
const GameModeQueueCapacity = 50

// FlushFunc receives suppressed items in arrival order when game mode
// deactivates.
type FlushFunc func(item ClipboardItem)

// StateObserver is notified on every Active/Inactive transition, in order.
type StateObserver func(active bool)

// GameModeQueue intercepts incoming items while game mode is active and
// replays them FIFO when it deactivates. While inactive, Enqueue is a
// no-op: the caller is expected to surface the item immediately instead.
type GameModeQueue struct {
	mu        sync.Mutex
	active    bool
	capacity  int
	items     []ClipboardItem
	onFlush   FlushFunc
	observers []StateObserver
}

func NewGameModeQueue() *GameModeQueue {
	return &GameModeQueue{capacity: GameModeQueueCapacity}
}

// OnFlush registers the callback that deactivation replays the queue
// through. A nil callback means deactivation simply discards the queue.
func (q *GameModeQueue) OnFlush(fn FlushFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onFlush = fn
}

// Observe registers an observer for state transitions. Every observer sees
// every transition in the order it occurred.
func (q *GameModeQueue) Observe(fn StateObserver) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observers = append(q.observers, fn)
}

func (q *GameModeQueue) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Toggle flips between Inactive and Active. Deactivation flushes the whole
// queue through the registered callback in FIFO order before returning.
func (q *GameModeQueue) Toggle() bool {
	q.mu.Lock()
	q.active = !q.active
	active := q.active
	var flush FlushFunc
	var drained []ClipboardItem
	if !active {
		flush = q.onFlush
		drained = q.items
		q.items = nil
	}
	observers := append([]StateObserver(nil), q.observers...)
	q.mu.Unlock()

	if flush != nil {
		for _, item := range drained {
			flush(item)
		}
	}
	for _, observer := range observers {
		observer(active)
	}
	return active
}

// Enqueue queues item while active, evicting the oldest entry at capacity.
// It reports whether the item was queued.
func (q *GameModeQueue) Enqueue(item ClipboardItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.active {
		return false
	}
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
	}
	q.items = append(q.items, item)
	return true
}

// FlushQueue returns and clears the queued items in FIFO order. A second
// consecutive call returns nothing.
func (q *GameModeQueue) FlushQueue() []ClipboardItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.items
	q.items = nil
	return drained
}

func (q *GameModeQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
