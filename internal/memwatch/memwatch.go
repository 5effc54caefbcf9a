// Package memwatch fires flush callbacks when system memory runs low, so
// bounded caches holding decrypted content can be dropped under pressure.
package memwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultInterval  = 30 * time.Second
	DefaultThreshold = 0.10 // flush below 10% available memory
)

// Watcher polls available system memory and invokes every registered
// callback when the available fraction drops below the threshold. It only
// fires again after the reading recovers, so a sustained low-memory state
// does not hammer the callbacks.
type Watcher struct {
	interval  time.Duration
	threshold float64
	logger    *slog.Logger
	sample    func() (availFraction float64, ok bool)

	mu        sync.Mutex
	callbacks []func()
	fired     bool
}

func NewWatcher(interval time.Duration, threshold float64, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		interval:  interval,
		threshold: threshold,
		logger:    logger,
		sample:    sampleAvailableMemory,
	}
}

// OnPressure registers a callback invoked on each pressure transition.
func (w *Watcher) OnPressure(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	avail, ok := w.sample()
	if !ok {
		return
	}
	w.mu.Lock()
	low := avail < w.threshold
	fire := low && !w.fired
	w.fired = low
	callbacks := append([]func(){}, w.callbacks...)
	w.mu.Unlock()

	if !fire {
		return
	}
	w.logger.Warn("memory pressure detected", "available_fraction", avail)
	for _, fn := range callbacks {
		fn()
	}
}
