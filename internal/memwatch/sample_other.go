//go:build !linux

package memwatch

// Memory pressure sampling is only implemented for Linux hosts; elsewhere
// the watcher stays silent and flushes are driven by lifecycle events.
func sampleAvailableMemory() (float64, bool) {
	return 0, false
}
