//go:build linux

package memwatch

import "golang.org/x/sys/unix"

// sampleAvailableMemory reads free+buffered memory from sysinfo(2). This
// undercounts reclaimable page cache, which errs on the side of flushing
// slightly early.
func sampleAvailableMemory() (float64, bool) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, false
	}
	total := uint64(info.Totalram) * uint64(info.Unit)
	if total == 0 {
		return 0, false
	}
	avail := (uint64(info.Freeram) + uint64(info.Bufferram)) * uint64(info.Unit)
	return float64(avail) / float64(total), true
}
