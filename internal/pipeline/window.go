package pipeline

import (
	"context"

	"github.com/shirou/gopsutil/v4/mem"
)

const (
	defaultWindow = 8
	minWindow     = 2
	// copies of a frame alive at once: decoded, composited, and the
	// encoder's scratch
	copiesPerFrame = 3
)

// availableMemory reports the bytes the OS can hand out without swapping.
func availableMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// sizeWindow shrinks requested until copiesPerFrame × window frames of
// frameBytes fit in available memory, but never below minWindow.
func sizeWindow(requested int, frameBytes, available uint64) int {
	if requested <= 0 {
		requested = defaultWindow
	}
	if frameBytes == 0 || available == 0 {
		return max(requested, minWindow)
	}

	fits := available / (copiesPerFrame * frameBytes)
	if fits < uint64(requested) {
		requested = int(fits)
	}
	return max(requested, minWindow)
}
