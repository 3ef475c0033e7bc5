package pipeline

import "github.com/kikiluvv/videomatte/internal/video"

// reorderBuffer releases frames strictly by index. Workers finish out of
// order; the window bounds how many frames can wait here.
type reorderBuffer struct {
	next    int
	pending map[int]*video.Frame
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{pending: make(map[int]*video.Frame)}
}

// push stores f and returns every frame that is now in sequence.
func (b *reorderBuffer) push(f *video.Frame) []*video.Frame {
	b.pending[f.Index] = f

	var ready []*video.Frame
	for {
		next, ok := b.pending[b.next]
		if !ok {
			return ready
		}
		delete(b.pending, b.next)
		ready = append(ready, next)
		b.next++
	}
}

func (b *reorderBuffer) waiting() int { return len(b.pending) }
