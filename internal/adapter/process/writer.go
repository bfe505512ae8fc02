package process

import (
	"sync"
)

const truncatedNotice = "[output truncated]\n"

// tailBuffer keeps the last max bytes written to it. A max of zero keeps
// everything.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if b.max > 0 && len(b.buf) > b.max {
		b.buf = append(b.buf[:0], b.buf[len(b.buf)-b.max:]...)
		b.truncated = true
	}
	return len(p), nil
}

func (b *tailBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.truncated {
		return string(b.buf)
	}
	return truncatedNotice + string(b.buf)
}

// Tail returns at most max bytes from the end of s, marking the cut.
func Tail(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return truncatedNotice + s[len(s)-max:]
}
