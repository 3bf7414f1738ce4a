package subprocess

import (
	"strings"
	"sync"
)

// Tail is an io.Writer keeping only the last Limit bytes written to it.
// Used to capture the tail of a child process's stderr for error messages
// without buffering unbounded diagnostic output.
type Tail struct {
	Limit int

	mu  sync.Mutex
	buf []byte
}

const DefaultTailLimit = 4 * 1024

func NewTail() *Tail {
	return &Tail{Limit: DefaultTailLimit}
}

func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.Limit {
		t.buf = t.buf[len(t.buf)-t.Limit:]
	}
	return len(p), nil
}

func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
