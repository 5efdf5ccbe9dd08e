package credits

import "sync"

// Tracker counts characters sent to the speech API during this process.
type Tracker struct {
	mu   sync.Mutex
	used int
}

func New() *Tracker { return &Tracker{} }

func (t *Tracker) Increment(n int) {
	t.mu.Lock()
	t.used += n
	t.mu.Unlock()
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	t.used = 0
	t.mu.Unlock()
}

func (t *Tracker) Used() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}
