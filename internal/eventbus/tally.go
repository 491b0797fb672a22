package eventbus

import (
	"sync"
	"time"
)

// Tally counts events per topic and remembers when the last one arrived.
type Tally struct {
	mu     sync.Mutex
	counts map[Topic]uint64
	last   time.Time
}

func NewTally() *Tally {
	return &Tally{counts: map[Topic]uint64{}}
}

func (t *Tally) Observe(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[e.Topic]++
	if e.Time.After(t.last) {
		t.last = e.Time
	}
}

// Snapshot returns the per-topic counts and the last event time, zero when
// nothing was seen.
func (t *Tally) Snapshot() (map[string]uint64, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]uint64, len(t.counts))
	for k, n := range t.counts {
		out[string(k)] = n
	}
	return out, t.last
}
