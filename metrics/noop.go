package metrics

import (
	"sync"
	"time"
)

type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}

// CountingRecorder keeps event counts in memory; handy in tests and for
// the CLI summary.
type CountingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewCountingRecorder() *CountingRecorder {
	return &CountingRecorder{counts: make(map[string]int)}
}

func (c *CountingRecorder) IncCounter(name string, _ map[string]string) {
	c.mu.Lock()
	c.counts[name]++
	c.mu.Unlock()
}

func (c *CountingRecorder) ObserveLatency(string, time.Duration, map[string]string) {}

// Count returns how many times name was recorded.
func (c *CountingRecorder) Count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}
