package retry

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// LocalPacer is an in-process domain.Pacer that enforces a minimum interval
// between calls per key. It is safe for concurrent use.
type LocalPacer struct {
	interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewLocalPacer creates a pacer with the given minimum interval.
func NewLocalPacer(interval time.Duration) *LocalPacer {
	return &LocalPacer{
		interval: interval,
		last:     make(map[string]time.Time),
	}
}

// Wait blocks until the interval since the previous call for key has
// elapsed, then records the call.
func (p *LocalPacer) Wait(ctx context.Context, key string) error {
	p.mu.Lock()
	now := time.Now()
	wait := p.interval - now.Sub(p.last[key])
	if wait < 0 {
		wait = 0
	}
	p.last[key] = now.Add(wait)
	p.mu.Unlock()

	return sleep(ctx, wait)
}

var _ domain.Pacer = (*LocalPacer)(nil)
