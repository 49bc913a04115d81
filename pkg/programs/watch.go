package programs

import (
	"context"
	"sync"

	"github.com/teslashibe/go-thymio/pkg/thymio"
)

// Watch keeps the latest values of a set of variables.
type Watch struct {
	keys []string

	mu    sync.RWMutex
	vars  thymio.Variables
	ready chan struct{}
	once  sync.Once
}

// NewWatch subscribes to batches containing every key.
func NewWatch(t *thymio.Thymio, keys ...string) *Watch {
	w := &Watch{
		keys:  keys,
		vars:  make(thymio.Variables),
		ready: make(chan struct{}),
	}
	t.RegisterCallback(w.update, keys...)
	return w
}

func (w *Watch) update(_ thymio.Node, vars thymio.Variables) {
	w.mu.Lock()
	for _, k := range w.keys {
		w.vars[k] = vars[k]
	}
	w.mu.Unlock()
	w.once.Do(func() { close(w.ready) })
}

// Wait blocks until the first matching batch arrives.
func (w *Watch) Wait(ctx context.Context) error {
	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns a copy of the latest value of key.
func (w *Watch) Get(key string) []float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]float64(nil), w.vars[key]...)
}
