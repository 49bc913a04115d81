package thymio

import (
	"log/slog"
	"sync"
)

// Callback is invoked with the node and the batch that satisfied a subscription.
// Each callback gets its own copy of the batch.
type Callback func(node Node, vars Variables)

// Subscription pairs a callback with the variables it requires.
type Subscription struct {
	callback Callback
	keys     []string

	// worker is set in isolated mode.
	worker *subscriptionWorker
}

// Keys returns the variable names the subscription requires.
func (s *Subscription) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// matches reports whether every required key is present in the batch.
// An empty key set matches every batch.
func (s *Subscription) matches(batch Variables) bool {
	return batch.Has(s.keys...)
}

// RouterConfig controls how batches reach subscriptions.
type RouterConfig struct {
	// Fahrenheit converts "temperature" from Celsius before dispatch.
	Fahrenheit bool

	// Isolated runs each subscription on its own goroutine with a FIFO
	// queue. A slow callback then delays only its own later batches.
	// When false, callbacks run inline and in registration order.
	Isolated bool

	Logger *slog.Logger
}

// Router dispatches variable batches from the locked node to subscriptions.
type Router struct {
	node   Node
	cfg    RouterConfig
	logger *slog.Logger

	mu     sync.RWMutex
	subs   []*Subscription
	closed bool
}

// NewRouter creates a router that only accepts batches from node.
func NewRouter(node Node, cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		node:   node,
		cfg:    cfg,
		logger: logger.With("component", "router"),
	}
}

// Register appends a subscription. It never rejects or deduplicates.
func (r *Router) Register(cb Callback, keys ...string) *Subscription {
	sub := &Subscription{
		callback: cb,
		keys:     append([]string(nil), keys...),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.Isolated && !r.closed {
		sub.worker = newSubscriptionWorker(sub.callback)
	}
	r.subs = append(r.subs, sub)
	return sub
}

// Len returns the number of registered subscriptions.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Dispatch delivers a batch to every subscription whose keys it contains.
// Batches from any node other than the router's node are ignored. The
// batch passed in is never modified.
func (r *Router) Dispatch(src Node, batch Variables) {
	if src == nil || r.node == nil || src.ID() != r.node.ID() {
		r.logger.Debug("ignoring batch from foreign node")
		return
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	// Snapshot so Register can append while callbacks run.
	subs := r.subs[:len(r.subs):len(r.subs)]
	r.mu.RUnlock()

	vars := r.convert(batch)

	for _, sub := range subs {
		if !sub.matches(vars) {
			continue
		}
		if sub.worker != nil {
			sub.worker.enqueue(src, vars.Clone())
			continue
		}
		sub.callback(src, vars.Clone())
	}
}

// convert returns a copy of batch with unit conversion applied.
func (r *Router) convert(batch Variables) Variables {
	vars := batch.Clone()
	if !r.cfg.Fahrenheit {
		return vars
	}
	if temps, ok := vars[VarTemperature]; ok {
		for i, c := range temps {
			temps[i] = CelsiusToFahrenheit(c)
		}
	}
	return vars
}

// Close stops isolated workers and drops their pending batches. It does not
// wait for a callback that is already running, so it may be called from
// inside one. Later batches are ignored.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := r.subs
	r.mu.Unlock()

	for _, sub := range subs {
		if sub.worker != nil {
			sub.worker.stop()
		}
	}
}

// CelsiusToFahrenheit converts a temperature.
func CelsiusToFahrenheit(celsius float64) float64 {
	return celsius*9/5 + 32
}

type delivery struct {
	node Node
	vars Variables
}

// subscriptionWorker runs one callback on its own goroutine, in FIFO order.
type subscriptionWorker struct {
	callback Callback

	mu      sync.Mutex
	queue   []delivery
	stopped bool

	wake chan struct{}
}

func newSubscriptionWorker(cb Callback) *subscriptionWorker {
	w := &subscriptionWorker{
		callback: cb,
		wake:     make(chan struct{}, 1),
	}
	go w.run()
	return w
}

func (w *subscriptionWorker) enqueue(node Node, vars Variables) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.queue = append(w.queue, delivery{node: node, vars: vars})

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *subscriptionWorker) run() {
	for range w.wake {
		for {
			w.mu.Lock()
			if w.stopped {
				w.mu.Unlock()
				return
			}
			if len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			d := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()

			w.callback(d.node, d.vars)
		}
	}
}

// stop drops queued deliveries and lets the goroutine exit once the
// current callback, if any, returns.
func (w *subscriptionWorker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	w.queue = nil
	close(w.wake)
}
