package tdm

import (
	"sync"

	"github.com/teslashibe/go-thymio/pkg/thymio"
)

type event struct {
	node *Node
	vars thymio.Variables
}

// eventQueue is an unbounded FIFO drained by a single goroutine.
type eventQueue struct {
	mu    sync.Mutex
	queue []event
	wake  chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

func (q *eventQueue) push(e event) {
	q.mu.Lock()
	q.queue = append(q.queue, e)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pop() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return event{}, false
	}
	e := q.queue[0]
	q.queue[0] = event{}
	q.queue = q.queue[1:]
	return e, true
}

// run delivers events in order until done is closed.
func (q *eventQueue) run(done <-chan struct{}) {
	for {
		select {
		case <-q.wake:
		case <-done:
			return
		}
		for {
			e, ok := q.pop()
			if !ok {
				break
			}
			e.node.deliver(e.vars)
		}
	}
}
