package stream

// DefaultMaxWaiters bounds the pending waiters per session.
const DefaultMaxWaiters = 50

// waiter is a single-use delivery slot. A Frame is sent at most once; a closed
// channel without a value means "no frame".
type waiter struct {
	ch chan Frame
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan Frame, 1)}
}

func (w *waiter) deliver(f Frame) {
	select {
	case w.ch <- f:
	default:
	}
	close(w.ch)
}

func (w *waiter) abandon() { close(w.ch) }

// waiterQueue is a bounded FIFO of pending waiters. The owner must hold the
// session lock while calling its methods.
type waiterQueue struct {
	max  int
	list []*waiter
}

func newWaiterQueue(max int) *waiterQueue {
	if max <= 0 {
		max = DefaultMaxWaiters
	}
	return &waiterQueue{max: max}
}

// add enqueues w and returns the waiter evicted to make room, if any.
func (q *waiterQueue) add(w *waiter) (evicted *waiter) {
	if len(q.list) >= q.max {
		evicted = q.list[0]
		q.list[0] = nil
		q.list = q.list[1:]
	}
	q.list = append(q.list, w)
	return evicted
}

// remove drops w if it is still pending and reports whether it was found.
func (q *waiterQueue) remove(w *waiter) bool {
	for i, x := range q.list {
		if x == w {
			q.list = append(q.list[:i], q.list[i+1:]...)
			return true
		}
	}
	return false
}

// drain empties the queue and returns its previous content.
func (q *waiterQueue) drain() []*waiter {
	out := q.list
	q.list = nil
	return out
}

func (q *waiterQueue) len() int { return len(q.list) }
