package dialog

import "sync"

// queue is an unbounded FIFO between one producer and one consumer channel.
// Push never blocks on the consumer. Close lets the consumer drain what is
// pending before its channel closes; Discard drops it instead.
type queue[T any] struct {
	in   chan T
	out  chan T
	stop chan struct{}
	once sync.Once
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{
		in:   make(chan T),
		out:  make(chan T),
		stop: make(chan struct{}),
	}
	go q.pump()
	return q
}

func (q *queue[T]) Push(v T) {
	select {
	case q.in <- v:
	case <-q.stop:
	}
}

// Discard drops pending values and closes the consumer channel without
// waiting for it to be read.
func (q *queue[T]) Discard() {
	q.once.Do(func() { close(q.stop) })
}

func (q *queue[T]) Close() {
	close(q.in)
}

func (q *queue[T]) C() <-chan T {
	return q.out
}

func (q *queue[T]) pump() {
	defer close(q.out)

	var pending []T
	in := q.in
	for in != nil || len(pending) > 0 {
		select {
		case <-q.stop:
			return
		default:
		}

		var (
			out  chan T
			next T
		)
		if len(pending) > 0 {
			out = q.out
			next = pending[0]
		}

		select {
		case v, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			pending = append(pending, v)
		case out <- next:
			var zero T
			pending[0] = zero
			pending = pending[1:]
		case <-q.stop:
			return
		}
	}
}
