// Package dispatch provides the single-goroutine execution context that each
// client session runs on. Work posted to a Loop runs one item at a time, in
// post order, so the code it runs needs no locking.
package dispatch

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrClosed is returned by Call when the loop has shut down.
var ErrClosed = eris.New("dispatch: loop closed")

// Poster schedules a function on an execution context.
type Poster interface {
	// Post schedules fn and reports whether it was accepted.
	Post(fn func()) bool
}

// Inline runs posted functions immediately on the caller's goroutine.
type Inline struct{}

// Post runs fn synchronously.
func (Inline) Post(fn func()) bool {
	fn()
	return true
}

// Loop is an unbounded FIFO of funcs drained by a single goroutine.
type Loop struct {
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	done chan struct{}
}

// NewLoop creates a loop. Call Run to start draining it.
func NewLoop(name string) *Loop {
	l := &Loop{name: name, done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Post enqueues fn. It never blocks; it returns false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	return true
}

// Run drains the queue until Close is called or ctx is done. Items already
// queued when Close is called are still run.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	stop := context.AfterFunc(ctx, l.Close)
	defer stop()

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 && l.closed {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.safeRun(fn)
	}
}

func (l *Loop) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("dispatch: recovered panic",
				zap.String("loop", l.name),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	fn()
}

// Close stops accepting work. Run returns after draining what was queued.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// Run may have drained fn just before exiting.
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "dispatch: call")
	}
}
