// Package loop runs every daemon action on one goroutine.
//
// Work arrives from other goroutines through Post and Call. Enqueue never blocks and is
// safe from the loop goroutine itself. Work running on the loop may
// Defer a follow-up task; deferred tasks run after the current task returns, in the order
// they were deferred, before the loop blocks for more work.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned when work is submitted to a loop that is no longer running.
var ErrStopped = errors.New("event loop stopped")

// Loop is a single-goroutine task runner.
type Loop struct {
	inbox chan func()
	done  chan struct{}
	once  sync.Once

	// mailbox is unbounded; wake holds at most one pending signal for it.
	mu      sync.Mutex
	mailbox []func()
	wake    chan struct{}

	// deferred is touched only by the loop goroutine.
	deferred []func()
}

// New returns a loop whose inbox holds up to buffer pending tasks.
func New(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 64
	}
	return &Loop{
		inbox: make(chan func(), buffer),
		done:  make(chan struct{}),
		wake:  make(chan struct{}, 1),
	}
}

// Post enqueues fn from any goroutine. It reports false when the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.inbox <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Enqueue queues fn without blocking, even when the inbox is full. Callbacks that may fire
// on the loop goroutine must use it instead of Post.
func (l *Loop) Enqueue(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	l.mu.Lock()
	l.mailbox = append(l.mailbox, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to finish. ctx bounds both queueing and waiting.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.inbox <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// fn may have been the task that stopped the loop.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Defer queues fn to run after the current task. It must only be called from the loop.
func (l *Loop) Defer(fn func()) {
	l.deferred = append(l.deferred, fn)
}

// After posts fn to the loop once d has elapsed. The returned func cancels it.
func (l *Loop) After(d time.Duration, fn func()) func() {
	timer := time.AfterFunc(d, func() { l.Post(fn) })
	return func() { timer.Stop() }
}

// Done is closed once Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run processes tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })

	for {
		if len(l.deferred) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case fn := <-l.inbox:
				fn()
			case <-l.wake:
				l.drainMailbox()
			}
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case fn := <-l.inbox:
				fn()
			case <-l.wake:
				l.drainMailbox()
			default:
			}
		}
		l.drainDeferred()
	}
}

func (l *Loop) drainMailbox() {
	l.mu.Lock()
	batch := l.mailbox
	l.mailbox = nil
	l.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
}

// drainDeferred runs the tasks deferred so far. Tasks they defer wait for the next turn.
func (l *Loop) drainDeferred() {
	if len(l.deferred) == 0 {
		return
	}
	batch := l.deferred
	l.deferred = nil
	for _, fn := range batch {
		fn()
	}
}
