// Package runloop provides the single consuming execution context that owns
// all shared application state.
//
// Contract:
//   - Every closure posted via Post runs on exactly one goroutine, in post
//     order per producer.
//   - Dispatcher outcomes and scheduler timer firings are both funneled
//     through here, so callbacks never need their own locking to touch
//     shared state.
//   - Post blocks when the loop is saturated instead of dropping; a missed
//     prayer trigger is worse than a briefly stalled producer.
package runloop

import (
	"context"
	"runtime/debug"
	"sync"

	"adhand/pkg/logx"
)

type Loop struct {
	log logx.Logger

	ch   chan func()
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	exited    chan struct{}
}

func New(buffer int, log logx.Logger) *Loop {
	if buffer <= 0 {
		buffer = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{
		log:    log,
		ch:     make(chan func(), buffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// Start launches the drain goroutine. Idempotent.
func (l *Loop) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		go l.run(ctx)
	})
}

// Stop shuts the loop down. Closures already accepted may still run before
// the drain goroutine notices; closures posted afterwards are rejected.
// Idempotent, does not block.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
}

// Wait blocks until the drain goroutine has exited.
func (l *Loop) Wait() { <-l.exited }

// Post delivers fn onto the loop. It blocks while the loop is saturated and
// reports false (dropping fn) only once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	select {
	case <-l.done:
		l.log.Debug("runloop stopped; dropping posted closure")
		return false
	default:
	}
	select {
	case l.ch <- fn:
		return true
	case <-l.done:
		l.log.Debug("runloop stopped; dropping posted closure")
		return false
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.exited)
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.done:
			return
		case fn := <-l.ch:
			l.invoke(fn)
		}
	}
}

// invoke isolates panics so a misbehaving callback cannot kill the loop.
func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("panic in runloop closure", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	fn()
}
