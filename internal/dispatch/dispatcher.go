// Package dispatch runs blocking work on a small fixed worker pool and
// delivers each outcome back onto the run loop exactly once.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"adhand/internal/runloop"
	"adhand/pkg/logx"
)

var ErrStopped = errors.New("dispatcher stopped")

type Config struct {
	Workers   int // fixed pool size; default 2
	QueueSize int // default 16
}

// ticket binds one pending background operation to exactly one
// (success, error) handler pair. It lives from Submit until its single
// outcome closure has been posted to the loop.
type ticket struct {
	id        uint64
	name      string
	run       func(ctx context.Context) (any, error)
	onSuccess func(any)
	onError   func(error)
}

type Dispatcher struct {
	mu sync.Mutex

	log  logx.Logger
	loop *runloop.Loop
	cfg  Config

	queue  chan ticket
	stopCh chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	started   bool
	wg        sync.WaitGroup

	seq     uint64
	pending map[uint64]string // id -> name, while outstanding
}

func New(cfg Config, loop *runloop.Loop, log logx.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		log:     log,
		loop:    loop,
		cfg:     cfg,
		queue:   make(chan ticket, cfg.QueueSize),
		stopCh:  make(chan struct{}),
		pending: map[uint64]string{},
	}
}

// Start launches the worker pool. Idempotent.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.runCtx, d.runCancel = context.WithCancel(ctx)

	d.wg.Add(d.cfg.Workers)
	for i := 0; i < d.cfg.Workers; i++ {
		idx := i
		go func() {
			defer d.wg.Done()
			d.worker(idx)
		}()
	}
	d.log.Debug("dispatcher started", logx.Int("workers", d.cfg.Workers))
}

// Stop signals workers to exit, waits for in-flight work, and fails any
// tickets still queued. Outcomes of work already running are still delivered.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	cancel := d.runCancel
	d.runCancel = nil
	d.mu.Unlock()

	close(d.stopCh)
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()

	// Tickets that never reached a worker still owe their one callback.
	for {
		select {
		case t := <-d.queue:
			d.deliver(t, nil, ErrStopped)
		default:
			d.log.Debug("dispatcher stopped")
			return
		}
	}
}

// Pending reports the number of outstanding tickets.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Submit queues work for the pool. Exactly one of onSuccess/onError fires,
// exactly once, on the run loop; never on the worker goroutine. A panic in
// work is converted into an error. There are no retries and no ordering
// guarantee between tickets.
func Submit[T any](d *Dispatcher, name string, work func(ctx context.Context) (T, error), onSuccess func(T), onError func(error)) {
	t := ticket{
		name: name,
		run: func(ctx context.Context) (any, error) {
			return work(ctx)
		},
		onSuccess: func(v any) {
			if onSuccess == nil {
				return
			}
			tv, ok := v.(T)
			if !ok {
				// Only reachable if work returned a mistyped nil interface.
				var zero T
				tv = zero
			}
			onSuccess(tv)
		},
		onError: onError,
	}

	d.mu.Lock()
	d.seq++
	t.id = d.seq
	d.pending[t.id] = t.name
	d.mu.Unlock()

	d.log.Debug("ticket submitted", logx.Uint64("ticket", t.id), logx.String("name", t.name))

	select {
	case d.queue <- t:
	case <-d.stopCh:
		d.deliver(t, nil, ErrStopped)
	}
}

func (d *Dispatcher) worker(idx int) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-d.stopCh:
			return
		default:
		}

		select {
		case <-d.stopCh:
			return
		case t := <-d.queue:
			res, err := d.safeRun(t)
			d.deliver(t, res, err)
		}
	}
}

// safeRun executes the ticket's work, converting panics into errors so a
// collaborator bug can never crash the process or leak the ticket.
func (d *Dispatcher) safeRun(t ticket) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in background task %s: %v", t.name, r)
			d.log.Error("panic in background task",
				logx.String("name", t.name),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()

	d.mu.Lock()
	ctx := d.runCtx
	d.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	return t.run(ctx)
}

// deliver retires the ticket and posts its single outcome onto the loop.
func (d *Dispatcher) deliver(t ticket, res any, err error) {
	d.mu.Lock()
	delete(d.pending, t.id)
	d.mu.Unlock()

	posted := d.loop.Post(func() {
		if err != nil {
			if t.onError != nil {
				t.onError(err)
			}
			return
		}
		t.onSuccess(res)
	})
	if !posted {
		d.log.Warn("outcome dropped; run loop stopped",
			logx.Uint64("ticket", t.id), logx.String("name", t.name), logx.Err(err))
	}
}
