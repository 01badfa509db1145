package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"adhand/internal/runloop"
	"adhand/pkg/logx"
)

func newTestLoop(t *testing.T) *runloop.Loop {
	t.Helper()
	l := runloop.New(16, logx.Nop())
	l.Start(context.Background())
	t.Cleanup(func() {
		l.Stop()
		l.Wait()
	})
	return l
}

func TestSubmitDeliversSuccessExactlyOnce(t *testing.T) {
	t.Parallel()

	loop := newTestLoop(t)
	d := New(Config{Workers: 2}, loop, logx.Nop())
	d.Start(context.Background())
	defer d.Stop()

	var successCalls, errorCalls atomic.Int32
	done := make(chan int, 2)

	Submit(d, "answer",
		func(ctx context.Context) (int, error) { return 42, nil },
		func(v int) {
			successCalls.Add(1)
			done <- v
		},
		func(err error) {
			errorCalls.Add(1)
			done <- -1
		},
	)

	select {
	case v := <-done:
		if v != 42 {
			t.Fatalf("onSuccess got %d, want 42", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}

	// Give a second (erroneous) delivery a chance to appear.
	flush := make(chan struct{})
	loop.Post(func() { close(flush) })
	<-flush

	if got := successCalls.Load(); got != 1 {
		t.Fatalf("onSuccess called %d times", got)
	}
	if got := errorCalls.Load(); got != 0 {
		t.Fatalf("onError called %d times", got)
	}
	if got := d.Pending(); got != 0 {
		t.Fatalf("Pending() = %d after delivery", got)
	}
}

func TestSubmitDeliversErrorExactlyOnce(t *testing.T) {
	t.Parallel()

	loop := newTestLoop(t)
	d := New(Config{}, loop, logx.Nop())
	d.Start(context.Background())
	defer d.Stop()

	boom := errors.New("boom")
	done := make(chan error, 1)
	Submit(d, "failing",
		func(ctx context.Context) (struct{}, error) { return struct{}{}, boom },
		func(struct{}) { t.Error("onSuccess called for failing work") },
		func(err error) { done <- err },
	)

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("onError got %v, want %v", err, boom)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
}

func TestSubmitConvertsPanicToError(t *testing.T) {
	t.Parallel()

	loop := newTestLoop(t)
	d := New(Config{}, loop, logx.Nop())
	d.Start(context.Background())
	defer d.Stop()

	done := make(chan error, 1)
	Submit(d, "panicking",
		func(ctx context.Context) (struct{}, error) { panic("kaboom") },
		func(struct{}) { t.Error("onSuccess called for panicking work") },
		func(err error) { done <- err },
	)

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error from panic")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
}

func TestOutcomeArrivesOnLoop(t *testing.T) {
	t.Parallel()

	loop := newTestLoop(t)
	d := New(Config{}, loop, logx.Nop())
	d.Start(context.Background())
	defer d.Stop()

	// Shared state touched with no locking: the race detector will flag this
	// test if outcomes ever run off the loop.
	shared := 0
	done := make(chan struct{})
	loop.Post(func() { shared++ })
	Submit(d, "loop-check",
		func(ctx context.Context) (int, error) { return 1, nil },
		func(v int) {
			shared += v
			close(done)
		},
		func(err error) { t.Errorf("unexpected error: %v", err) },
	)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}

	check := make(chan int, 1)
	loop.Post(func() { check <- shared })
	if got := <-check; got != 2 {
		t.Fatalf("shared = %d, want 2", got)
	}
}

func TestStopFailsQueuedTickets(t *testing.T) {
	t.Parallel()

	loop := newTestLoop(t)
	d := New(Config{Workers: 1, QueueSize: 4}, loop, logx.Nop())
	d.Start(context.Background())

	blockerRunning := make(chan struct{})
	unblock := make(chan struct{})
	blockerDone := make(chan struct{})
	Submit(d, "blocker",
		func(ctx context.Context) (struct{}, error) {
			close(blockerRunning)
			<-unblock
			return struct{}{}, nil
		},
		func(struct{}) { close(blockerDone) },
		func(err error) { t.Errorf("blocker failed: %v", err) },
	)
	<-blockerRunning

	queuedOutcome := make(chan error, 1)
	Submit(d, "queued",
		func(ctx context.Context) (struct{}, error) { return struct{}{}, nil },
		func(struct{}) { queuedOutcome <- nil },
		func(err error) { queuedOutcome <- err },
	)

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	// Unblock only after Stop has signalled the workers, so the queued ticket
	// cannot be picked up.
	<-d.stopCh
	close(unblock)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	select {
	case <-blockerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight outcome never delivered")
	}
	select {
	case err := <-queuedOutcome:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("queued ticket outcome = %v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued ticket outcome never delivered")
	}
}
