package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsOnLoopGoroutine(t *testing.T) {
	d := New(logging.NewDefaultLoggerFactory(), false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	ran := false
	d.Submit(func() { ran = true })
	assert.True(t, ran)
}

func TestSingleThreadedSubmitRunsInline(t *testing.T) {
	d := New(logging.NewDefaultLoggerFactory(), true)
	ran := false
	d.Submit(func() { ran = true })
	assert.True(t, ran)
}

// TestReentrantSubmitFromLoopGoroutineDoesNotDeadlock covers the case a
// command running on the loop goroutine calls Submit again before
// returning (e.g. scheduling a timer from within a command): the nested
// call must run inline instead of blocking on d.cmds, since the loop
// goroutine is the only one that could ever drain it.
func TestReentrantSubmitFromLoopGoroutineDoesNotDeadlock(t *testing.T) {
	d := New(logging.NewDefaultLoggerFactory(), false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	done := make(chan struct{})
	d.Submit(func() {
		inner := false
		d.Submit(func() { inner = true })
		assert.True(t, inner)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reentrant Submit deadlocked")
	}
}

// TestReentrantAfterFuncFromLoopGoroutineDoesNotDeadlock mirrors
// internal/ice's StartChecking/startKeepAlive pattern, which calls
// AfterFunc from inside a closure already running via Submit.
func TestReentrantAfterFuncFromLoopGoroutineDoesNotDeadlock(t *testing.T) {
	d := New(logging.NewDefaultLoggerFactory(), false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	fired := make(chan struct{})
	armed := make(chan struct{})
	d.Submit(func() {
		d.AfterFunc(5*time.Millisecond, func() { close(fired) })
		close(armed)
	})

	select {
	case <-armed:
	case <-time.After(time.Second):
		t.Fatal("Submit wrapping a reentrant AfterFunc call deadlocked")
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer armed from inside Submit never fired")
	}
}

func TestSingleThreadedReentrantSubmitPanics(t *testing.T) {
	d := New(logging.NewDefaultLoggerFactory(), true)
	assert.Panics(t, func() {
		d.Submit(func() {
			d.Submit(func() {})
		})
	})
}

func TestAfterFuncFiresOnLoop(t *testing.T) {
	d := New(logging.NewDefaultLoggerFactory(), false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	fired := make(chan struct{})
	d.AfterFunc(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	d := New(logging.NewDefaultLoggerFactory(), false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	fired := make(chan struct{})
	stop := d.AfterFunc(20*time.Millisecond, func() { close(fired) })
	stop()

	select {
	case <-fired:
		t.Fatal("canceled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestTimerHeapOrdersByDeadline(t *testing.T) {
	now := time.Now()
	h := timerHeap{
		{deadline: now.Add(3 * time.Second)},
		{deadline: now.Add(1 * time.Second)},
		{deadline: now.Add(2 * time.Second)},
	}
	require.Len(t, h, 3)
	assert.True(t, h.Less(1, 0))
	assert.False(t, h.Less(0, 1))
}
