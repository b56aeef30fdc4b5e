// Package dispatch drives an ICE agent's single-goroutine event loop:
// socket readability, timer expiry, and cross-goroutine command
// submission are all serialized through one run loop, so agent state never
// needs its own locking. See spec.md §5 and §9 (the NO_ATOMICS decision).
package dispatch

import (
	"bytes"
	"container/heap"
	"context"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
)

// curGoroutineID returns the calling goroutine's ID, parsed out of the
// "goroutine N [state]:" header runtime.Stack always writes first. There is
// no supported API for this; it exists only so Submit/AfterFunc can tell
// whether they are being called reentrantly from the dispatcher's own loop
// goroutine, which would otherwise deadlock (see loopGoroutine below).
func curGoroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	buf = buf[:bytes.IndexByte(buf, ' ')]
	id, err := strconv.ParseUint(string(buf), 10, 64)
	if err != nil {
		panic("dispatch: could not parse goroutine ID: " + err.Error())
	}
	return id
}

// command is a unit of work submitted to the dispatcher's goroutine from
// the outside: a socket-read callback, a timer, or a user-submitted
// closure all end up wrapped as one of these.
type command func()

// Dispatcher runs commands one at a time on a single goroutine. It is the
// generalization of the teacher's task-channel agent loop
// (`a.run(func(*Agent))`) to also own a timer wheel, since this module's
// agent needs scheduled retransmissions and keep-alives in addition to
// ad-hoc commands.
type Dispatcher struct {
	log logging.LeveledLogger

	cmds   chan command
	timers timerHeap

	// SingleThreaded configures synchronous, reentrant-guarded submission
	// instead of a goroutine-backed channel, for builds where spawning a
	// background goroutine is unavailable or undesirable (spec.md §9's
	// NO_ATOMICS resolution: single-threaded mode never supports
	// cross-thread command submission, so Submit from another goroutine in
	// that mode is a programming error, not a race to be made safe).
	SingleThreaded bool
	busy           bool
	mu             sync.Mutex

	closed chan struct{}
	once   sync.Once

	// loopGoroutine holds the ID of the goroutine currently executing Run's
	// loop, or 0 when Run is not running. Submit/AfterFunc compare against
	// it to detect reentrant calls made from within a command Run is
	// already executing: those must run inline instead of round-tripping
	// through d.cmds, since the only goroutine that could ever drain that
	// channel is the one currently blocked trying to send to it.
	loopGoroutine atomic.Uint64
}

// New creates a Dispatcher. Run must be called to start processing
// commands (goroutine-backed mode) or commands run synchronously inline
// (single-threaded mode).
func New(loggerFactory logging.LoggerFactory, singleThreaded bool) *Dispatcher {
	return &Dispatcher{
		log:            loggerFactory.NewLogger("dispatch"),
		cmds:           make(chan command, 16),
		SingleThreaded: singleThreaded,
		closed:         make(chan struct{}),
	}
}

// Run processes commands and timers until ctx is canceled or Close is
// called. In SingleThreaded mode, Run does nothing: Submit executes
// synchronously and there is no loop to drive.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.SingleThreaded {
		return
	}
	d.loopGoroutine.Store(curGoroutineID())
	defer d.loopGoroutine.Store(0)
	for {
		var timerC <-chan time.Time
		var next *timer
		if len(d.timers) > 0 {
			next = d.timers[0]
			timerC = time.After(time.Until(next.deadline))
		}

		select {
		case <-ctx.Done():
			return
		case <-d.closed:
			return
		case cmd := <-d.cmds:
			cmd()
		case <-timerC:
			t := heap.Pop(&d.timers).(*timer)
			if !t.canceled {
				t.fn()
			}
		}
	}
}

// Submit runs fn on the dispatcher's goroutine, blocking the caller until
// it completes. In SingleThreaded mode it runs fn inline on the calling
// goroutine, guarded against reentrancy: calling Submit from within a
// command already running on this dispatcher panics, since that would
// either deadlock a channel-based dispatcher or, in single-threaded mode,
// indicate the caller is not actually confined to one thread.
//
// In goroutine-backed mode, a call made from the loop goroutine itself
// (e.g. a command calling Submit/AfterFunc again before returning) runs fn
// inline rather than sending on d.cmds: the loop goroutine is the only
// reader of that channel, so sending to it from inside a command it is
// currently executing would block forever waiting for itself to drain it.
func (d *Dispatcher) Submit(fn func()) {
	if d.SingleThreaded {
		d.mu.Lock()
		if d.busy {
			d.mu.Unlock()
			panic("dispatch: reentrant Submit in single-threaded mode")
		}
		d.busy = true
		d.mu.Unlock()

		fn()

		d.mu.Lock()
		d.busy = false
		d.mu.Unlock()
		return
	}

	if id := d.loopGoroutine.Load(); id != 0 && id == curGoroutineID() {
		fn()
		return
	}

	done := make(chan struct{})
	d.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

// AfterFunc schedules fn to run on the dispatcher's goroutine after delay
// has elapsed, returning a cancel function. Calling it prevents fn from
// running if it has not already started; it is safe to call more than
// once and from any goroutine. Like Submit, a call made from the loop
// goroutine itself pushes directly onto the timer heap instead of
// round-tripping through Submit's channel path.
func (d *Dispatcher) AfterFunc(delay time.Duration, fn func()) (cancel func()) {
	t := &timer{deadline: time.Now().Add(delay), fn: fn}
	d.Submit(func() {
		heap.Push(&d.timers, t)
	})
	return func() {
		d.Submit(func() {
			t.canceled = true
		})
	}
}

// Close stops Run's loop. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.closed) })
}
