package dispatch

import (
	"container/heap"
	"time"
)

// timer is one scheduled callback. The dispatcher never runs two timers
// concurrently with each other or with a socket/command event, since all
// of them are drained from the single event loop goroutine.
type timer struct {
	deadline time.Time
	fn       func()
	index    int // maintained by container/heap, needed for Remove
	canceled bool
}

// timerHeap is a min-heap of *timer ordered by deadline, giving the
// dispatcher O(log n) scheduling and O(1) access to the next expiry.
type timerHeap []*timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

var _ = heap.Interface(&timerHeap{})
