package session

import (
	"container/heap"
	"time"
)

// Sweeper gives every open Session a deadline timer without paying for one
// time.Timer per session: a single ticker goroutine walks a min-heap of
// sessions ordered by next-deadline, closing any that haven't made
// progress. Mirrors the stream collector's heap-of-deadlines idiom.
type Sweeper struct {
	tick   time.Duration
	addCh  chan *Session
	delCh  chan *Session
	touch  chan *Session
	stopCh chan struct{}
	heap   sessionHeap
}

type sessionHeap []*Session

func (h sessionHeap) Len() int            { return len(h) }
func (h sessionHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h sessionHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].heapIdx, h[j].heapIdx = i, j }
func (h *sessionHeap) Push(x any)         { s := x.(*Session); s.heapIdx = len(*h); *h = append(*h, s) }
func (h *sessionHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	s.heapIdx = -1
	*h = old[:n-1]
	return s
}

// NewSweeper starts a Sweeper that checks deadlines every tick.
func NewSweeper(tick time.Duration) *Sweeper {
	sw := &Sweeper{
		tick:   tick,
		addCh:  make(chan *Session, 64),
		delCh:  make(chan *Session, 64),
		touch:  make(chan *Session, 256),
		stopCh: make(chan struct{}),
	}
	go sw.run()
	return sw
}

func (sw *Sweeper) add(s *Session, deadline time.Duration) {
	s.deadline = time.Now().Add(deadline)
	sw.addCh <- s
}

func (sw *Sweeper) remove(s *Session) { sw.delCh <- s }

// Touch rearms s's deadline, as required on every successful read or write
// completion.
func (sw *Sweeper) Touch(s *Session) { sw.touch <- s }

func (sw *Sweeper) Stop() { close(sw.stopCh) }

func (sw *Sweeper) run() {
	ticker := time.NewTicker(sw.tick)
	defer ticker.Stop()
	for {
		select {
		case s := <-sw.addCh:
			heap.Push(&sw.heap, s)
		case s := <-sw.delCh:
			if s.heapIdx >= 0 {
				heap.Remove(&sw.heap, s.heapIdx)
			}
		case s := <-sw.touch:
			if s.heapIdx >= 0 {
				s.deadline = time.Now().Add(s.timeout)
				heap.Fix(&sw.heap, s.heapIdx)
			}
		case <-ticker.C:
			sw.expire()
		case <-sw.stopCh:
			return
		}
	}
}

func (sw *Sweeper) expire() {
	now := time.Now()
	for len(sw.heap) > 0 && !sw.heap[0].deadline.After(now) {
		s := heap.Pop(&sw.heap).(*Session)
		s.closeReason(ErrDeadlineExceeded)
	}
}
