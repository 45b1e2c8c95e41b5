// Package hk provides a mechanism for registering cleanup functions which
// are invoked at specified intervals. Session deadline sweeps do not go
// through it; they use session.Sweeper.
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/carla-simulator/streamcore/cmn/nlog"
)

const dfltTick = 2 * time.Second

type (
	// CleanupFunc runs a registered action and returns the delay until its
	// next run. Returning 0 unregisters the action.
	CleanupFunc func() time.Duration

	action struct {
		f     CleanupFunc
		name  string
		next  time.Time
		index int // heap index, maintained by container/heap callbacks
	}

	ctrlMsg struct {
		a   *action
		add bool
	}

	// HK is a min-heap of registered actions ordered by next-run time,
	// driven by a single ticker goroutine.
	HK struct {
		byName map[string]*action
		heap   []*action
		ctrlCh chan ctrlMsg
		stopCh chan struct{}
		ticker *time.Ticker
		wg     sync.WaitGroup
		tick   time.Duration
	}
)

var (
	DefaultHK *HK
	startedCh = make(chan struct{})
	startOnce sync.Once
)

func init() {
	DefaultHK = New(dfltTick)
}

func New(tick time.Duration) *HK {
	return &HK{
		byName: make(map[string]*action, 16),
		ctrlCh: make(chan ctrlMsg, 16),
		stopCh: make(chan struct{}),
		tick:   tick,
	}
}

// TestInit resets DefaultHK for test use with a fast tick.
func TestInit() {
	DefaultHK = New(10 * time.Millisecond)
	startOnce = sync.Once{}
	startedCh = make(chan struct{})
}

// WaitStarted blocks until Run's event loop is servicing ctrlCh.
func WaitStarted() { <-startedCh }

// Reg registers a named cleanup action; initial is the delay before its
// first run. Re-registering an existing name replaces it.
func (hk *HK) Reg(name string, f CleanupFunc, initial time.Duration) {
	a := &action{f: f, name: name, next: time.Now().Add(initial)}
	hk.ctrlCh <- ctrlMsg{a: a, add: true}
}

func (hk *HK) Unreg(name string) {
	hk.ctrlCh <- ctrlMsg{a: &action{name: name}, add: false}
}

func Reg(name string, f CleanupFunc, initial time.Duration) { DefaultHK.Reg(name, f, initial) }
func Unreg(name string)                                     { DefaultHK.Unreg(name) }

func (hk *HK) Name() string { return "housekeeper" }

func (hk *HK) Run() error {
	hk.ticker = time.NewTicker(hk.tick)
	defer hk.ticker.Stop()

	startOnce.Do(func() { close(startedCh) })

	for {
		select {
		case <-hk.ticker.C:
			hk.do()
		case msg, ok := <-hk.ctrlCh:
			if !ok {
				return nil
			}
			hk.handle(msg)
		case <-hk.stopCh:
			return nil
		}
	}
}

func (hk *HK) Stop(err error) {
	nlog.Infof("stopping housekeeper, err: %v", err)
	close(hk.stopCh)
}

func (hk *HK) handle(msg ctrlMsg) {
	if msg.add {
		if old, ok := hk.byName[msg.a.name]; ok {
			heap.Remove(hk, old.index)
		}
		hk.byName[msg.a.name] = msg.a
		heap.Push(hk, msg.a)
		return
	}
	if a, ok := hk.byName[msg.a.name]; ok {
		heap.Remove(hk, a.index)
		delete(hk.byName, a.name)
	}
}

// do runs every due action and reschedules (or drops) it.
func (hk *HK) do() {
	now := time.Now()
	for len(hk.heap) > 0 && !hk.heap[0].next.After(now) {
		a := heap.Pop(hk).(*action)
		delay := a.f()
		if delay <= 0 {
			delete(hk.byName, a.name)
			continue
		}
		a.next = time.Now().Add(delay)
		heap.Push(hk, a)
	}
}

// as min-heap, ordered by next-run time

func (hk *HK) Len() int { return len(hk.heap) }

func (hk *HK) Less(i, j int) bool { return hk.heap[i].next.Before(hk.heap[j].next) }

func (hk *HK) Swap(i, j int) {
	hk.heap[i], hk.heap[j] = hk.heap[j], hk.heap[i]
	hk.heap[i].index = i
	hk.heap[j].index = j
}

func (hk *HK) Push(x any) {
	a := x.(*action)
	a.index = len(hk.heap)
	hk.heap = append(hk.heap, a)
}

func (hk *HK) Pop() any {
	old := hk.heap
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	a.index = -1
	hk.heap = old[:n-1]
	return a
}
