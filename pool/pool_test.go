package pool_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/carla-simulator/streamcore/pool"
)

func TestStrandSerializesTasks(t *testing.T) {
	s := pool.NewStrand(4)
	var (
		running atomic.Bool
		overlap atomic.Bool
	)
	const n = 50
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		s.Post(func() {
			if !running.CompareAndSwap(false, true) {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			running.Store(false)
			done <- struct{}{}
		})
	}
	for i := 0; i < n; i++ {
		<-done
	}
	if overlap.Load() {
		t.Fatal("tasks posted to one strand ran concurrently")
	}
	s.Close()
}

func TestPoolRunsTasksConcurrently(t *testing.T) {
	p := pool.New(context.Background(), 4)
	var n atomic.Int32
	for i := 0; i < 8; i++ {
		p.Go(func() error {
			n.Add(1)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n.Load() != 8 {
		t.Fatalf("expected 8 tasks to run, got %d", n.Load())
	}
}
