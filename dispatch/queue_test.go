package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRunPreservesOrder(t *testing.T) {
	q := New()
	var got []int
	for i := 0; i < 100; i++ {
		q.Post(func() { got = append(got, i) })
	}
	q.Close()

	if err := q.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("ran %d tasks, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestPostFromManyProducers(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Per-producer order must hold even when producers interleave.
	const producers, perProducer = 8, 200
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	var bad int

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		q.Run(ctx)
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Post(func() {
					if last[p] != i-1 {
						bad++
					}
					last[p] = i
				})
			}
		}()
	}
	wg.Wait()
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	q.Close()
	<-runDone

	if bad != 0 {
		t.Fatalf("%d tasks ran out of order", bad)
	}
	for p, v := range last {
		if v != perProducer-1 {
			t.Errorf("producer %d: last task %d, want %d", p, v, perProducer-1)
		}
	}
}

func TestPostFromConsumerDoesNotBlock(t *testing.T) {
	q := New()
	var order []string
	q.Post(func() {
		order = append(order, "outer")
		q.Post(func() { order = append(order, "inner") })
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		task, err := q.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		task()
	}
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("order = %v", order)
	}
}

func TestNextHonorsContext(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Next(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Next on empty queue = %v, want deadline exceeded", err)
	}
}

func TestPostAfterCloseDropped(t *testing.T) {
	q := New()
	q.Close()
	q.Post(func() { t.Error("task ran after Close") })
	if q.Len() != 0 {
		t.Fatalf("Len = %d, want 0", q.Len())
	}
	if err := q.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := q.Flush(context.Background()); err != ErrClosed {
		t.Fatalf("Flush after Close = %v, want ErrClosed", err)
	}
}

func TestFlushRacingClose(t *testing.T) {
	for i := 0; i < 200; i++ {
		q := New()
		runDone := make(chan struct{})
		go func() { q.Run(context.Background()); close(runDone) }()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		flushed := make(chan error, 1)
		go func() { flushed <- q.Flush(ctx) }()
		q.Close()

		// Either the flush task made it in before Close and Run drains it,
		// or Flush saw the closed queue.
		if err := <-flushed; err != nil && err != ErrClosed {
			t.Fatalf("iteration %d: Flush = %v, want nil or ErrClosed", i, err)
		}
		cancel()
		<-runDone
	}
}
