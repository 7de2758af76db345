package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConcurrentCallersShareOneFetch(t *testing.T) {
	c := New[int]()

	var fetches int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&fetches, 1)
		<-release
		return 42, nil
	}

	const callers = 32
	results := make([]int, callers)
	errs := make([]error, callers)

	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			started.Done()
			defer done.Done()
			results[i], errs[i] = c.GetOrFetch(context.Background(), "k", time.Minute, fetch)
		}(i)
	}

	started.Wait()
	time.Sleep(20 * time.Millisecond) // let every caller attach to the flight
	close(release)
	done.Wait()

	if got := atomic.LoadInt32(&fetches); got != 1 {
		t.Fatalf("expected exactly one fetch, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if results[i] != 42 {
			t.Fatalf("caller %d got %d, want 42", i, results[i])
		}
	}
}

func TestFailureIsNotCached(t *testing.T) {
	c := New[int]()

	var calls int32
	boom := errors.New("upstream down")
	fetch := func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return 0, boom
		}
		return 7, nil
	}

	if _, err := c.GetOrFetch(context.Background(), "k", time.Minute, fetch); !errors.Is(err, boom) {
		t.Fatalf("first call should surface the fetch error, got %v", err)
	}
	v, err := c.GetOrFetch(context.Background(), "k", time.Minute, fetch)
	if err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if v != 7 {
		t.Fatalf("retry should return fresh value, got %d", v)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("failure must not be cached; want 2 fetches, got %d", got)
	}
}

func TestExpiredEntryRefetches(t *testing.T) {
	c := New[int]()

	current := time.Unix(1000, 0)
	c.now = func() time.Time { return current }

	var calls int32
	fetch := func(ctx context.Context) (int, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	}

	v, err := c.GetOrFetch(context.Background(), "k", time.Minute, fetch)
	if err != nil || v != 1 {
		t.Fatalf("first fetch: v=%d err=%v", v, err)
	}

	v, err = c.GetOrFetch(context.Background(), "k", time.Minute, fetch)
	if err != nil || v != 1 {
		t.Fatalf("within ttl should be served from cache: v=%d err=%v", v, err)
	}

	current = current.Add(2 * time.Minute)
	v, err = c.GetOrFetch(context.Background(), "k", time.Minute, fetch)
	if err != nil || v != 2 {
		t.Fatalf("after ttl a fresh fetch is required: v=%d err=%v", v, err)
	}
}

func TestWaiterStopsOnOwnContext(t *testing.T) {
	c := New[int]()

	release := make(chan struct{})
	defer close(release)
	fetch := func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	}

	go func() {
		_, _ = c.GetOrFetch(context.Background(), "k", time.Minute, fetch)
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetOrFetch(ctx, "k", time.Minute, fetch)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("waiter should give up on its own deadline, got %v", err)
	}
}

func TestSweepDropsExpired(t *testing.T) {
	c := New[int]()

	current := time.Unix(1000, 0)
	c.now = func() time.Time { return current }

	c.store("a", 1, time.Minute)
	c.store("b", 2, time.Hour)

	current = current.Add(10 * time.Minute)
	if dropped := c.Sweep(); dropped != 1 {
		t.Fatalf("sweep should drop one entry, dropped %d", dropped)
	}
	if c.Len() != 1 {
		t.Fatalf("one entry should remain, have %d", c.Len())
	}
}
