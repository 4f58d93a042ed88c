package work

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_Do(t *testing.T) {
	p := NewPool(2)

	ran := false
	err := p.Do(context.Background(), func() error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !ran {
		t.Error("Expected fn to run")
	}
}

func TestPool_DoReturnsFnError(t *testing.T) {
	p := NewPool(1)

	want := errors.New("transcription failed")
	err := p.Do(context.Background(), func() error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("Expected fn error passed through, got %v", err)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(2)

	var current, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Do(context.Background(), func() error {
				n := atomic.AddInt32(&current, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Errorf("Expected at most 2 concurrent jobs, saw %d", got)
	}
}

func TestPool_ContextCancelsWait(t *testing.T) {
	p := NewPool(1)

	release := make(chan struct{})
	started := make(chan struct{})
	go p.Do(context.Background(), func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Do(ctx, func() error { return nil })
	if err == nil {
		t.Error("Expected error when wait is cancelled")
	}
	close(release)
}

func TestPool_Drain(t *testing.T) {
	p := NewPool(2)

	var done int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Do(context.Background(), func() error {
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&done, 1)
				return nil
			})
		}()
	}
	wg.Wait()
	p.Drain()

	if got := atomic.LoadInt32(&done); got != 4 {
		t.Errorf("Expected 4 jobs finished after drain, got %d", got)
	}
}

func TestNewPool_MinimumSize(t *testing.T) {
	p := NewPool(0)
	if p.Size() != 1 {
		t.Errorf("Expected size clamped to 1, got %d", p.Size())
	}
}
