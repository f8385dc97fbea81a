package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yuchialin/slotgate/internal/reminder"
)

type fakeScanner struct {
	mu    sync.Mutex
	kinds []string
}

func (f *fakeScanner) Scan(_ context.Context, kind string) (reminder.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
	return reminder.Stats{}, nil
}

func (f *fakeScanner) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.kinds...)
}

type fakeSweeper struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSweeper) SweepExpired(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 3, nil
}

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestScheduler_RunsInitialScanPass(t *testing.T) {
	scanner := &fakeScanner{}
	sweeper := &fakeSweeper{}

	s := New(scanner, sweeper, Config{
		ScanInterval:  time.Hour, // never fires during the test
		SweepInterval: time.Hour,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	// The initial pass runs before the first tick.
	deadline := time.After(2 * time.Second)
	for len(scanner.seen()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("initial scan pass never ran, saw %v", scanner.seen())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done

	kinds := scanner.seen()
	if kinds[0] != "24h" || kinds[1] != "2h" {
		t.Errorf("expected 24h then 2h, got %v", kinds)
	}
}

func TestScheduler_SweepsOnInterval(t *testing.T) {
	scanner := &fakeScanner{}
	sweeper := &fakeSweeper{}

	s := New(scanner, sweeper, Config{
		ScanInterval:  time.Hour,
		SweepInterval: 20 * time.Millisecond,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for sweeper.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("sweep never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestScheduler_StopsOnCancel(t *testing.T) {
	s := New(&fakeScanner{}, &fakeSweeper{}, Config{
		ScanInterval:  10 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
