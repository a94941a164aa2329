package polling

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"yt-analyzer-client/internal/api"
)

type scriptedFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (*api.StatusData, error)
}

func (f *scriptedFetcher) Status(ctx context.Context, jobID string) (*api.StatusData, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call)
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recorder struct {
	progress  chan int
	completed chan json.RawMessage
	failed    chan string
}

func newRecorder() *recorder {
	return &recorder{
		progress:  make(chan int, 200),
		completed: make(chan json.RawMessage, 8),
		failed:    make(chan string, 8),
	}
}

func (r *recorder) events() Events {
	return Events{
		OnProgress:  func(_ string, p int) { r.progress <- p },
		OnCompleted: func(_ string, res json.RawMessage) { r.completed <- res },
		OnFailed:    func(_, msg string) { r.failed <- msg },
	}
}

func fastPoller(f StatusFetcher, ev Events) *Poller {
	p := New(f, ev)
	p.intervals = []time.Duration{time.Millisecond}
	return p
}

func TestPoller_IntervalScheduleIsClamped(t *testing.T) {
	p := New(&scriptedFetcher{}, Events{})

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 3 * time.Second,
		5 * time.Second, 5 * time.Second, 5 * time.Second,
	}
	for attempt, expected := range want {
		if got := p.interval(attempt); got != expected {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, expected, got)
		}
	}
	// далеко за пределами таблицы — всё ещё последний интервал
	if got := p.interval(119); got != 5*time.Second {
		t.Fatalf("expected clamp to 5s, got %v", got)
	}
}

func TestPoller_ProgressThenCompleted(t *testing.T) {
	fetcher := &scriptedFetcher{fn: func(call int) (*api.StatusData, error) {
		if call == 1 {
			return &api.StatusData{State: "active", Progress: 55}, nil
		}
		return &api.StatusData{State: "completed", ReturnValue: json.RawMessage(`{"ok":true}`)}, nil
	}}
	rec := newRecorder()
	p := fastPoller(fetcher, rec.events())
	p.Start("J1")
	defer p.Stop()

	select {
	case got := <-rec.progress:
		if got != 55 {
			t.Fatalf("expected progress 55, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no progress event")
	}

	select {
	case res := <-rec.completed:
		if string(res) != `{"ok":true}` {
			t.Fatalf("unexpected result: %s", res)
		}
	case <-time.After(time.Second):
		t.Fatal("no completed event")
	}
}

func TestPoller_FailedUsesServerReason(t *testing.T) {
	fetcher := &scriptedFetcher{fn: func(int) (*api.StatusData, error) {
		return &api.StatusData{State: "failed", FailedReason: "quota hit"}, nil
	}}
	rec := newRecorder()
	p := fastPoller(fetcher, rec.events())
	p.Start("J1")
	defer p.Stop()

	select {
	case msg := <-rec.failed:
		if msg != "quota hit" {
			t.Fatalf("expected server reason, got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no failed event")
	}
}

func TestPoller_FailedDefaultMessage(t *testing.T) {
	fetcher := &scriptedFetcher{fn: func(int) (*api.StatusData, error) {
		return &api.StatusData{State: "failed"}, nil
	}}
	rec := newRecorder()
	p := fastPoller(fetcher, rec.events())
	p.Start("J1")
	defer p.Stop()

	select {
	case msg := <-rec.failed:
		if msg != "Job failed" {
			t.Fatalf("expected default message, got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no failed event")
	}
}

func TestPoller_NotFoundStops(t *testing.T) {
	fetcher := &scriptedFetcher{fn: func(int) (*api.StatusData, error) {
		return nil, api.ErrJobNotFound
	}}
	rec := newRecorder()
	p := fastPoller(fetcher, rec.events())
	p.Start("J1")
	defer p.Stop()

	select {
	case msg := <-rec.failed:
		if msg != "Job not found" {
			t.Fatalf("expected not-found message, got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no failed event")
	}
	if n := fetcher.callCount(); n != 1 {
		t.Fatalf("expected a single fetch, got %d", n)
	}
}

func TestPoller_TimeoutAfterAttemptBudget(t *testing.T) {
	fetcher := &scriptedFetcher{fn: func(int) (*api.StatusData, error) {
		return &api.StatusData{State: "active", Progress: 1}, nil
	}}
	rec := newRecorder()
	p := fastPoller(fetcher, rec.events())
	p.maxAttempts = 5
	p.Start("J1")
	defer p.Stop()

	select {
	case msg := <-rec.failed:
		if msg != "Timeout - please try again" {
			t.Fatalf("expected timeout message, got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no timeout failure")
	}
	// ровно maxAttempts запросов, таймаут на следующей попытке
	if n := fetcher.callCount(); n != 5 {
		t.Fatalf("expected 5 fetches, got %d", n)
	}
}

func TestPoller_StopCancelsPendingAttempt(t *testing.T) {
	fetcher := &scriptedFetcher{fn: func(int) (*api.StatusData, error) {
		return &api.StatusData{State: "active"}, nil
	}}
	rec := newRecorder()
	p := New(fetcher, rec.events())
	p.intervals = []time.Duration{100 * time.Millisecond}
	p.Start("J1")
	p.Stop()
	p.Stop() // idempotent

	time.Sleep(200 * time.Millisecond)
	if n := fetcher.callCount(); n != 0 {
		t.Fatalf("expected no fetches after stop, got %d", n)
	}
}
