package polling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"yt-analyzer-client/internal/api"
)

// Backoff schedule: attempt n waits intervals[min(n, len-1)] — the
// last interval is clamped, not cycled.
var defaultIntervals = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
}

// defaultMaxAttempts caps the poll budget; the attempt after the cap
// surfaces a timeout failure instead of fetching.
const defaultMaxAttempts = 120

// StatusFetcher is the slice of the API client the poller needs.
type StatusFetcher interface {
	Status(ctx context.Context, jobID string) (*api.StatusData, error)
}

// Events are the poller's outcomes. OnProgress carries only the
// numeric percentage: polling has no stage information.
type Events struct {
	OnProgress  func(jobID string, progress int)
	OnCompleted func(jobID string, result json.RawMessage)
	OnFailed    func(jobID string, message string)
}

// Poller drives periodic status fetches for one job until a terminal
// state, an error, or the attempt budget runs out.
type Poller struct {
	fetcher     StatusFetcher
	ev          Events
	intervals   []time.Duration
	maxAttempts int

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	cancel  context.CancelFunc
}

func New(fetcher StatusFetcher, ev Events) *Poller {
	return &Poller{
		fetcher:     fetcher,
		ev:          ev,
		intervals:   defaultIntervals,
		maxAttempts: defaultMaxAttempts,
	}
}

// Start schedules the first attempt. One Poller polls one job once;
// make a new Poller to poll again.
func (p *Poller) Start(jobID string) {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		cancel()
		return
	}
	p.cancel = cancel
	p.mu.Unlock()

	p.schedule(ctx, jobID, 0)
}

// Stop cancels any pending attempt. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Poller) interval(attempt int) time.Duration {
	i := attempt
	if i >= len(p.intervals) {
		i = len(p.intervals) - 1
	}
	return p.intervals[i]
}

func (p *Poller) schedule(ctx context.Context, jobID string, attempt int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.timer = time.AfterFunc(p.interval(attempt), func() {
		p.attempt(ctx, jobID, attempt)
	})
}

func (p *Poller) attempt(ctx context.Context, jobID string, attempt int) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if attempt >= p.maxAttempts {
		p.finishFailed(jobID, "Timeout - please try again")
		return
	}

	status, err := p.fetcher.Status(ctx, jobID)
	if err != nil {
		if errors.Is(err, api.ErrJobNotFound) {
			p.finishFailed(jobID, "Job not found")
			return
		}
		if ctx.Err() != nil {
			return // stopped mid-fetch
		}
		p.finishFailed(jobID, err.Error())
		return
	}

	switch status.State {
	case "completed":
		if len(status.ReturnValue) > 0 {
			p.finishCompleted(jobID, status.ReturnValue)
			return
		}
		// completed without a payload yet; poll again
	case "failed":
		reason := status.FailedReason
		if reason == "" {
			reason = "Job failed"
		}
		p.finishFailed(jobID, reason)
		return
	case "active":
		p.mu.Lock()
		stopped := p.stopped
		p.mu.Unlock()
		if !stopped && p.ev.OnProgress != nil {
			p.ev.OnProgress(jobID, status.Progress)
		}
	default:
		p.finishFailed(jobID, "Job not found")
		return
	}

	p.schedule(ctx, jobID, attempt+1)
}

func (p *Poller) finishCompleted(jobID string, result json.RawMessage) {
	if p.finish() && p.ev.OnCompleted != nil {
		p.ev.OnCompleted(jobID, result)
	}
}

func (p *Poller) finishFailed(jobID, message string) {
	if p.finish() && p.ev.OnFailed != nil {
		p.ev.OnFailed(jobID, message)
	}
}

// finish reports whether this call actually terminated the poller.
func (p *Poller) finish() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	return true
}
