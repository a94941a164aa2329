package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"yt-analyzer-client/internal/api"
	"yt-analyzer-client/internal/entity"
	"yt-analyzer-client/internal/polling"
	"yt-analyzer-client/internal/realtime"
)

// Порты координатора. Реализации: api.Client, storage.JobStore,
// realtime.Dialer, polling-фабрика.

type API interface {
	Analyze(ctx context.Context, videoURL, idempotencyKey string) (*api.SubmitData, error)
	Status(ctx context.Context, jobID string) (*api.StatusData, error)
}

type Store interface {
	ActiveJobs(ctx context.Context) []entity.JobMetadata
	CompletedJobs(ctx context.Context) []entity.JobMetadata
	AddActive(ctx context.Context, job entity.JobMetadata) error
	UpdateActive(ctx context.Context, jobID string, mutate func(*entity.JobMetadata)) error
	MoveToCompleted(ctx context.Context, jobID string, result json.RawMessage) error
	MarkFailed(ctx context.Context, jobID, errMsg string) error
	Remove(ctx context.Context, jobID string) error
	Cleanup(ctx context.Context) error
}

type ChannelHandle interface {
	Disconnect()
}

type PollerHandle interface {
	Stop()
}

type Channels interface {
	Connect(jobID string, ev realtime.Events) ChannelHandle
}

type Pollers interface {
	Start(jobID string, ev polling.Events) PollerHandle
}

var ErrNotRetryable = errors.New("last failure is not retryable")

// Coordinator is the single source of truth for UI state. All state
// lives behind one mutex; callbacks from the channel and the poller
// are serialized through it, the Go rendition of the one UI thread.
//
// Cancellation uses a generation counter: every teardown bumps gen,
// and callbacks or late responses stamped with an older generation
// are discarded on arrival.
type Coordinator struct {
	client   API
	store    Store
	channels Channels
	pollers  Pollers

	onState func(entity.UIState)

	mu           sync.Mutex
	gen          uint64
	state        entity.UIState
	currentJobID string
	lastInput    string
	idemKey      string
	channel      ChannelHandle
	poller       PollerHandle
	resumable    []entity.JobMetadata
}

func New(client API, store Store, channels Channels, pollers Pollers) *Coordinator {
	return &Coordinator{
		client:   client,
		store:    store,
		channels: channels,
		pollers:  pollers,
		state:    entity.Idle(),
	}
}

// OnStateChange registers the presentation-layer subscriber. The
// callback runs with the coordinator locked and must not call back in.
func (c *Coordinator) OnStateChange(fn func(entity.UIState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// Init purges expired records and loads the resumable candidates.
// UIState stays Idle; nothing is resumed until the caller asks.
func (c *Coordinator) Init(ctx context.Context) {
	if err := c.store.Cleanup(ctx); err != nil {
		log.Printf("[coordinator] cleanup error: %v", err)
	}
	active := c.store.ActiveJobs(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumable = active
}

// CompletedJobs returns the persisted history of finished analyses,
// results included.
func (c *Coordinator) CompletedJobs(ctx context.Context) []entity.JobMetadata {
	return c.store.CompletedJobs(ctx)
}

// ResumableJobs returns the persisted active jobs found at Init.
func (c *Coordinator) ResumableJobs() []entity.JobMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]entity.JobMetadata, len(c.resumable))
	copy(out, c.resumable)
	return out
}

// State returns the current UI state.
func (c *Coordinator) State() entity.UIState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit starts a new analysis for videoURL. Whitespace-only input
// fails fast without a network call and without creating a job.
func (c *Coordinator) Submit(ctx context.Context, videoURL string) error {
	if strings.TrimSpace(videoURL) == "" {
		c.mu.Lock()
		c.setStateLocked(entity.Failed("Please enter a YouTube URL", false))
		c.mu.Unlock()
		return errors.New("video URL is required")
	}
	c.mu.Lock()
	c.idemKey = uuid.NewString()
	c.mu.Unlock()
	return c.submit(ctx, videoURL)
}

// submit runs the shared submit/retry flow; the idempotency key has
// already been decided by the caller.
func (c *Coordinator) submit(ctx context.Context, videoURL string) error {
	c.mu.Lock()
	c.teardownLocked()
	gen := c.gen
	key := c.idemKey
	c.lastInput = videoURL
	c.currentJobID = ""
	c.resumable = nil
	c.setStateLocked(entity.Processing(0, "queued", "Starting analysis..."))
	c.mu.Unlock()

	data, err := c.client.Analyze(ctx, videoURL, key)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil // superseded while the request was in flight
	}
	if err != nil {
		c.setStateLocked(entity.Failed(err.Error(), true))
		return err
	}

	now := entity.NowMillis()
	progress := 0
	job := entity.JobMetadata{
		JobID:       data.JobID,
		VideoID:     data.VideoID,
		VideoURL:    videoURL,
		Status:      entity.StatusActive,
		SubmittedAt: now,
		LastUpdated: now,
		Progress:    &progress,
	}
	if err := c.store.AddActive(ctx, job); err != nil {
		log.Printf("[coordinator] job_id=%s persist error: %v", data.JobID, err)
	}

	c.currentJobID = data.JobID
	c.attachChannelLocked(data.JobID)
	return nil
}

// Resume re-fetches the authoritative status of a persisted job. The
// local record may be arbitrarily stale, so it is never trusted.
func (c *Coordinator) Resume(ctx context.Context, job entity.JobMetadata) error {
	c.mu.Lock()
	c.teardownLocked()
	gen := c.gen
	c.currentJobID = job.JobID
	c.lastInput = job.VideoURL
	c.resumable = nil
	c.mu.Unlock()

	status, err := c.client.Status(ctx, job.JobID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}

	if errors.Is(err, api.ErrJobNotFound) {
		// JobExpired: purge the stale record, not retryable.
		if rmErr := c.store.Remove(ctx, job.JobID); rmErr != nil {
			log.Printf("[coordinator] job_id=%s purge error: %v", job.JobID, rmErr)
		}
		c.setStateLocked(entity.Failed("Job expired", false))
		return err
	}
	if err != nil {
		c.setStateLocked(entity.Failed(err.Error(), true))
		return err
	}

	// A fresh generation: the authoritative answer applies regardless
	// of whatever terminal state a previous job left behind.
	switch {
	case status.State == "completed" && len(status.ReturnValue) > 0:
		if err := c.store.MoveToCompleted(ctx, job.JobID, status.ReturnValue); err != nil {
			log.Printf("[coordinator] job_id=%s complete persist error: %v", job.JobID, err)
		}
		c.setStateLocked(entity.Completed(status.ReturnValue))
	case status.State == "failed":
		reason := status.FailedReason
		if reason == "" {
			reason = "Job failed"
		}
		if err := c.store.MarkFailed(ctx, job.JobID, reason); err != nil {
			log.Printf("[coordinator] job_id=%s fail persist error: %v", job.JobID, err)
		}
		c.idemKey = ""
		c.setStateLocked(entity.Failed(reason, true))
	default:
		c.setStateLocked(entity.Processing(status.Progress, "resuming", "Reconnecting..."))
		c.attachChannelLocked(job.JobID)
	}
	return nil
}

// Retry re-runs the last submission with the same idempotency key.
// Only available after a retryable failure.
func (c *Coordinator) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Kind != entity.StateFailed || !c.state.Retryable {
		c.mu.Unlock()
		return ErrNotRetryable
	}
	input := c.lastInput
	if c.idemKey == "" {
		// The previous job failed server-side; reusing its key would
		// make a key-honoring server replay the failed job.
		c.idemKey = uuid.NewString()
	}
	c.mu.Unlock()

	if strings.TrimSpace(input) == "" {
		return ErrNotRetryable
	}
	return c.submit(ctx, input)
}

// Reset cancels any in-flight work and returns to Idle.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.currentJobID = ""
	c.lastInput = ""
	c.idemKey = ""
	c.setStateLocked(entity.Idle())
}

// Dismiss permanently removes a job from both collections. UIState is
// untouched.
func (c *Coordinator) Dismiss(ctx context.Context, jobID string) error {
	err := c.store.Remove(ctx, jobID)

	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.resumable[:0]
	for _, j := range c.resumable {
		if j.JobID != jobID {
			kept = append(kept, j)
		}
	}
	c.resumable = kept
	return err
}

// Close releases any live channel or poller.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

// ---- internal ----

// teardownLocked invalidates all outstanding async work: the old
// generation's callbacks and late network responses become no-ops.
func (c *Coordinator) teardownLocked() {
	c.gen++
	if c.channel != nil {
		c.channel.Disconnect()
		c.channel = nil
	}
	if c.poller != nil {
		c.poller.Stop()
		c.poller = nil
	}
}

func (c *Coordinator) setStateLocked(s entity.UIState) {
	c.state = s
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Coordinator) attachChannelLocked(jobID string) {
	gen := c.gen
	c.channel = c.channels.Connect(jobID, realtime.Events{
		OnProgress: func(ev entity.ProgressEvent) {
			c.applyProgress(gen, jobID, ev.Percentage, ev.Stage, ev.Message)
		},
		OnError: func(ev entity.ErrorEvent) {
			c.applyFailure(gen, jobID, ev.Error)
		},
		OnCompleted: func(result json.RawMessage) {
			c.applyCompletion(gen, jobID, result)
		},
		OnConnectFailed: func() {
			c.fallbackToPolling(gen, jobID)
		},
	})
}

// fallbackToPolling starts the poll driver after the realtime channel
// failed to establish. UIState is left unchanged.
func (c *Coordinator) fallbackToPolling(gen uint64, jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state.Terminal() {
		return
	}
	if c.poller != nil {
		return // already polling
	}
	log.Printf("[coordinator] job_id=%s realtime unavailable, polling", jobID)
	if c.channel != nil {
		c.channel.Disconnect()
		c.channel = nil
	}
	c.poller = c.pollers.Start(jobID, polling.Events{
		OnProgress: func(jobID string, progress int) {
			// Polling carries no stage name; keep the degraded label.
			c.applyProgress(gen, jobID, progress, "processing", fmt.Sprintf("Processing... %d%%", progress))
		},
		OnCompleted: func(jobID string, result json.RawMessage) {
			c.applyCompletion(gen, jobID, result)
		},
		OnFailed: func(jobID, message string) {
			c.applyFailure(gen, jobID, message)
		},
	})
}

func (c *Coordinator) applyProgress(gen uint64, jobID string, progress int, stage, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	if c.state.Terminal() {
		return // terminal state is sticky; late progress is discarded
	}
	c.setStateLocked(entity.Processing(progress, stage, message))
	err := c.store.UpdateActive(context.Background(), jobID, func(j *entity.JobMetadata) {
		j.Progress = &progress
		if stage != "processing" {
			j.Stage = stage
		}
	})
	if err != nil {
		log.Printf("[coordinator] job_id=%s progress persist error: %v", jobID, err)
	}
}

func (c *Coordinator) applyCompletion(gen uint64, jobID string, result json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.completeLocked(context.Background(), jobID, result)
}

func (c *Coordinator) applyFailure(gen uint64, jobID, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.failLocked(context.Background(), jobID, message)
}

// completeLocked applies a completion identically no matter which
// path delivered it. A duplicate for an already-terminal job is a
// no-op both in the store and in UI state.
func (c *Coordinator) completeLocked(ctx context.Context, jobID string, result json.RawMessage) {
	if c.state.Terminal() {
		return
	}
	if err := c.store.MoveToCompleted(ctx, jobID, result); err != nil {
		log.Printf("[coordinator] job_id=%s complete persist error: %v", jobID, err)
	}
	c.setStateLocked(entity.Completed(result))
	c.stopTransportsLocked()
}

func (c *Coordinator) failLocked(ctx context.Context, jobID, message string) {
	if c.state.Terminal() {
		return
	}
	if err := c.store.MarkFailed(ctx, jobID, message); err != nil {
		log.Printf("[coordinator] job_id=%s fail persist error: %v", jobID, err)
	}
	// Job-level failure: the submission key has been consumed by a job
	// that reached failed, so a retry mints a fresh one.
	c.idemKey = ""
	c.setStateLocked(entity.Failed(message, true))
	c.stopTransportsLocked()
}

// stopTransportsLocked releases channel and poller without bumping
// the generation (the job reached a terminal state on its own).
func (c *Coordinator) stopTransportsLocked() {
	if c.channel != nil {
		c.channel.Disconnect()
		c.channel = nil
	}
	if c.poller != nil {
		c.poller.Stop()
		c.poller = nil
	}
}
