package storage

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"yt-analyzer-client/internal/entity"
)

const (
	// MaxStoredJobs bounds each collection; oldest entries are evicted.
	MaxStoredJobs = 10
	// JobExpiryHours is how long a record survives before Cleanup drops it.
	JobExpiryHours = 24

	activeKey    = "yt_analyzer_active_jobs"
	completedKey = "yt_analyzer_completed_jobs"
)

// JobStore keeps the two job collections ("active", "completed") in a
// KV backend. Collections are ordered most-recently-added first.
//
// Every mutation is read-modify-write against the latest persisted
// snapshot. There is no cross-process locking: two writers racing
// (multi-tab drift in the original product) can lose an update.
// Accepted limitation, last write wins.
type JobStore struct {
	kv KV
}

func NewJobStore(kv KV) *JobStore {
	return &JobStore{kv: kv}
}

// load degrades to an empty collection on any read or parse failure,
// so a corrupt store never breaks the UI.
func (s *JobStore) load(ctx context.Context, key string) []entity.JobMetadata {
	raw, err := s.kv.GetItem(ctx, key)
	if err != nil {
		return nil
	}
	var jobs []entity.JobMetadata
	if err := json.Unmarshal([]byte(raw), &jobs); err != nil {
		log.Printf("[store] key=%s corrupt payload dropped: %v", key, err)
		return nil
	}
	return jobs
}

func (s *JobStore) save(ctx context.Context, key string, jobs []entity.JobMetadata) error {
	if len(jobs) > MaxStoredJobs {
		jobs = jobs[:MaxStoredJobs]
	}
	data, err := json.Marshal(jobs)
	if err != nil {
		return err
	}
	return s.kv.SetItem(ctx, key, string(data))
}

func (s *JobStore) ActiveJobs(ctx context.Context) []entity.JobMetadata {
	return s.load(ctx, activeKey)
}

func (s *JobStore) CompletedJobs(ctx context.Context) []entity.JobMetadata {
	return s.load(ctx, completedKey)
}

// AddActive prepends the job; the collection is truncated to
// MaxStoredJobs, evicting the oldest.
func (s *JobStore) AddActive(ctx context.Context, job entity.JobMetadata) error {
	jobs := s.load(ctx, activeKey)
	jobs = append([]entity.JobMetadata{job}, jobs...)
	return s.save(ctx, activeKey, jobs)
}

// UpdateActive applies mutate to the record with jobID and bumps
// LastUpdated. Missing jobID is a no-op.
func (s *JobStore) UpdateActive(ctx context.Context, jobID string, mutate func(*entity.JobMetadata)) error {
	jobs := s.load(ctx, activeKey)
	for i := range jobs {
		if jobs[i].JobID == jobID {
			mutate(&jobs[i])
			jobs[i].LastUpdated = entity.NowMillis()
			return s.save(ctx, activeKey, jobs)
		}
	}
	return nil
}

// MoveToCompleted deletes the job from the active collection and
// inserts it into the completed one. Idempotent: a job already in the
// completed collection (or gone entirely) is left untouched, so a
// duplicate completion event from the second delivery path is a no-op.
func (s *JobStore) MoveToCompleted(ctx context.Context, jobID string, result json.RawMessage) error {
	completed := s.load(ctx, completedKey)
	for _, j := range completed {
		if j.JobID == jobID {
			return nil
		}
	}

	// Фильтруем в новый срез: компактация на месте затёрла бы запись,
	// на которую указывает job.
	active := s.load(ctx, activeKey)
	var job *entity.JobMetadata
	remaining := make([]entity.JobMetadata, 0, len(active))
	for i := range active {
		if active[i].JobID == jobID {
			j := active[i]
			job = &j
			continue
		}
		remaining = append(remaining, active[i])
	}
	if job == nil {
		return nil
	}
	if !job.Status.CanTransitionTo(entity.StatusCompleted) {
		return nil
	}

	job.Status = entity.StatusCompleted
	job.Result = result
	job.Error = ""
	job.LastUpdated = entity.NowMillis()

	completed = append([]entity.JobMetadata{*job}, completed...)
	if err := s.save(ctx, completedKey, completed); err != nil {
		return err
	}
	return s.save(ctx, activeKey, remaining)
}

// MarkFailed flags the active record as failed but keeps it in the
// active collection, matching the dashboard (a failed job stays
// visible until dismissed).
func (s *JobStore) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	return s.UpdateActive(ctx, jobID, func(j *entity.JobMetadata) {
		if !j.Status.CanTransitionTo(entity.StatusFailed) {
			return
		}
		j.Status = entity.StatusFailed
		j.Error = errMsg
	})
}

// Remove deletes the job from both collections.
func (s *JobStore) Remove(ctx context.Context, jobID string) error {
	active := without(s.load(ctx, activeKey), jobID)
	completed := without(s.load(ctx, completedKey), jobID)
	if err := s.save(ctx, activeKey, active); err != nil {
		return err
	}
	return s.save(ctx, completedKey, completed)
}

// Cleanup drops records older than JobExpiryHours from both
// collections. Called once per coordinator initialization.
func (s *JobStore) Cleanup(ctx context.Context) error {
	cutoff := time.Now().Add(-JobExpiryHours * time.Hour).UnixMilli()

	fresh := func(jobs []entity.JobMetadata) []entity.JobMetadata {
		out := jobs[:0]
		for _, j := range jobs {
			if j.SubmittedAt > cutoff {
				out = append(out, j)
			}
		}
		return out
	}

	if err := s.save(ctx, activeKey, fresh(s.load(ctx, activeKey))); err != nil {
		return err
	}
	return s.save(ctx, completedKey, fresh(s.load(ctx, completedKey)))
}

func without(jobs []entity.JobMetadata, jobID string) []entity.JobMetadata {
	out := jobs[:0]
	for _, j := range jobs {
		if j.JobID != jobID {
			out = append(out, j)
		}
	}
	return out
}
