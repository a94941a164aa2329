package entity

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	StatusActive    JobStatus = "active"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Переходы только вперёд: запись не возвращается в active, а
// completed не перезаписывается. Локальный failed — предварительная
// отметка (таймаут, обрыв связи); сервер позже может дать completed.
var allowedTransitions = map[JobStatus]map[JobStatus]bool{
	StatusActive: {
		StatusActive:    true,
		StatusCompleted: true,
		StatusFailed:    true,
	},
	StatusFailed: {
		StatusFailed:    true,
		StatusCompleted: true,
	},
	StatusCompleted: {StatusCompleted: true},
}

func (s JobStatus) CanTransitionTo(to JobStatus) bool {
	next, ok := allowedTransitions[s]
	if !ok {
		return false
	}
	return next[to]
}

// JobMetadata is the persisted record of one submitted analysis.
// Timestamps are unix milliseconds to stay compatible with the JSON
// the dashboard already writes into browser storage.
type JobMetadata struct {
	JobID       string          `json:"jobId"`
	VideoID     string          `json:"videoId"`
	VideoURL    string          `json:"videoUrl"`
	Status      JobStatus       `json:"status"`
	SubmittedAt int64           `json:"submittedAt"`
	LastUpdated int64           `json:"lastUpdated"`
	Progress    *int            `json:"progress,omitempty"`
	Stage       string          `json:"stage,omitempty"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// ProgressEvent is one realtime progress frame for a job.
type ProgressEvent struct {
	JobID      string `json:"jobId"`
	VideoID    string `json:"videoId"`
	Stage      string `json:"stage"`
	Message    string `json:"message"`
	Percentage int    `json:"percentage"`
	Timestamp  int64  `json:"timestamp"`
}

type ErrorEvent struct {
	JobID     string `json:"jobId"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

// StageLabels maps server stage names to display labels.
var StageLabels = map[string]string{
	"queued":                 "Initializing Analysis",
	"fetching_comments":      "Fetching Comments",
	"fetching_transcript":    "Fetching Transcript",
	"classifying_comments":   "Analyzing Sentiment",
	"analyzing_emotions":     "Understanding Emotions",
	"analyzing_loved":        "Finding What Viewers Loved",
	"analyzing_improvements": "Identifying Improvements",
	"summarizing":            "Generating Report",
	"completed":              "Complete",
}

// StageLabel returns the display label for a stage, falling back to
// the raw stage name.
func StageLabel(stage string) string {
	if label, ok := StageLabels[stage]; ok {
		return label
	}
	return stage
}
