package entity

import "encoding/json"

type StateKind string

const (
	StateIdle       StateKind = "idle"
	StateProcessing StateKind = "processing"
	StateCompleted  StateKind = "completed"
	StateFailed     StateKind = "failed"
)

// UIState is what the presentation layer renders. Only the fields of
// the active Kind are meaningful; the rest are zero.
type UIState struct {
	Kind StateKind

	// processing
	Progress int
	Stage    string
	Message  string

	// completed; opaque payload from the analysis API
	Result json.RawMessage

	// failed
	Error     string
	Retryable bool
}

func (s UIState) Terminal() bool {
	return s.Kind == StateCompleted || s.Kind == StateFailed
}

func Idle() UIState {
	return UIState{Kind: StateIdle}
}

func Processing(progress int, stage, message string) UIState {
	return UIState{Kind: StateProcessing, Progress: progress, Stage: stage, Message: message}
}

func Completed(result json.RawMessage) UIState {
	return UIState{Kind: StateCompleted, Result: result}
}

func Failed(errMsg string, retryable bool) UIState {
	return UIState{Kind: StateFailed, Error: errMsg, Retryable: retryable}
}
