package entity

import "testing"

func TestJobStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		ok       bool
	}{
		{StatusActive, StatusActive, true},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusFailed, true},
		{StatusFailed, StatusFailed, true},
		{StatusFailed, StatusCompleted, true},
		{StatusFailed, StatusActive, false},
		{StatusCompleted, StatusCompleted, true},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusActive, false},
		{JobStatus("bogus"), StatusActive, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.ok {
			t.Fatalf("%s -> %s: expected %v, got %v", c.from, c.to, c.ok, got)
		}
	}
}

func TestStageLabel(t *testing.T) {
	if got := StageLabel("fetching_comments"); got != "Fetching Comments" {
		t.Fatalf("expected display label, got %q", got)
	}
	// неизвестная стадия отображается как есть
	if got := StageLabel("resuming"); got != "resuming" {
		t.Fatalf("expected raw stage name, got %q", got)
	}
}
