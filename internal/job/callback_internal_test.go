package job

import (
	"errors"
	"strings"
	"testing"

	"docjobs/internal/apperrors"
)

func ptr[T any](v T) *T { return &v }

func TestValidateEvent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		evt     Event
		field   string
		wantErr bool
	}{
		{"valid progress", Event{JobID: "j1", Type: EventProgress, Progress: ptr("Cloning")}, "", false},
		{"valid complete with files", Event{JobID: "j1", Type: EventComplete, Files: []File{{Path: "ch1.md"}}}, "", false},
		{"missing jobId", Event{Type: EventProgress}, "jobId", true},
		{"long jobId", Event{JobID: strings.Repeat("x", maxIDLength+1), Type: EventProgress}, "jobId", true},
		{"missing type", Event{JobID: "j1"}, "type", true},
		{"unknown type", Event{JobID: "j1", Type: "finished"}, "type", true},
		{"long progress", Event{JobID: "j1", Type: EventProgress, Progress: ptr(strings.Repeat("p", maxProgressLen+1))}, "progress", true},
		{"long error", Event{JobID: "j1", Type: EventError, Error: ptr(strings.Repeat("e", maxErrorLen+1))}, "error", true},
		{"negative step", Event{JobID: "j1", Type: EventProgress, Step: ptr(-1)}, "step", true},
		{"negative totalSteps", Event{JobID: "j1", Type: EventProgress, TotalSteps: ptr(-3)}, "totalSteps", true},
		{"file without path", Event{JobID: "j1", Type: EventComplete, Files: []File{{Content: "x"}}}, "files", true},
		{"too many files", Event{JobID: "j1", Type: EventComplete, Files: make([]File, maxFiles+1)}, "files", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validateEvent(&tt.evt)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var appErr *apperrors.Error
			if !errors.As(err, &appErr) || !errors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if appErr.Field != tt.field {
				t.Errorf("field = %q, expected %q", appErr.Field, tt.field)
			}
		})
	}
}

func TestTargetStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		evt      Event
		expected Status
		wantErr  bool
	}{
		{"explicit status wins", Event{Type: EventProgress, Status: "gathering", Progress: ptr("Cloning")}, StatusGathering, false},
		{"explicit terminal on progress", Event{Type: EventProgress, Status: "failed"}, StatusFailed, false},
		{"complete", Event{Type: EventComplete}, StatusCompleted, false},
		{"error", Event{Type: EventError}, StatusFailed, false},
		{"inferred cloning", Event{Type: EventProgress, Progress: ptr("Cloning repository X")}, StatusCloning, false},
		{"inferred analyzing", Event{Type: EventProgress, Progress: ptr("Running AI analysis")}, StatusAnalyzing, false},
		{"inferred running", Event{Type: EventProgress, Progress: ptr("Writing")}, StatusRunning, false},
		{"no progress", Event{Type: EventProgress}, StatusRunning, false},
		{"unknown status", Event{Type: EventProgress, Status: "paused"}, "", true},
		{"dead is reserved", Event{Type: EventError, Status: "dead"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := targetStatus(&tt.evt)
			if tt.wantErr {
				if !errors.Is(err, apperrors.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("targetStatus = %s, expected %s", got, tt.expected)
			}
		})
	}
}

func TestApplyEvent_StepsNeverDecrease(t *testing.T) {
	t.Parallel()

	j := &Job{Status: StatusRunning, CurrentStep: 4, TotalSteps: 10}
	applyEvent(j, &Event{Type: EventProgress, Step: ptr(2), TotalSteps: ptr(8)}, StatusRunning, nil, nil)

	if j.CurrentStep != 4 || j.TotalSteps != 10 {
		t.Errorf("steps went backwards: %d/%d", j.CurrentStep, j.TotalSteps)
	}

	applyEvent(j, &Event{Type: EventProgress, Step: ptr(6)}, StatusRunning, nil, nil)
	if j.CurrentStep != 6 {
		t.Errorf("expected step 6, got %d", j.CurrentStep)
	}
}

func TestApplyEvent_Completed(t *testing.T) {
	t.Parallel()

	docs, summary := BuildDocuments([]File{{Path: "ch1.md"}})
	j := &Job{Status: StatusRunning, CurrentStep: 3, TotalSteps: 5, Progress: "Writing"}
	applyEvent(j, &Event{Type: EventComplete}, StatusCompleted, docs, summary)

	if j.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", j.Status)
	}
	if j.CurrentStep != 5 {
		t.Errorf("expected current step to reach total, got %d", j.CurrentStep)
	}
	if j.Progress != "Completed" {
		t.Errorf("expected default progress, got %q", j.Progress)
	}
	if len(j.Documents) != 1 || j.Summary.ChaptersCount != 1 {
		t.Errorf("documents not attached: %+v %+v", j.Documents, j.Summary)
	}
}

func TestApplyEvent_FailedDefaultsError(t *testing.T) {
	t.Parallel()

	j := &Job{Status: StatusRunning}
	applyEvent(j, &Event{Type: EventError}, StatusFailed, nil, nil)
	if j.Error == "" {
		t.Error("expected a default error message")
	}

	j = &Job{Status: StatusRunning}
	applyEvent(j, &Event{Type: EventError, Error: ptr("clone failed")}, StatusFailed, nil, nil)
	if j.Error != "clone failed" {
		t.Errorf("expected worker error, got %q", j.Error)
	}
}
