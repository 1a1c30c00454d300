package redis

import (
	"context"
	"errors"
	"io"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"docjobs/internal/apperrors"
	"docjobs/internal/job"
)

func TestDecodeJob(t *testing.T) {
	t.Parallel()

	j, err := decodeJob(`{"id":"j1","status":"running","version":1,"callbackToken":"tok"}`, "7")
	if err != nil {
		t.Fatalf("decodeJob failed: %v", err)
	}
	if j.ID != "j1" || j.Status != job.StatusRunning || j.CallbackToken != "tok" {
		t.Errorf("unexpected job %+v", j)
	}
	if j.Version != 7 {
		t.Errorf("hash version should win, got %d", j.Version)
	}

	if _, err := decodeJob(`{`, "1"); err == nil {
		t.Error("expected error for malformed document")
	}
	if _, err := decodeJob(42, "1"); err == nil {
		t.Error("expected error for non-string document")
	}
	if _, err := decodeJob(`{"id":"j1"}`, "x"); err == nil {
		t.Error("expected error for malformed version")
	}
}

func TestActiveFlag(t *testing.T) {
	t.Parallel()

	for _, st := range job.ActiveStatuses {
		if got := activeFlag(&job.Job{Status: st}); got != "1" {
			t.Errorf("%s: expected active flag, got %q", st, got)
		}
	}
	for _, st := range []job.Status{job.StatusCompleted, job.StatusFailed, job.StatusCanceled, job.StatusDead} {
		if got := activeFlag(&job.Job{Status: st}); got != "0" {
			t.Errorf("%s: expected inactive flag, got %q", st, got)
		}
	}
}

func TestWrap(t *testing.T) {
	t.Parallel()

	if err := wrap("get job", io.EOF); !apperrors.IsRetryable(err) {
		t.Errorf("network errors should be retryable, got %v", err)
	}
	if err := wrap("get job", goredis.Nil); apperrors.IsRetryable(err) {
		t.Errorf("server replies should not be retryable, got %v", err)
	}
	if err := wrap("get job", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Errorf("cancellation should pass through, got %v", err)
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		got, want string
	}{
		{jobKey("j1"), "docjobs:job:j1"},
		{pointerKey("r1"), "docjobs:active:r1"},
		{repoActiveJobsKey("r1"), "docjobs:repo_active_jobs:r1"},
		{repositoryKey("r1"), "docjobs:repository:r1"},
		{userKey("u1"), "docjobs:user:u1"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
