package job

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"docjobs/internal/apperrors"
)

// Callback limits
const (
	maxFiles        = 1000
	maxProgressLen  = 1024
	maxErrorLen     = 4096
	maxFilePathLen  = 512
	maxStepsAllowed = 1_000_000
)

// Callback outcomes recorded in metrics.
const (
	outcomeApplied  = "applied"
	outcomeReplayed = "replayed"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

// HandleCallback authenticates and applies a worker event to its job.
//
// Canceled jobs reject every event. Terminal jobs accept only an exact replay
// of the terminal status they already hold, which is a no-op. Documents from
// a complete event are written in the same record update that sets
// completed; if that write fails the job is settled to failed instead.
func (s *Service) HandleCallback(ctx context.Context, token string, evt *Event) (*CallbackResult, error) {
	if err := validateEvent(evt); err != nil {
		return nil, err
	}
	logger := s.logger.With("jobId", evt.JobID, "eventType", evt.Type)

	target, err := targetStatus(evt)
	if err != nil {
		s.metrics.RecordCallback(ctx, string(evt.Type), outcomeRejected)
		return nil, err
	}

	var (
		docs    []Document
		summary *Summary
	)
	if target == StatusCompleted && evt.Type == EventComplete && evt.Files != nil {
		docs, summary = BuildDocuments(evt.Files)
	}

	j, changed, err := s.mutate(ctx, evt.JobID, func(j *Job) (bool, error) {
		if token == "" {
			return false, apperrors.Unauthorized("callback token is required")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(j.CallbackToken)) != 1 {
			return false, apperrors.Unauthorized("callback token does not match job")
		}
		if j.Status == StatusCanceled {
			return false, apperrors.StateConflict("job", fmt.Sprintf("job %s was canceled", j.ID))
		}
		if j.Status.IsTerminal() {
			if j.Status == target {
				return false, nil
			}
			return false, apperrors.StateConflict("job", fmt.Sprintf("job %s is already %s", j.ID, j.Status))
		}
		applyEvent(j, evt, target, docs, summary)
		return true, nil
	})
	if err != nil {
		var appErr *apperrors.Error
		if !errors.As(err, &appErr) || appErr.Sentinel == apperrors.ErrUnavailable || appErr.Sentinel == apperrors.ErrInternal {
			if docs != nil {
				s.failPersist(ctx, evt.JobID, token, err)
			}
			s.metrics.RecordCallback(ctx, string(evt.Type), outcomeFailed)
			logger.Error("Callback could not be applied", "error", err)
			return nil, err
		}
		s.metrics.RecordCallback(ctx, string(evt.Type), outcomeRejected)
		logger.Warn("Callback rejected", "error", err)
		return nil, err
	}

	if !changed {
		s.metrics.RecordCallback(ctx, string(evt.Type), outcomeReplayed)
		logger.Info("Callback replay ignored", "status", j.Status)
		return &CallbackResult{Success: true, Type: evt.Type, Status: j.Status}, nil
	}

	s.metrics.RecordCallback(ctx, string(evt.Type), outcomeApplied)
	if j.Status.IsTerminal() {
		s.settled(ctx, j)
		logger.Info("Job finished", "status", j.Status, "documents", len(j.Documents))
	} else {
		logger.Debug("Job progressed", "status", j.Status, "step", j.CurrentStep, "totalSteps", j.TotalSteps)
	}
	s.notify(ctx, j)

	return &CallbackResult{Success: true, Type: evt.Type, Status: j.Status}, nil
}

// failPersist settles a job to failed after its completion artifacts could
// not be stored, so it never reads as completed without documents.
func (s *Service) failPersist(ctx context.Context, jobID, token string, cause error) {
	j, changed, err := s.mutate(ctx, jobID, func(j *Job) (bool, error) {
		if subtle.ConstantTimeCompare([]byte(token), []byte(j.CallbackToken)) != 1 || j.Status.IsTerminal() {
			return false, nil
		}
		j.Status = StatusFailed
		j.Error = fmt.Sprintf("failed to persist generated documents: %v", cause)
		j.Documents = nil
		j.Summary = nil
		return true, nil
	})
	if err != nil {
		s.logger.Error("Failed to settle job after persistence failure", "jobId", jobID, "error", err)
		return
	}
	if changed {
		s.settled(ctx, j)
		s.notify(ctx, j)
	}
}

// targetStatus resolves the status an event moves the job to: the explicit
// status if present, else by event type, else inferred from progress text.
func targetStatus(evt *Event) (Status, error) {
	if evt.Status != "" {
		st, ok := ParseStatus(evt.Status)
		if !ok {
			return "", apperrors.Validation("status", fmt.Sprintf("unknown status %q", evt.Status))
		}
		if st == StatusDead {
			return "", apperrors.Validation("status", "status dead is reserved for stuck-job recovery")
		}
		return st, nil
	}

	switch evt.Type {
	case EventComplete:
		return StatusCompleted, nil
	case EventError:
		return StatusFailed, nil
	default:
		progress := ""
		if evt.Progress != nil {
			progress = *evt.Progress
		}
		return InferStatus(progress), nil
	}
}

// applyEvent merges event fields into the job. Step counters never decrease.
func applyEvent(j *Job, evt *Event, target Status, docs []Document, summary *Summary) {
	j.Status = target

	if evt.Progress != nil {
		j.Progress = *evt.Progress
	}
	if evt.Step != nil && *evt.Step > j.CurrentStep {
		j.CurrentStep = *evt.Step
	}
	if evt.TotalSteps != nil && *evt.TotalSteps > j.TotalSteps {
		j.TotalSteps = *evt.TotalSteps
	}
	if evt.Error != nil {
		j.Error = *evt.Error
	}

	switch target {
	case StatusCompleted:
		if docs != nil {
			j.Documents = docs
			j.Summary = summary
		}
		if j.TotalSteps > 0 {
			j.CurrentStep = j.TotalSteps
		}
		if evt.Progress == nil {
			j.Progress = "Completed"
		}
	case StatusFailed:
		if j.Error == "" {
			j.Error = "worker reported a failure"
		}
	}
}

// validateEvent validates a callback event. Does not modify the event.
func validateEvent(evt *Event) error {
	if evt.JobID == "" {
		return apperrors.Validation("jobId", "jobId is required")
	}
	if len(evt.JobID) > maxIDLength {
		return apperrors.Validation("jobId", fmt.Sprintf("jobId exceeds maximum length of %d", maxIDLength))
	}

	switch evt.Type {
	case EventProgress, EventComplete, EventError:
	case "":
		return apperrors.Validation("type", "type is required")
	default:
		return apperrors.Validation("type", fmt.Sprintf("type must be one of progress, complete, error; got %q", evt.Type))
	}

	if evt.Progress != nil && len(*evt.Progress) > maxProgressLen {
		return apperrors.Validation("progress", fmt.Sprintf("progress exceeds maximum length of %d", maxProgressLen))
	}
	if evt.Error != nil && len(*evt.Error) > maxErrorLen {
		return apperrors.Validation("error", fmt.Sprintf("error exceeds maximum length of %d", maxErrorLen))
	}
	if evt.Step != nil && (*evt.Step < 0 || *evt.Step > maxStepsAllowed) {
		return apperrors.Validation("step", "step must be a non-negative integer")
	}
	if evt.TotalSteps != nil && (*evt.TotalSteps < 0 || *evt.TotalSteps > maxStepsAllowed) {
		return apperrors.Validation("totalSteps", "totalSteps must be a non-negative integer")
	}

	if len(evt.Files) > maxFiles {
		return apperrors.Validation("files", fmt.Sprintf("files exceed maximum of %d", maxFiles))
	}
	for i, f := range evt.Files {
		if f.Path == "" {
			return apperrors.Validation("files", fmt.Sprintf("files[%d].path is required", i))
		}
		if len(f.Path) > maxFilePathLen {
			return apperrors.Validation("files", fmt.Sprintf("files[%d].path exceeds maximum length of %d", i, maxFilePathLen))
		}
	}
	return nil
}
