package job

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"docjobs/internal/dispatcher"
	"docjobs/pkg/cloudevent"
)

// EventTypeStatus is the CloudEvent type emitted on every committed status change.
const EventTypeStatus = "docjobs.job.status"

// EventNotifier publishes job status changes as signed CloudEvents through
// the async dispatcher. Delivery failures never affect the job itself.
type EventNotifier struct {
	dispatcher  dispatcher.Dispatcher
	destination string
	source      string
	signingKey  string
	logger      *slog.Logger
}

// NewEventNotifier creates a notifier posting to destination. An empty
// signingKey disables signatures.
func NewEventNotifier(d dispatcher.Dispatcher, destination, source, signingKey string) *EventNotifier {
	return &EventNotifier{
		dispatcher:  d,
		destination: destination,
		source:      source,
		signingKey:  signingKey,
		logger:      slog.With("component", "job-notifier"),
	}
}

// JobChanged queues a status event for j. Never blocks.
func (n *EventNotifier) JobChanged(_ context.Context, j *Job) {
	del := &dispatcher.Delivery{
		Payload:     BuildStatusEvent(j, n.source),
		Destination: n.destination,
		SigningKey:  n.signingKey,
	}
	if err := n.dispatcher.Dispatch(del); err != nil {
		n.logger.Warn("Status event not queued", "jobId", j.ID, "status", j.Status, "error", err)
	}
}

// BuildStatusEvent renders the status CloudEvent for a job. The event data
// is the client projection plus the repository it belongs to.
func BuildStatusEvent(j *Job, source string) *cloudevent.CloudEvent {
	data := map[string]any{
		"jobId":           j.ID,
		"repositoryId":    j.RepositoryID,
		"status":          j.Status,
		"cancelRequested": j.CancelRequested,
		"currentStep":     j.CurrentStep,
		"totalSteps":      j.TotalSteps,
		"progress":        j.Progress,
		"version":         j.Version,
	}
	if j.Error != "" {
		data["error"] = j.Error
	}
	if j.Summary != nil {
		data["summary"] = j.Summary
	}
	return cloudevent.New(EventTypeStatus, source, j.ID, uuid.NewString(), data)
}

var _ Notifier = (*EventNotifier)(nil)
