package job

import "time"

// Job is one documentation-generation run tied to a repository.
type Job struct {
	ID              string     `json:"id"`
	RepositoryID    string     `json:"repositoryId"`
	UserID          string     `json:"userId"`
	Prompt          string     `json:"prompt,omitempty"`
	Status          Status     `json:"status"`
	CallbackToken   string     `json:"callbackToken"`
	Progress        string     `json:"progress,omitempty"`
	CurrentStep     int        `json:"currentStep"`
	TotalSteps      int        `json:"totalSteps"`
	Error           string     `json:"error,omitempty"`
	CancelRequested bool       `json:"cancelRequested"`
	CancelReason    string     `json:"cancelReason,omitempty"`
	Documents       []Document `json:"documents,omitempty"`
	Summary         *Summary   `json:"summary,omitempty"`
	Version         int64      `json:"version"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate without sharing slices.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Documents != nil {
		cp.Documents = append([]Document(nil), j.Documents...)
	}
	if j.Summary != nil {
		s := *j.Summary
		cp.Summary = &s
	}
	return &cp
}

// DocumentKind classifies a generated artifact.
type DocumentKind string

const (
	KindChapter  DocumentKind = "chapter"
	KindTutorial DocumentKind = "tutorial"
	KindTOC      DocumentKind = "toc"
	KindYAML     DocumentKind = "yaml"
)

// Document is a generated artifact attached on successful completion.
type Document struct {
	Path    string       `json:"path"`
	Kind    DocumentKind `json:"kind"`
	Order   int          `json:"order"`
	Content string       `json:"content,omitempty"`
}

// Summary counts documents by kind.
type Summary struct {
	ChaptersCount  int `json:"chaptersCount"`
	TutorialsCount int `json:"tutorialsCount"`
	TOCCount       int `json:"tocCount"`
	YAMLCount      int `json:"yamlCount"`
}

// AdmitRequest represents a request to start documentation generation.
type AdmitRequest struct {
	RepositoryID string `json:"repositoryId"`
	UserID       string `json:"userId"`
	Prompt       string `json:"prompt"`
}

// AdmitResult is returned from admission. CallbackToken is only set for the
// caller that created the job.
type AdmitResult struct {
	JobID         string `json:"jobId"`
	CallbackToken string `json:"callbackToken,omitempty"`
	Status        Status `json:"status"`
	Existing      bool   `json:"existing"`
}

// EventType is the kind of worker callback.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// File is a generated file reported by the worker on completion.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Type    string `json:"type,omitempty"`
}

// Event is a worker-originated callback. Optional fields are pointers so an
// absent field leaves the stored value untouched.
type Event struct {
	JobID      string    `json:"jobId"`
	Type       EventType `json:"type"`
	Status     string    `json:"status,omitempty"`
	Progress   *string   `json:"progress,omitempty"`
	Step       *int      `json:"step,omitempty"`
	TotalSteps *int      `json:"totalSteps,omitempty"`
	Error      *string   `json:"error,omitempty"`
	Files      []File    `json:"files,omitempty"`
}

// CallbackResult echoes the accepted event.
type CallbackResult struct {
	Success bool      `json:"success"`
	Type    EventType `json:"type"`
	Status  Status    `json:"status"`
}

// Projection is the read-only view returned to clients.
type Projection struct {
	ID              string   `json:"id"`
	Status          Status   `json:"status"`
	CancelRequested bool     `json:"cancelRequested"`
	CurrentStep     int      `json:"currentStep"`
	TotalSteps      int      `json:"totalSteps"`
	Progress        string   `json:"progress"`
	Error           string   `json:"error,omitempty"`
	Summary         *Summary `json:"summary,omitempty"`
}

// ReclaimRequest filters a stuck-job sweep. An empty name sweeps every repository.
type ReclaimRequest struct {
	RepositoryFullName string `json:"repositoryFullName"`
}

// ReclaimResult reports a stuck-job sweep.
type ReclaimResult struct {
	ClearedJobsCount      int `json:"clearedJobsCount"`
	RepositoriesProcessed int `json:"repositoriesProcessed"`
}

func project(j *Job) *Projection {
	return &Projection{
		ID:              j.ID,
		Status:          j.Status,
		CancelRequested: j.CancelRequested,
		CurrentStep:     j.CurrentStep,
		TotalSteps:      j.TotalSteps,
		Progress:        j.Progress,
		Error:           j.Error,
		Summary:         j.Summary,
	}
}
