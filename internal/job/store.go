package job

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrVersionConflict is returned by Store.Update when the stored version
	// no longer matches the caller's expected version.
	ErrVersionConflict = errors.New("job version conflict")

	// ErrAlreadyExists is returned by Store.Create for a duplicate job ID.
	ErrAlreadyExists = errors.New("job already exists")
)

// ActiveClaim is the repository-scoped pointer to the job holding the
// single active slot.
type ActiveClaim struct {
	JobID     string    `json:"jobId"`
	ClaimedAt time.Time `json:"claimedAt"`
}

// Store is the persistent job store. Every mutation is a single-record
// conditional write; the repository active pointer provides the second-order
// coordination for single-active-job admission.
//
// Missing records are reported with an apperrors.NotFound error and transient
// backend failures with apperrors.Unavailable.
type Store interface {
	// Create persists a new job. Returns ErrAlreadyExists for a duplicate ID.
	Create(ctx context.Context, j *Job) error

	// Get returns a copy of the job.
	Get(ctx context.Context, jobID string) (*Job, error)

	// Update replaces the job if its stored version equals expectedVersion.
	// On success j.Version is expectedVersion+1 and j.UpdatedAt is refreshed.
	Update(ctx context.Context, j *Job, expectedVersion int64) error

	// ClaimActive sets the repository's active pointer to jobID if no pointer
	// exists. It returns the current claim and whether jobID now holds it.
	ClaimActive(ctx context.Context, repositoryID, jobID string) (ActiveClaim, bool, error)

	// SwapActive moves the pointer from oldJobID to newJobID. Returns false if
	// the pointer no longer names oldJobID.
	SwapActive(ctx context.Context, repositoryID, oldJobID, newJobID string) (bool, error)

	// ReleaseActive deletes the pointer only if it still names jobID.
	ReleaseActive(ctx context.Context, repositoryID, jobID string) error

	// ListActive returns non-terminal jobs for a repository, or for every
	// repository when repositoryID is empty.
	ListActive(ctx context.Context, repositoryID string) ([]*Job, error)

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
}

// Repository is a source repository known to the catalog.
type Repository struct {
	ID       string `json:"id" yaml:"id"`
	FullName string `json:"fullName" yaml:"fullName"`
}

// User is an end user known to the catalog.
type User struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name"`
}

// Catalog resolves the external repository and user references a job carries.
type Catalog interface {
	Repository(ctx context.Context, id string) (*Repository, error)
	RepositoryByFullName(ctx context.Context, fullName string) (*Repository, error)
	User(ctx context.Context, id string) (*User, error)
}

// Launcher starts the external worker for a newly admitted job.
type Launcher interface {
	Launch(ctx context.Context, j *Job) error
}

// Notifier is told about every committed status change. Implementations
// must not block.
type Notifier interface {
	JobChanged(ctx context.Context, j *Job)
}
