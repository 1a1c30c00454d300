package redis

// All keys are prefixed with "docjobs:" to avoid collisions.
const keyPrefix = "docjobs:"

// jobKey returns the hash key for a job: docjobs:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// activeJobsKey is the Set of every non-terminal job ID.
const activeJobsKey = keyPrefix + "active_jobs"

// repoActiveJobsKey returns the Set of non-terminal job IDs for a repository.
func repoActiveJobsKey(repositoryID string) string {
	return keyPrefix + "repo_active_jobs:" + repositoryID
}

// pointerKey returns the hash holding a repository's active-job pointer.
func pointerKey(repositoryID string) string { return keyPrefix + "active:" + repositoryID }

// repositoryKey returns the hash for a catalog repository.
func repositoryKey(id string) string { return keyPrefix + "repository:" + id }

// repositoryNamesKey maps full names to repository IDs.
const repositoryNamesKey = keyPrefix + "repository_names"

// userKey returns the hash for a catalog user.
func userKey(id string) string { return keyPrefix + "user:" + id }
