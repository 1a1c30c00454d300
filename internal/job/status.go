package job

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusCloning   Status = "cloning"
	StatusAnalyzing Status = "analyzing"
	StatusGathering Status = "gathering"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	StatusDead      Status = "dead"
)

var allStatuses = map[Status]bool{
	StatusPending:   false,
	StatusClaimed:   false,
	StatusCloning:   false,
	StatusAnalyzing: false,
	StatusGathering: false,
	StatusRunning:   false,
	StatusCompleted: true,
	StatusFailed:    true,
	StatusCanceled:  true,
	StatusDead:      true,
}

// ActiveStatuses lists the non-terminal statuses in lifecycle order.
var ActiveStatuses = []Status{
	StatusPending,
	StatusClaimed,
	StatusCloning,
	StatusAnalyzing,
	StatusGathering,
	StatusRunning,
}

// ParseStatus returns the status named by s.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	_, ok := allStatuses[st]
	return st, ok
}

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	return allStatuses[s]
}

// CanTransition reports whether the state machine allows from -> to.
// Non-terminal states move freely among themselves and to one terminal state.
// Dead is only entered by the reclaimer, which passes viaReclaim.
func CanTransition(from, to Status, viaReclaim bool) bool {
	if _, ok := allStatuses[to]; !ok {
		return false
	}
	if from.IsTerminal() {
		return false
	}
	if to == StatusDead {
		return viaReclaim
	}
	return true
}
