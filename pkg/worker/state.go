package worker

// State is the lifecycle position of one request inside a worker.
type State string

const (
	StateReceived     State = "RECEIVED"
	StateValidating   State = "VALIDATING"
	StateApproved     State = "APPROVED"
	StateRejected     State = "REJECTED"
	StatePublished    State = "PUBLISHED"
	StateAcknowledged State = "ACKNOWLEDGED"
	StateDeadLettered State = "DEAD_LETTERED"
	StateFailed       State = "FAILED"
)

// Verbosity selects which notifications a worker emits.
type Verbosity string

const (
	VerbosityNone    Verbosity = "none"
	VerbosityOutcome Verbosity = "outcome"
	VerbosityAll     Verbosity = "all"
)

func ParseVerbosity(s string) (Verbosity, bool) {
	switch v := Verbosity(s); v {
	case VerbosityNone, VerbosityOutcome, VerbosityAll:
		return v, true
	case "":
		return VerbosityOutcome, true
	}
	return "", false
}

func (v Verbosity) outcomes() bool { return v == VerbosityOutcome || v == VerbosityAll }
func (v Verbosity) progress() bool { return v == VerbosityAll }
