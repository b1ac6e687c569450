package worker

import "fmt"

// State is a step of the ingestion state machine. A job moves through them
// in declaration order or stops at StateFailed.
type State string

const (
	StateReceived      State = "received"
	StateDownloaded    State = "downloaded"
	StateTyped         State = "typed"
	StateLoaded        State = "loaded"
	StateChunked       State = "chunked"
	StateEmbedded      State = "embedded"
	StatePersistQueued State = "persisted-queued"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

type FailureReason string

const (
	ReasonNotFound        FailureReason = "NotFound"
	ReasonTransientIO     FailureReason = "TransientIO"
	ReasonUnsupportedType FailureReason = "UnsupportedType"
	ReasonParseError      FailureReason = "ParseError"
	ReasonIndexWrite      FailureReason = "IndexWriteError"
	ReasonPersistEmit     FailureReason = "PersistEmitError"
	ReasonInvalidPayload  FailureReason = "InvalidPayload"
)

// JobError is the terminal error of one pipeline run. State is the last
// state the job reached before failing.
type JobError struct {
	Reason FailureReason
	State  State
	Err    error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s after %s: %v", e.Reason, e.State, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// Retryable reports whether delivering the job again may succeed. Content
// problems and blobs that never appeared are final.
func (e *JobError) Retryable() bool {
	switch e.Reason {
	case ReasonTransientIO, ReasonIndexWrite, ReasonPersistEmit:
		return true
	}
	return false
}

func fail(reason FailureReason, state State, err error) *JobError {
	return &JobError{Reason: reason, State: state, Err: err}
}
