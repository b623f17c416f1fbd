// Package actor provides the small concurrency primitives the daemon's
// actor graph is built from: typed mailboxes, self-scheduled messages, a
// pub/sub broker, and a supervisor that restarts failed actors with
// backoff. It has no knowledge of datasets, containers, or snapshots —
// those live in pkg/actors, which is built on top of this.
package actor

// TerminalState is how a supervised actor's Run returned, driving whether
// the supervisor restarts it.
type TerminalState int

const (
	// Succeeded means the actor finished its work and should not restart.
	Succeeded TerminalState = iota
	// FailedRetry means the actor hit an error worth retrying.
	FailedRetry
	// FailedFinal means the actor hit an error that will not improve on
	// retry (bad config, for instance); the supervisor leaves it stopped.
	FailedFinal
	// Cancelled means the actor stopped because its context was
	// cancelled — normal shutdown, never restarted.
	Cancelled
	// Faulted is assigned by the supervisor itself when a panic is
	// recovered from the actor's Run; treated like FailedRetry.
	Faulted
)

func (s TerminalState) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case FailedRetry:
		return "failed_retry"
	case FailedFinal:
		return "failed_final"
	case Cancelled:
		return "cancelled"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Retryable reports whether the supervisor should restart an actor that
// returned this state.
func (s TerminalState) Retryable() bool {
	return s == FailedRetry || s == Faulted
}

// FromError derives a TerminalState the way a handler that just wraps a
// fallible operation usually wants to: nil is Succeeded, any error is
// FailedRetry. Handlers with finer-grained failure semantics should
// construct a TerminalState directly instead of calling this.
func FromError(err error) TerminalState {
	if err == nil {
		return Succeeded
	}
	return FailedRetry
}
