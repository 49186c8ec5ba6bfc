package session

// State is the lifecycle position of a collection session.
type State string

// Session states.
const (
	StateIdle          State = "idle"
	StateConnecting    State = "connecting"
	StateStreamingRuns State = "streaming_runs"
	StateStreamingJobs State = "streaming_jobs"
	StateComplete      State = "complete"
	StateError         State = "error"
	StateCancelled     State = "cancelled"
)

// Terminal reports whether the session has finished, for any reason.
// A manager whose active session is terminal accepts new starts.
func (s State) Terminal() bool {
	switch s {
	case StateComplete, StateError, StateCancelled:
		return true
	default:
		return false
	}
}
