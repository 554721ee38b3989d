package metrics

import "time"

// Recorder receives engine events. Labels carry at least "network".
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Event names emitted by the engine.
const (
	EventBatchPrepared      = "batch_prepared"
	EventBatchSubmitted     = "batch_submitted"
	EventSubmitFailed       = "submit_failed"
	EventUserRejected       = "user_rejected"
	EventAtomicSupported    = "atomic_supported"
	EventAtomicUnsupported  = "atomic_unsupported"
	EventCapabilityError    = "capability_error"
	EventPollQuery          = "poll_query"
	EventPollSkipped        = "poll_skipped"
	EventPollTransportError = "poll_transport_error"
	EventBatchCompleted     = "batch_completed"
	EventBatchFailed        = "batch_failed"
)

// Operation names for latency observations.
const (
	OpSubmit          = "submit"
	OpCapabilityQuery = "capability_query"
	OpStatusQuery     = "status_query"
	OpSettlement      = "settlement" // submission to terminal status
)

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
