package engine

// EventType classifies transfer events emitted while an upload or download
// is in flight.
type EventType string

const (
	EventProgress EventType = "progress"
	EventSuccess  EventType = "success"
	EventFailure  EventType = "failure"
)

// TransferEvent is one discrete result from a transfer operation. Progress
// events carry a percentage; failure events carry the classified error. For
// uploads the JobID is the temporary id until the success event, which
// carries the canonical id.
type TransferEvent struct {
	Type    EventType
	JobID   string
	Percent int
	Err     error
}
