package reconcile

// EventKind store mutation type
type EventKind string

const (
	// EventInserted new record appended or inserted
	EventInserted EventKind = "inserted"
	// EventConfirmed temporary record replaced by the server record
	EventConfirmed EventKind = "confirmed"
	// EventMerged fan-in record merged into a known one
	EventMerged EventKind = "merged"
	// EventFailed submit failed, record queued
	EventFailed EventKind = "failed"
	// EventRetrying queued record is being re-sent
	EventRetrying EventKind = "retrying"
	// EventRead one record marked read
	EventRead EventKind = "read"
	// EventScopeRead every record of a scope marked read
	EventScopeRead EventKind = "scope_read"
	// EventReplaced scope replaced by a snapshot
	EventReplaced EventKind = "replaced"
	// EventRemoved record or scope removed
	EventRemoved EventKind = "removed"
	// EventCleared store cleared
	EventCleared EventKind = "cleared"
)

// Event is delivered to subscribers after each mutation.
// Record is the zero value for scope level events.
type Event[T any] struct {
	Kind   EventKind
	Scope  string
	Record T
	TempID string
}
