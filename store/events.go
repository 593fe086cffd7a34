package store

import "time"

// EventKind names an object lifecycle transition.
type EventKind string

// Object lifecycle events
const (
	EventCreated EventKind = "created"
	EventSealed  EventKind = "sealed"
	EventAborted EventKind = "aborted"
	EventDeleted EventKind = "deleted"
	EventEvicted EventKind = "evicted"
)

// Event reports a lifecycle transition of one object.
type Event struct {
	Kind EventKind `json:"kind"`
	ID   ObjectID  `json:"id"`
	Size int64     `json:"size"`
	Time time.Time `json:"time"`
}

// Notifier receives store events. Notify is called with the object table
// locked and must not block.
type Notifier interface {
	Notify(ev Event) error
}
