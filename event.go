package eventsourcing

import "time"

// EventToStore represents an event that is to be stored in the event store
type EventToStore struct {
	Event any

	// Optional
	ID                 string
	CausationEventID   string
	CorrelationEventID string
	Meta               map[string]string
	OccurredOn         time.Time
}

// StoredEvent is the persisted form of an event. Data holds the mapper
// encoded payload and is opaque to recorders. Sequence is the global
// notification sequence number assigned at commit time
type StoredEvent struct {
	ID                 string
	Sequence           uint64
	StreamID           string
	StreamVersion      uint64
	Topic              string
	Data               []byte
	Meta               map[string]string
	CausationEventID   *string
	CorrelationEventID *string
	OccurredOn         time.Time
}

// EventData holds a decoded stored event along with its meta data
type EventData struct {
	Event any
	Meta  map[string]string

	ID                 string
	Sequence           uint64
	Topic              string
	CausationEventID   *string
	CorrelationEventID *string
	StreamID           string
	StreamVersion      uint64
	OccurredOn         time.Time
}

// Snapshot is a compacted stream state persisted at a specific version.
// Snapshots are derived data - deleting them never changes observable
// stream state, only reconstruction cost
type Snapshot struct {
	StreamID      string
	StreamVersion uint64
	Topic         string
	Data          []byte
	TakenOn       time.Time
}

// SnapshotData holds a decoded snapshot
type SnapshotData struct {
	State any

	StreamID      string
	StreamVersion uint64
	Topic         string
	TakenOn       time.Time
}
