package eventsourcing

import "context"

const (
	// InitialStreamVersion can be used as an initial expectedVer for
	// new streams (as an argument to AppendStream)
	InitialStreamVersion uint64 = 0

	// DefaultNotificationPageSize bounds notification reads which specify
	// neither a stop sequence nor an explicit limit
	DefaultNotificationPageSize = 100
)

// Recorder is the durable storage contract the event store depends on.
// A recorder owns the append-only log and the global notification sequence.
//
// AppendStream receives events whose StreamVersion fields are already
// assigned contiguously starting at expectedVersion+1 and must, within one
// atomic transaction: verify that the current tip of the stream equals
// expectedVersion (failing the whole batch with ErrConcurrencyCheckFailed
// otherwise), assign each event the next value of the global sequence in
// batch order, and persist all events. Partially committed batches must
// never become visible to readers. The assigned sequence numbers are
// returned in batch order.
//
// ReadStream and ReadNotifications only ever observe committed batches
// and never block writers
type Recorder interface {
	AppendStream(ctx context.Context, streamID string, expectedVersion uint64, events []StoredEvent) ([]uint64, error)
	ReadStream(ctx context.Context, streamID string, opts ...ReadStreamOpt) ([]StoredEvent, error)
	ReadNotifications(ctx context.Context, from uint64, opts ...ReadNotificationsOpt) ([]StoredEvent, error)
	Close() error
}

// SnapshotRecorder is the storage contract for the parallel snapshot
// stream. Snapshots are keyed by (streamID, streamVersion) and are never
// authoritative - a recorder may drop them at any time
type SnapshotRecorder interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error

	// LoadSnapshot returns the snapshot with the greatest version at or
	// below maxVersion (0 meaning latest) or ErrSnapshotNotFound
	LoadSnapshot(ctx context.Context, streamID string, maxVersion uint64) (*Snapshot, error)
}

// ReadStreamConfig (configure using ReadStreamOpt)
type ReadStreamConfig struct {
	// FromVersion is the inclusive lower version bound (0 means from the start)
	FromVersion uint64

	// ToVersion is the inclusive upper version bound (0 means to the end)
	ToVersion uint64

	// Descending reverses the version order of the result
	Descending bool

	// Limit caps the number of events returned (0 means no cap)
	Limit int
}

// ReadStreamOpt represents a read stream option
type ReadStreamOpt func(ReadStreamConfig) ReadStreamConfig

// WithFromVersion is a read stream option that sets the inclusive lower
// version bound
func WithFromVersion(v uint64) ReadStreamOpt {
	return func(cfg ReadStreamConfig) ReadStreamConfig {
		cfg.FromVersion = v

		return cfg
	}
}

// WithToVersion is a read stream option that sets the inclusive upper
// version bound
func WithToVersion(v uint64) ReadStreamOpt {
	return func(cfg ReadStreamConfig) ReadStreamConfig {
		cfg.ToVersion = v

		return cfg
	}
}

// WithDescending is a read stream option that reverses the version order
func WithDescending() ReadStreamOpt {
	return func(cfg ReadStreamConfig) ReadStreamConfig {
		cfg.Descending = true

		return cfg
	}
}

// WithReadLimit is a read stream option that caps the number of events read
func WithReadLimit(n int) ReadStreamOpt {
	return func(cfg ReadStreamConfig) ReadStreamConfig {
		cfg.Limit = n

		return cfg
	}
}

// ReadNotificationsConfig (configure using ReadNotificationsOpt)
type ReadNotificationsConfig struct {
	// To is the inclusive stop sequence (0 means bounded by Limit only)
	To uint64

	// Topics filters the result to the given topics (empty means all)
	Topics []string

	// Limit caps the page size. When both To and Limit are zero the page
	// is bounded by DefaultNotificationPageSize
	Limit int
}

// ReadNotificationsOpt represents a read notifications option
type ReadNotificationsOpt func(ReadNotificationsConfig) ReadNotificationsConfig

// WithStopSequence is a read notifications option that sets the inclusive
// stop sequence
func WithStopSequence(to uint64) ReadNotificationsOpt {
	return func(cfg ReadNotificationsConfig) ReadNotificationsConfig {
		cfg.To = to

		return cfg
	}
}

// WithTopics is a read notifications option that filters the result to
// the given topics
func WithTopics(topics ...string) ReadNotificationsOpt {
	return func(cfg ReadNotificationsConfig) ReadNotificationsConfig {
		cfg.Topics = topics

		return cfg
	}
}

// WithLimit is a read notifications option that caps the page size
func WithLimit(n int) ReadNotificationsOpt {
	return func(cfg ReadNotificationsConfig) ReadNotificationsConfig {
		cfg.Limit = n

		return cfg
	}
}
