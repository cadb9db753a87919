package eventsourcing

import "errors"

var (
	// ErrStreamNotFound indicates that the requested stream does not exist in the event store
	ErrStreamNotFound = errors.New("stream not found")

	// ErrConcurrencyCheckFailed indicates that the expected stream version did not match
	// the current tip of the stream at commit time. The whole batch is rejected and the
	// caller should re-read the stream and retry the command
	ErrConcurrencyCheckFailed = errors.New("optimistic concurrency check failed: stream version exists")

	// ErrSubscriptionClosedByClient is produced by sub.Err if client cancels the subscription using sub.Close()
	ErrSubscriptionClosedByClient = errors.New("subscription closed by client")

	// ErrUnknownTopic indicates that no type has been registered for a topic
	// and the record cannot be decoded
	ErrUnknownTopic = errors.New("no type registered for topic")

	// ErrTranscodingFailed indicates that a payload is structurally invalid
	// for the type registered under its topic
	ErrTranscodingFailed = errors.New("transcoding failed")

	// ErrIntegrityCheckFailed indicates that an encrypted payload failed
	// authentication on decode. The record is surfaced as-is and never
	// partially decrypted
	ErrIntegrityCheckFailed = errors.New("payload integrity check failed")

	// ErrPersistenceFailed indicates that the backing storage rejected an
	// operation for reasons unrelated to the concurrency check. The core never
	// retries on its own; retry policy belongs to the caller
	ErrPersistenceFailed = errors.New("persistence failed")

	// ErrSnapshotNotFound indicates that no snapshot exists for a stream
	// at or below the requested version
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrSnapshotsNotConfigured indicates that the configured recorder
	// has no snapshot capability
	ErrSnapshotsNotConfigured = errors.New("no snapshot recorder configured")

	// ErrNotificationGap is produced by the strict consumer-side contiguity
	// check when observed sequence numbers are non-contiguous beyond the
	// configured tolerance
	ErrNotificationGap = errors.New("notification sequence gap detected")
)
