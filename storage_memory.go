package eventsourcing

import (
	"context"
	"sort"
	"sync"
)

// NewInMemoryRecorder constructs an in-memory Recorder and SnapshotRecorder.
// It is a correct (optimistic) store meant for tests and development - the
// global sequence is strictly contiguous and commits serialize on a single
// mutex
func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{
		streams:   make(map[string][]StoredEvent),
		snapshots: make(map[string][]Snapshot),
	}
}

// InMemoryRecorder is an in-memory Recorder and SnapshotRecorder
// implementation
type InMemoryRecorder struct {
	mu        sync.RWMutex
	seq       uint64
	log       []StoredEvent
	streams   map[string][]StoredEvent
	snapshots map[string][]Snapshot
}

// AppendStream appends the batch to the stream
func (r *InMemoryRecorder) AppendStream(
	_ context.Context,
	streamID string,
	expectedVersion uint64,
	events []StoredEvent) ([]uint64, error) {

	r.mu.Lock()
	defer r.mu.Unlock()

	var tip uint64

	stream := r.streams[streamID]

	if len(stream) > 0 {
		tip = stream[len(stream)-1].StreamVersion
	}

	if tip != expectedVersion {
		return nil, ErrConcurrencyCheckFailed
	}

	seqs := make([]uint64, len(events))

	for i, evt := range events {
		r.seq++

		evt.Sequence = r.seq
		evt.StreamID = streamID

		r.streams[streamID] = append(r.streams[streamID], evt)
		r.log = append(r.log, evt)

		seqs[i] = evt.Sequence
	}

	return seqs, nil
}

// ReadStream reads events recorded for the stream in version order
func (r *InMemoryRecorder) ReadStream(
	_ context.Context,
	streamID string,
	opts ...ReadStreamOpt) ([]StoredEvent, error) {

	var cfg ReadStreamConfig

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []StoredEvent

	for _, evt := range r.streams[streamID] {
		if cfg.FromVersion > 0 && evt.StreamVersion < cfg.FromVersion {
			continue
		}

		if cfg.ToVersion > 0 && evt.StreamVersion > cfg.ToVersion {
			continue
		}

		out = append(out, evt)
	}

	if len(out) == 0 {
		return nil, ErrStreamNotFound
	}

	if cfg.Descending {
		sort.Slice(out, func(i, j int) bool {
			return out[i].StreamVersion > out[j].StreamVersion
		})
	}

	if cfg.Limit > 0 && len(out) > cfg.Limit {
		out = out[:cfg.Limit]
	}

	return out, nil
}

// ReadNotifications reads a page of the global sequence starting at from
// (inclusive) in commit order
func (r *InMemoryRecorder) ReadNotifications(
	_ context.Context,
	from uint64,
	opts ...ReadNotificationsOpt) ([]StoredEvent, error) {

	var cfg ReadNotificationsConfig

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	limit := cfg.Limit

	if limit == 0 && cfg.To == 0 {
		limit = DefaultNotificationPageSize
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []StoredEvent

	for _, evt := range r.log {
		if evt.Sequence < from {
			continue
		}

		if cfg.To > 0 && evt.Sequence > cfg.To {
			break
		}

		if len(cfg.Topics) > 0 && !containsTopic(cfg.Topics, evt.Topic) {
			continue
		}

		out = append(out, evt)

		if limit > 0 && len(out) == limit {
			break
		}
	}

	return out, nil
}

// SaveSnapshot stores the snapshot, replacing a previous snapshot at the
// same version
func (r *InMemoryRecorder) SaveSnapshot(_ context.Context, snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snaps := r.snapshots[snap.StreamID]

	for i, s := range snaps {
		if s.StreamVersion == snap.StreamVersion {
			snaps[i] = snap

			return nil
		}
	}

	snaps = append(snaps, snap)

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].StreamVersion < snaps[j].StreamVersion
	})

	r.snapshots[snap.StreamID] = snaps

	return nil
}

// LoadSnapshot loads the latest snapshot at or below maxVersion
func (r *InMemoryRecorder) LoadSnapshot(_ context.Context, streamID string, maxVersion uint64) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snaps := r.snapshots[streamID]

	for i := len(snaps) - 1; i >= 0; i-- {
		if maxVersion == 0 || snaps[i].StreamVersion <= maxVersion {
			snap := snaps[i]

			return &snap, nil
		}
	}

	return nil, ErrSnapshotNotFound
}

// Close is a no-op for the in-memory recorder
func (r *InMemoryRecorder) Close() error { return nil }

func containsTopic(topics []string, topic string) bool {
	for _, t := range topics {
		if t == topic {
			return true
		}
	}

	return false
}
