package aggregate

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/ParikhKadam/eventsourcing"
)

// ErrAggregateNotFound is returned when no events are stored for the
// requested aggregate id
var ErrAggregateNotFound = errors.New("aggregate not found")

// EventStore represents the event store surface the aggregate store needs
type EventStore interface {
	AppendStream(ctx context.Context, stream string, expectedVer uint64, events []eventsourcing.EventToStore, opts ...eventsourcing.AppendStreamOpt) ([]uint64, error)
	ReadStream(ctx context.Context, stream string, opts ...eventsourcing.ReadStreamOpt) ([]eventsourcing.EventData, error)
}

// SnapshotStore is implemented by event stores with snapshot capability
type SnapshotStore interface {
	TakeSnapshot(ctx context.Context, stream string, version uint64, state any) error
	ReadSnapshot(ctx context.Context, stream string, opts ...eventsourcing.SnapshotOpt) (*eventsourcing.SnapshotData, error)
}

// StoreCfg represents aggregate store configuration
type StoreCfg struct {
	snapshotEvery uint64
}

// StoreOpt represents aggregate store configuration option
type StoreOpt func(StoreCfg) StoreCfg

// WithSnapshotEvery configures the store to take a snapshot whenever an
// aggregate's version crosses a multiple of n. Snapshots are stored through
// the event store's snapshot capability and reconstruction yields identical
// state whether or not any snapshot exists
func WithSnapshotEvery(n uint64) StoreOpt {
	return func(cfg StoreCfg) StoreCfg {
		cfg.snapshotEvery = n

		return cfg
	}
}

// NewStore constructs new event sourced aggregate store
func NewStore[T Rooter](eventStore EventStore, opts ...StoreOpt) *Store[T] {
	var cfg StoreCfg

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	s := Store[T]{
		eventStore: eventStore,
		cfg:        cfg,
	}

	if snaps, ok := eventStore.(SnapshotStore); ok {
		s.snapshots = snaps
	}

	return &s
}

// Store represents event sourced aggregate store
type Store[T Rooter] struct {
	eventStore EventStore
	snapshots  SnapshotStore
	cfg        StoreCfg
}

// Save saves uncommitted aggregate events to the event store as one atomic
// batch, marks them committed on the aggregate and takes a snapshot if the
// configured cadence boundary was crossed
func (s *Store[T]) Save(ctx context.Context, aggregate T) error {
	domainEvents := aggregate.Events()

	if len(domainEvents) == 0 {
		return nil
	}

	events := make([]eventsourcing.EventToStore, 0, len(domainEvents))

	for _, evt := range domainEvents {
		events = append(events, eventsourcing.EventToStore{
			Event:              evt.E,
			ID:                 evt.ID,
			OccurredOn:         evt.OccurredOn,
			CausationEventID:   causationIDFromCtx(ctx),
			CorrelationEventID: correlationIDFromCtx(ctx),
			Meta:               metaFromCtx(ctx),
		})
	}

	expectedVer := aggregate.Version()

	_, err := s.eventStore.AppendStream(
		ctx,
		aggregate.StringID(),
		expectedVer,
		events,
	)
	if err != nil {
		return err
	}

	aggregate.commit()

	if s.shouldSnapshot(expectedVer, aggregate.Version()) {
		state := reflect.ValueOf(aggregate).Elem().Interface()

		err = s.snapshots.TakeSnapshot(ctx, aggregate.StringID(), aggregate.Version(), state)
		if err != nil {
			return fmt.Errorf("events saved but taking snapshot failed: %w", err)
		}
	}

	return nil
}

func (s *Store[T]) shouldSnapshot(prevVersion, newVersion uint64) bool {
	if s.cfg.snapshotEvery == 0 || s.snapshots == nil {
		return false
	}

	return newVersion/s.cfg.snapshotEvery > prevVersion/s.cfg.snapshotEvery
}

// ByIDConfig (configure using ByIDOpt)
type ByIDConfig struct {
	// ToVersion is the target reconstruction version (0 means latest)
	ToVersion uint64
}

// ByIDOpt represents an aggregate load option
type ByIDOpt func(ByIDConfig) ByIDConfig

// WithToVersion is a load option that reconstructs the aggregate at a
// specific historical version instead of the latest one
func WithToVersion(v uint64) ByIDOpt {
	return func(cfg ByIDConfig) ByIDConfig {
		cfg.ToVersion = v

		return cfg
	}
}

// ByID finds aggregate events (and the latest usable snapshot if snapshots
// are configured) by aggregate id and rehydrates the aggregate by folding
// events in version order on top of the snapshot state. The result is
// identical regardless of whether, or how often, snapshots were taken
func (s *Store[T]) ByID(ctx context.Context, id string, aggregate T, opts ...ByIDOpt) error {
	var cfg ByIDConfig

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	var baseVersion uint64

	if s.snapshots != nil {
		restored, err := s.restoreSnapshot(ctx, id, cfg.ToVersion, aggregate)
		if err != nil {
			return err
		}

		baseVersion = restored
	}

	readOpts := []eventsourcing.ReadStreamOpt{
		eventsourcing.WithFromVersion(baseVersion + 1),
	}

	if cfg.ToVersion > 0 {
		readOpts = append(readOpts, eventsourcing.WithToVersion(cfg.ToVersion))
	}

	storedEvents, err := s.eventStore.ReadStream(ctx, id, readOpts...)
	if err != nil {
		if !errors.Is(err, eventsourcing.ErrStreamNotFound) {
			return err
		}

		if baseVersion == 0 {
			return ErrAggregateNotFound
		}
	}

	events := make([]Event, 0, len(storedEvents))

	for _, evt := range storedEvents {
		events = append(events, Event{
			ID:                 evt.ID,
			E:                  evt.Event,
			OccurredOn:         evt.OccurredOn,
			CausationEventID:   evt.CausationEventID,
			CorrelationEventID: evt.CorrelationEventID,
			Meta:               evt.Meta,
		})
	}

	aggregate.Rehydrate(aggregate, events...)
	aggregate.setVersion(baseVersion + uint64(len(events)))

	return nil
}

// restoreSnapshot copies the latest usable snapshot state into the
// aggregate and reports the snapshot version (0 when starting from scratch)
func (s *Store[T]) restoreSnapshot(ctx context.Context, id string, toVersion uint64, aggregate T) (uint64, error) {
	snap, err := s.snapshots.ReadSnapshot(
		ctx,
		id,
		eventsourcing.WithMaxVersion(toVersion),
	)
	if err != nil {
		if errors.Is(err, eventsourcing.ErrSnapshotNotFound) ||
			errors.Is(err, eventsourcing.ErrSnapshotsNotConfigured) {
			return 0, nil
		}

		return 0, err
	}

	dst := reflect.ValueOf(aggregate).Elem()
	src := reflect.ValueOf(snap.State)

	if src.Type() != dst.Type() {
		return 0, fmt.Errorf("snapshot state type mismatch: %s", src.Type())
	}

	dst.Set(src)

	return snap.StreamVersion, nil
}
