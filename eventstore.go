// Package eventsourcing provides a light-weight event store implementation
// with sqlite and postgres backing storage, optimistic concurrency control
// and a globally ordered notification log for pull-based consumption.
// Apart from the event store itself, mechanisms for payload compression and
// authenticated encryption, snapshots, checkpointed projections and working
// with aggregate roots are provided
package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// New constructs new event store
// transcoder - a specific transcoder implementation (see bundled JSONTranscoder)
// opts - backend selection, payload transforms and ambient concerns
func New(transcoder Transcoder, opts ...Option) (*EventStore, error) {
	if transcoder == nil {
		return nil, fmt.Errorf("transcoder implementation must be provided")
	}

	var cfg Cfg

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	es := EventStore{
		mapper:  NewMapper(transcoder, cfg.Compressor, cfg.Cipher),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}

	if es.logger == nil {
		es.logger = slog.Default()
	}

	if es.metrics == nil {
		es.metrics = nopMetricsCollector{}
	}

	switch {
	case cfg.Recorder != nil:
		es.recorder = cfg.Recorder

	case cfg.PostgresDSN != "" || cfg.SQLitePath != "":
		var dial gorm.Dialector

		if cfg.PostgresDSN != "" {
			dial = postgres.Open(cfg.PostgresDSN)
		}

		if cfg.SQLitePath != "" {
			dial = sqlite.Open(cfg.SQLitePath)
		}

		db, err := gorm.Open(dial, &gorm.Config{})
		if err != nil {
			return nil, err
		}

		rec, err := NewGormRecorder(db)
		if err != nil {
			return nil, err
		}

		es.recorder = rec

	default:
		return nil, fmt.Errorf("either postgres dsn, sqlite path or a custom recorder must be provided")
	}

	es.snapshots = cfg.SnapshotRecorder

	if es.snapshots == nil {
		if sr, ok := es.recorder.(SnapshotRecorder); ok {
			es.snapshots = sr
		}
	}

	return &es, nil
}

// Cfg represents event store configuration
type Cfg struct {
	PostgresDSN      string
	SQLitePath       string
	Recorder         Recorder
	SnapshotRecorder SnapshotRecorder
	Compressor       Compressor
	Cipher           Cipher
	Logger           *slog.Logger
	Metrics          MetricsCollector
}

// Option represents event store configuration option
type Option func(Cfg) Cfg

// WithPostgresDB is an event store option that can be used to configure
// the eventstore to use postgres as a backing storage (pgx driver)
func WithPostgresDB(dsn string) Option {
	return func(cfg Cfg) Cfg {
		cfg.PostgresDSN = dsn

		return cfg
	}
}

// WithSQLiteDB is an event store option that can be used to configure
// the eventstore to use sqlite as a backing storage
func WithSQLiteDB(path string) Option {
	return func(cfg Cfg) Cfg {
		cfg.SQLitePath = path

		return cfg
	}
}

// WithRecorder is an event store option that plugs in a custom storage
// backend (see bundled postgres engine and InMemoryRecorder)
func WithRecorder(r Recorder) Option {
	return func(cfg Cfg) Cfg {
		cfg.Recorder = r

		return cfg
	}
}

// WithSnapshotRecorder is an event store option that plugs in snapshot
// storage separate from the event recorder
func WithSnapshotRecorder(r SnapshotRecorder) Option {
	return func(cfg Cfg) Cfg {
		cfg.SnapshotRecorder = r

		return cfg
	}
}

// WithCompressor is an event store option that enables payload compression
// (see bundled ZstdCompressor)
func WithCompressor(c Compressor) Option {
	return func(cfg Cfg) Cfg {
		cfg.Compressor = c

		return cfg
	}
}

// WithCipher is an event store option that enables authenticated payload
// encryption (see bundled AEADCipher constructors)
func WithCipher(c Cipher) Option {
	return func(cfg Cfg) Cfg {
		cfg.Cipher = c

		return cfg
	}
}

// WithLogger is an event store option that sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(cfg Cfg) Cfg {
		cfg.Logger = l

		return cfg
	}
}

// WithMetricsCollector is an event store option that sets the metrics
// collector (see bundled prometheus adapter)
func WithMetricsCollector(m MetricsCollector) Option {
	return func(cfg Cfg) Cfg {
		cfg.Metrics = m

		return cfg
	}
}

// EventStore composes the mapper, the recorder and the snapshot recorder
// into the operations aggregates and applications need
type EventStore struct {
	recorder  Recorder
	snapshots SnapshotRecorder
	mapper    *Mapper
	logger    *slog.Logger
	metrics   MetricsCollector
}

// Close should be called as a part of cleanup process
// in order to close the underlying storage connection
func (es *EventStore) Close() error {
	return es.recorder.Close()
}

// AppendStreamConfig (configure using AppendStreamOpt)
type AppendStreamConfig struct {
	meta map[string]string
}

// AppendStreamOpt represents append to stream option
type AppendStreamOpt func(AppendStreamConfig) AppendStreamConfig

// WithMetaData is an append stream option that provides meta data
// to be stored with every event in the batch
func WithMetaData(meta map[string]string) AppendStreamOpt {
	return func(cfg AppendStreamConfig) AppendStreamConfig {
		cfg.meta = meta

		return cfg
	}
}

// AppendStream will encode the provided events and try to append them to
// an indicated stream as one atomic batch. If the stream does not exist it
// will be created. An optimistic concurrency check is performed at commit
// time using expectedVer which should be InitialStreamVersion for new
// streams and the latest stream version for existing streams, otherwise
// ErrConcurrencyCheckFailed is raised and no events are stored.
// On success the globally ordered sequence numbers assigned to the batch
// are returned in batch order
func (es *EventStore) AppendStream(
	ctx context.Context,
	stream string,
	expectedVer uint64,
	events []EventToStore,
	opts ...AppendStreamOpt) ([]uint64, error) {

	if len(stream) == 0 {
		return nil, fmt.Errorf("stream name must be provided")
	}

	if len(events) == 0 {
		return nil, nil
	}

	var cfg AppendStreamConfig

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	start := time.Now()

	eventsToSave := make([]StoredEvent, len(events))

	for i, evt := range events {
		encoded, err := es.mapper.Encode(evt.Event)
		if err != nil {
			return nil, err
		}

		event := StoredEvent{
			ID:            evt.ID,
			Topic:         encoded.Topic,
			Data:          encoded.Data,
			StreamVersion: expectedVer + uint64(i) + 1,
			Meta:          evt.Meta,
			OccurredOn:    evt.OccurredOn,
		}

		if event.Meta == nil {
			event.Meta = cfg.meta
		}

		if evt.CorrelationEventID != "" {
			event.CorrelationEventID = &evt.CorrelationEventID
		}

		if evt.CausationEventID != "" {
			event.CausationEventID = &evt.CausationEventID
		}

		if event.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return nil, err
			}

			event.ID = id.String()
		}

		if event.OccurredOn.IsZero() {
			event.OccurredOn = time.Now().UTC()
		}

		eventsToSave[i] = event
	}

	seqs, err := es.recorder.AppendStream(ctx, stream, expectedVer, eventsToSave)
	if err != nil {
		if errors.Is(err, ErrConcurrencyCheckFailed) {
			es.metrics.IncrementCounter(MetricConcurrencyConflict, opLabels("append"))
			es.logger.Info("concurrency conflict detected",
				"stream", stream,
				"expected_version", expectedVer,
			)
		}

		return nil, err
	}

	es.observe("append", start)
	es.metrics.AddCounter(MetricEventsAppended, float64(len(seqs)), nil)
	es.logger.Debug("events appended",
		"stream", stream,
		"event_count", len(seqs),
		"duration", time.Since(start),
	)

	return seqs, nil
}

// ReadStream will read events associated with the provided stream, decoded
// back to their registered types. If there are no events stored for a given
// stream ErrStreamNotFound will be returned
func (es *EventStore) ReadStream(
	ctx context.Context,
	stream string,
	opts ...ReadStreamOpt) ([]EventData, error) {

	if len(stream) == 0 {
		return nil, fmt.Errorf("stream name must be provided")
	}

	defer es.observe("read_stream", time.Now())

	events, err := es.recorder.ReadStream(ctx, stream, opts...)
	if err != nil {
		return nil, err
	}

	return es.decodeEvents(events)
}

// ReadNotifications reads a page of the global notification sequence
// starting at from (inclusive) in commit order across all streams. The page
// is bounded by WithStopSequence, WithLimit or the default page size.
// Reading is a pure projection over committed events - it mutates nothing
// and is safe to call repeatedly and concurrently with writers
func (es *EventStore) ReadNotifications(
	ctx context.Context,
	from uint64,
	opts ...ReadNotificationsOpt) ([]EventData, error) {

	defer es.observe("read_notifications", time.Now())

	events, err := es.recorder.ReadNotifications(ctx, from, opts...)
	if err != nil {
		return nil, err
	}

	return es.decodeEvents(events)
}

// SnapshotConfig (configure using SnapshotOpt)
type SnapshotConfig struct {
	// MaxVersion is the inclusive upper version bound (0 means latest)
	MaxVersion uint64
}

// SnapshotOpt represents a read snapshot option
type SnapshotOpt func(SnapshotConfig) SnapshotConfig

// WithMaxVersion is a read snapshot option that sets the inclusive upper
// version bound for snapshot selection
func WithMaxVersion(v uint64) SnapshotOpt {
	return func(cfg SnapshotConfig) SnapshotConfig {
		cfg.MaxVersion = v

		return cfg
	}
}

// TakeSnapshot encodes the provided state through the same mapper pipeline
// as events and stores it as a snapshot of the stream at the given version.
// Snapshots are a pure reconstruction optimization - deleting them never
// changes observable state
func (es *EventStore) TakeSnapshot(
	ctx context.Context,
	stream string,
	version uint64,
	state any) error {

	if es.snapshots == nil {
		return ErrSnapshotsNotConfigured
	}

	encoded, err := es.mapper.Encode(state)
	if err != nil {
		return err
	}

	defer es.observe("take_snapshot", time.Now())

	return es.snapshots.SaveSnapshot(ctx, Snapshot{
		StreamID:      stream,
		StreamVersion: version,
		Topic:         encoded.Topic,
		Data:          encoded.Data,
		TakenOn:       time.Now().UTC(),
	})
}

// ReadSnapshot reads and decodes the latest snapshot of the stream at or
// below WithMaxVersion. ErrSnapshotNotFound is returned when no such
// snapshot exists
func (es *EventStore) ReadSnapshot(
	ctx context.Context,
	stream string,
	opts ...SnapshotOpt) (*SnapshotData, error) {

	if es.snapshots == nil {
		return nil, ErrSnapshotsNotConfigured
	}

	var cfg SnapshotConfig

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	defer es.observe("read_snapshot", time.Now())

	snap, err := es.snapshots.LoadSnapshot(ctx, stream, cfg.MaxVersion)
	if err != nil {
		return nil, err
	}

	state, err := es.mapper.Decode(&EncodedEvt{
		Topic: snap.Topic,
		Data:  snap.Data,
	})
	if err != nil {
		return nil, err
	}

	return &SnapshotData{
		State:         state,
		StreamID:      snap.StreamID,
		StreamVersion: snap.StreamVersion,
		Topic:         snap.Topic,
		TakenOn:       snap.TakenOn,
	}, nil
}

func (es *EventStore) decodeEvents(events []StoredEvent) ([]EventData, error) {
	out := make([]EventData, len(events))

	for i, evt := range events {
		data, err := es.mapper.Decode(&EncodedEvt{
			Topic: evt.Topic,
			Data:  evt.Data,
		})
		if err != nil {
			return nil, err
		}

		out[i] = EventData{
			Event:              data,
			Meta:               evt.Meta,
			ID:                 evt.ID,
			Sequence:           evt.Sequence,
			Topic:              evt.Topic,
			CausationEventID:   evt.CausationEventID,
			CorrelationEventID: evt.CorrelationEventID,
			StreamID:           evt.StreamID,
			StreamVersion:      evt.StreamVersion,
			OccurredOn:         evt.OccurredOn,
		}
	}

	return out, nil
}

func (es *EventStore) observe(op string, start time.Time) {
	es.metrics.RecordDuration(MetricOperationDuration, time.Since(start), opLabels(op))
	es.metrics.IncrementCounter(MetricOperationsTotal, opLabels(op))
}

func opLabels(op string) map[string]string {
	return map[string]string{"operation": op}
}
