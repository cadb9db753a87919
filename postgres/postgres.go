// Package postgres provides a native postgres Recorder implementation on
// top of pgx without going through gorm. It is the recommended backend for
// production deployments with many concurrent writers
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect import
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ParikhKadam/eventsourcing"
)

const (
	defaultEventTable    = "event"
	defaultSnapshotTable = "snapshot"

	uniqueViolationCode = "23505"
)

// Schema holds the DDL for the event and snapshot tables
const Schema = `
CREATE TABLE IF NOT EXISTS event (
	sequence             BIGSERIAL PRIMARY KEY,
	id                   TEXT NOT NULL UNIQUE,
	topic                TEXT NOT NULL,
	data                 BYTEA NOT NULL,
	meta                 TEXT,
	causation_event_id   TEXT,
	correlation_event_id TEXT,
	stream_id            TEXT NOT NULL,
	stream_version       BIGINT NOT NULL,
	occurred_on          TIMESTAMPTZ NOT NULL,
	UNIQUE (stream_id, stream_version)
);

CREATE INDEX IF NOT EXISTS idx_event_stream_id ON event (stream_id);
CREATE INDEX IF NOT EXISTS idx_event_topic ON event (topic);

CREATE TABLE IF NOT EXISTS snapshot (
	stream_id      TEXT NOT NULL,
	stream_version BIGINT NOT NULL,
	topic          TEXT NOT NULL,
	data           BYTEA NOT NULL,
	taken_on       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (stream_id, stream_version)
);
`

// NewRecorder constructs a Recorder backed by the provided pgx pool
func NewRecorder(pool *pgxpool.Pool, opts ...Option) (*Recorder, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool must be provided")
	}

	r := Recorder{
		pool:       pool,
		dialect:    goqu.Dialect("postgres"),
		eventTable: defaultEventTable,
		snapTable:  defaultSnapshotTable,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(&r)
	}

	return &r, nil
}

// Option represents a recorder configuration option
type Option func(*Recorder)

// WithEventTable overrides the event table name
func WithEventTable(name string) Option {
	return func(r *Recorder) { r.eventTable = name }
}

// WithSnapshotTable overrides the snapshot table name
func WithSnapshotTable(name string) Option {
	return func(r *Recorder) { r.snapTable = name }
}

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// Recorder is a pgx backed Recorder and SnapshotRecorder implementation.
// Optimistic concurrency relies on an in-transaction tip check plus the
// compound unique index over (stream_id, stream_version), and the global
// sequence is a bigserial assigned on insert
type Recorder struct {
	pool       *pgxpool.Pool
	dialect    goqu.DialectWrapper
	eventTable string
	snapTable  string
	logger     *slog.Logger
}

// InitSchema creates the event and snapshot tables if they do not exist
func (r *Recorder) InitSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("%w: %v", eventsourcing.ErrPersistenceFailed, err)
	}

	return nil
}

// AppendStream appends the batch to the stream within a single transaction
func (r *Recorder) AppendStream(
	ctx context.Context,
	streamID string,
	expectedVersion uint64,
	events []eventsourcing.StoredEvent) ([]uint64, error) {

	rows := make([]any, 0, len(events))

	for _, evt := range events {
		var meta *string

		if evt.Meta != nil {
			m, err := json.Marshal(evt.Meta)
			if err != nil {
				return nil, err
			}

			ms := string(m)

			meta = &ms
		}

		rows = append(rows, goqu.Record{
			"id":                   evt.ID,
			"topic":                evt.Topic,
			"data":                 evt.Data,
			"meta":                 meta,
			"causation_event_id":   evt.CausationEventID,
			"correlation_event_id": evt.CorrelationEventID,
			"stream_id":            streamID,
			"stream_version":       evt.StreamVersion,
			"occurred_on":          evt.OccurredOn,
		})
	}

	insertSQL, args, err := r.dialect.
		Insert(r.eventTable).
		Rows(rows...).
		Returning("sequence").
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", eventsourcing.ErrPersistenceFailed, err)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	var tip uint64

	tipSQL := fmt.Sprintf(
		"SELECT COALESCE(MAX(stream_version), 0) FROM %s WHERE stream_id = $1",
		r.eventTable,
	)

	if err = tx.QueryRow(ctx, tipSQL, streamID).Scan(&tip); err != nil {
		return nil, fmt.Errorf("%w: %v", eventsourcing.ErrPersistenceFailed, err)
	}

	if tip != expectedVersion {
		return nil, eventsourcing.ErrConcurrencyCheckFailed
	}

	seqs := make([]uint64, 0, len(events))

	queryRows, err := tx.Query(ctx, insertSQL, args...)
	if err != nil {
		return nil, mapAppendErr(err)
	}

	for queryRows.Next() {
		var seq uint64

		if err = queryRows.Scan(&seq); err != nil {
			queryRows.Close()

			return nil, fmt.Errorf("%w: %v", eventsourcing.ErrPersistenceFailed, err)
		}

		seqs = append(seqs, seq)
	}

	queryRows.Close()

	if err = queryRows.Err(); err != nil {
		return nil, mapAppendErr(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, mapAppendErr(err)
	}

	r.logger.Debug("events appended",
		"stream", streamID,
		"event_count", len(seqs),
	)

	return seqs, nil
}

func mapAppendErr(err error) error {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return eventsourcing.ErrConcurrencyCheckFailed
	}

	return fmt.Errorf("%w: %v", eventsourcing.ErrPersistenceFailed, err)
}

// ReadStream reads events recorded for the stream in version order
func (r *Recorder) ReadStream(
	ctx context.Context,
	streamID string,
	opts ...eventsourcing.ReadStreamOpt) ([]eventsourcing.StoredEvent, error) {

	var cfg eventsourcing.ReadStreamConfig

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	ds := r.dialect.
		From(r.eventTable).
		Select(r.eventColumns()...).
		Where(goqu.C("stream_id").Eq(streamID))

	if cfg.FromVersion > 0 {
		ds = ds.Where(goqu.C("stream_version").Gte(cfg.FromVersion))
	}

	if cfg.ToVersion > 0 {
		ds = ds.Where(goqu.C("stream_version").Lte(cfg.ToVersion))
	}

	order := goqu.C("stream_version").Asc()

	if cfg.Descending {
		order = goqu.C("stream_version").Desc()
	}

	ds = ds.Order(order)

	if cfg.Limit > 0 {
		ds = ds.Limit(uint(cfg.Limit))
	}

	events, err := r.queryEvents(ctx, ds)
	if err != nil {
		return nil, err
	}

	if len(events) == 0 {
		return nil, eventsourcing.ErrStreamNotFound
	}

	return events, nil
}

// ReadNotifications reads a page of the global sequence starting at from
// (inclusive) in commit order
func (r *Recorder) ReadNotifications(
	ctx context.Context,
	from uint64,
	opts ...eventsourcing.ReadNotificationsOpt) ([]eventsourcing.StoredEvent, error) {

	var cfg eventsourcing.ReadNotificationsConfig

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	ds := r.dialect.
		From(r.eventTable).
		Select(r.eventColumns()...).
		Where(goqu.C("sequence").Gte(from)).
		Order(goqu.C("sequence").Asc())

	if cfg.To > 0 {
		ds = ds.Where(goqu.C("sequence").Lte(cfg.To))
	}

	if len(cfg.Topics) > 0 {
		ds = ds.Where(goqu.C("topic").In(cfg.Topics))
	}

	limit := cfg.Limit

	if limit == 0 && cfg.To == 0 {
		limit = eventsourcing.DefaultNotificationPageSize
	}

	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}

	return r.queryEvents(ctx, ds)
}

func (r *Recorder) eventColumns() []any {
	return []any{
		"id", "sequence", "topic", "data", "meta",
		"causation_event_id", "correlation_event_id",
		"stream_id", "stream_version", "occurred_on",
	}
}

func (r *Recorder) queryEvents(ctx context.Context, ds *goqu.SelectDataset) ([]eventsourcing.StoredEvent, error) {
	selectSQL, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, selectSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", eventsourcing.ErrPersistenceFailed, err)
	}

	defer rows.Close()

	var out []eventsourcing.StoredEvent

	for rows.Next() {
		var (
			evt  eventsourcing.StoredEvent
			meta *string
		)

		err = rows.Scan(
			&evt.ID,
			&evt.Sequence,
			&evt.Topic,
			&evt.Data,
			&meta,
			&evt.CausationEventID,
			&evt.CorrelationEventID,
			&evt.StreamID,
			&evt.StreamVersion,
			&evt.OccurredOn,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", eventsourcing.ErrPersistenceFailed, err)
		}

		if meta != nil {
			if err = json.Unmarshal([]byte(*meta), &evt.Meta); err != nil {
				return nil, err
			}
		}

		out = append(out, evt)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", eventsourcing.ErrPersistenceFailed, err)
	}

	return out, nil
}

// SaveSnapshot stores the snapshot keyed by (stream_id, stream_version),
// replacing a previous snapshot at the same version
func (r *Recorder) SaveSnapshot(ctx context.Context, snap eventsourcing.Snapshot) error {
	insertSQL, args, err := r.dialect.
		Insert(r.snapTable).
		Rows(goqu.Record{
			"stream_id":      snap.StreamID,
			"stream_version": snap.StreamVersion,
			"topic":          snap.Topic,
			"data":           snap.Data,
			"taken_on":       snap.TakenOn,
		}).
		OnConflict(goqu.DoUpdate(
			"stream_id, stream_version",
			goqu.Record{"topic": snap.Topic, "data": snap.Data, "taken_on": snap.TakenOn},
		)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return err
	}

	if _, err = r.pool.Exec(ctx, insertSQL, args...); err != nil {
		return fmt.Errorf("%w: %v", eventsourcing.ErrPersistenceFailed, err)
	}

	return nil
}

// LoadSnapshot loads the latest snapshot at or below maxVersion
func (r *Recorder) LoadSnapshot(ctx context.Context, streamID string, maxVersion uint64) (*eventsourcing.Snapshot, error) {
	ds := r.dialect.
		From(r.snapTable).
		Select("stream_id", "stream_version", "topic", "data", "taken_on").
		Where(goqu.C("stream_id").Eq(streamID)).
		Order(goqu.C("stream_version").Desc()).
		Limit(1)

	if maxVersion > 0 {
		ds = ds.Where(goqu.C("stream_version").Lte(maxVersion))
	}

	selectSQL, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}

	var snap eventsourcing.Snapshot

	err = r.pool.QueryRow(ctx, selectSQL, args...).Scan(
		&snap.StreamID,
		&snap.StreamVersion,
		&snap.Topic,
		&snap.Data,
		&snap.TakenOn,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eventsourcing.ErrSnapshotNotFound
		}

		return nil, fmt.Errorf("%w: %v", eventsourcing.ErrPersistenceFailed, err)
	}

	return &snap, nil
}

// Close releases the underlying connection pool
func (r *Recorder) Close() error {
	r.pool.Close()

	return nil
}
