package eventsourcing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormEvent struct {
	ID                 string `gorm:"unique"`
	Sequence           uint64 `gorm:"autoIncrement;primaryKey"`
	Topic              string `gorm:"index"`
	Data               []byte
	Meta               *string
	CausationEventID   *string
	CorrelationEventID *string
	StreamID           string `gorm:"index:idx_optimistic_check,unique;index"`
	StreamVersion      uint64 `gorm:"index:idx_optimistic_check,unique"`
	OccurredOn         time.Time
}

// TableName returns gorm table name
func (ge *gormEvent) TableName() string { return "event" }

type gormSnapshot struct {
	StreamID      string `gorm:"primaryKey"`
	StreamVersion uint64 `gorm:"primaryKey"`
	Topic         string
	Data          []byte
	TakenOn       time.Time
}

// TableName returns gorm table name
func (gs *gormSnapshot) TableName() string { return "snapshot" }

// NewGormRecorder constructs a Recorder backed by the provided gorm
// connection and migrates the event and snapshot tables
func NewGormRecorder(db *gorm.DB) (*GormRecorder, error) {
	return &GormRecorder{db: db}, db.AutoMigrate(&gormEvent{}, &gormSnapshot{})
}

// GormRecorder is a gorm backed Recorder and SnapshotRecorder
// implementation supporting sqlite and postgres.
// Optimistic concurrency relies on a compound unique index over
// (stream_id, stream_version) plus an in-transaction tip check, and the
// global sequence is the autoincrement primary key assigned on insert
type GormRecorder struct {
	db *gorm.DB
}

// AppendStream appends the batch to the stream within a single transaction
func (r *GormRecorder) AppendStream(
	ctx context.Context,
	streamID string,
	expectedVersion uint64,
	events []StoredEvent) ([]uint64, error) {

	rows := make([]gormEvent, len(events))

	for i, evt := range events {
		row := gormEvent{
			ID:                 evt.ID,
			Topic:              evt.Topic,
			Data:               evt.Data,
			CausationEventID:   evt.CausationEventID,
			CorrelationEventID: evt.CorrelationEventID,
			StreamID:           streamID,
			StreamVersion:      evt.StreamVersion,
			OccurredOn:         evt.OccurredOn,
		}

		if evt.Meta != nil {
			m, err := json.Marshal(evt.Meta)
			if err != nil {
				return nil, err
			}

			ms := string(m)

			row.Meta = &ms
		}

		rows[i] = row
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tip uint64

		err := tx.Model(&gormEvent{}).
			Where("stream_id = ?", streamID).
			Select("COALESCE(MAX(stream_version), 0)").
			Scan(&tip).Error
		if err != nil {
			return err
		}

		// A stale expectation that is higher than the tip would insert a
		// version gap which the unique index alone cannot catch
		if tip != expectedVersion {
			return ErrConcurrencyCheckFailed
		}

		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, mapAppendErr(err)
	}

	seqs := make([]uint64, len(rows))

	for i := range rows {
		seqs[i] = rows[i].Sequence
	}

	return seqs, nil
}

func mapAppendErr(err error) error {
	if errors.Is(err, ErrConcurrencyCheckFailed) {
		return err
	}

	var sqliteErr sqlite3.Error

	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return ErrConcurrencyCheckFailed
	}

	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConcurrencyCheckFailed
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConcurrencyCheckFailed
	}

	return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
}

// ReadStream reads events recorded for the stream in version order
func (r *GormRecorder) ReadStream(
	ctx context.Context,
	streamID string,
	opts ...ReadStreamOpt) ([]StoredEvent, error) {

	var cfg ReadStreamConfig

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	q := r.db.WithContext(ctx).Where("stream_id = ?", streamID)

	if cfg.FromVersion > 0 {
		q = q.Where("stream_version >= ?", cfg.FromVersion)
	}

	if cfg.ToVersion > 0 {
		q = q.Where("stream_version <= ?", cfg.ToVersion)
	}

	order := "stream_version asc"

	if cfg.Descending {
		order = "stream_version desc"
	}

	q = q.Order(order)

	if cfg.Limit > 0 {
		q = q.Limit(cfg.Limit)
	}

	var rows []gormEvent

	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	if len(rows) == 0 {
		return nil, ErrStreamNotFound
	}

	return storedEventsFromRows(rows)
}

// ReadNotifications reads a page of the global sequence starting at from
// (inclusive) in commit order
func (r *GormRecorder) ReadNotifications(
	ctx context.Context,
	from uint64,
	opts ...ReadNotificationsOpt) ([]StoredEvent, error) {

	var cfg ReadNotificationsConfig

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	q := r.db.WithContext(ctx).Where("sequence >= ?", from)

	if cfg.To > 0 {
		q = q.Where("sequence <= ?", cfg.To)
	}

	if len(cfg.Topics) > 0 {
		q = q.Where("topic IN ?", cfg.Topics)
	}

	limit := cfg.Limit

	if limit == 0 && cfg.To == 0 {
		limit = DefaultNotificationPageSize
	}

	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []gormEvent

	if err := q.Order("sequence asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	return storedEventsFromRows(rows)
}

// SaveSnapshot stores the snapshot keyed by (stream_id, stream_version),
// replacing a previous snapshot at the same version
func (r *GormRecorder) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	row := gormSnapshot{
		StreamID:      snap.StreamID,
		StreamVersion: snap.StreamVersion,
		Topic:         snap.Topic,
		Data:          snap.Data,
		TakenOn:       snap.TakenOn,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	return nil
}

// LoadSnapshot loads the latest snapshot at or below maxVersion
func (r *GormRecorder) LoadSnapshot(ctx context.Context, streamID string, maxVersion uint64) (*Snapshot, error) {
	q := r.db.WithContext(ctx).Where("stream_id = ?", streamID)

	if maxVersion > 0 {
		q = q.Where("stream_version <= ?", maxVersion)
	}

	var row gormSnapshot

	err := q.Order("stream_version desc").Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSnapshotNotFound
		}

		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	return &Snapshot{
		StreamID:      row.StreamID,
		StreamVersion: row.StreamVersion,
		Topic:         row.Topic,
		Data:          row.Data,
		TakenOn:       row.TakenOn,
	}, nil
}

// Close should be called as a part of cleanup process
// in order to close the underlying sql connection
func (r *GormRecorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

func storedEventsFromRows(rows []gormEvent) ([]StoredEvent, error) {
	out := make([]StoredEvent, len(rows))

	for i, row := range rows {
		var meta map[string]string

		if row.Meta != nil {
			if err := json.Unmarshal([]byte(*row.Meta), &meta); err != nil {
				return nil, err
			}
		}

		out[i] = StoredEvent{
			ID:                 row.ID,
			Sequence:           row.Sequence,
			StreamID:           row.StreamID,
			StreamVersion:      row.StreamVersion,
			Topic:              row.Topic,
			Data:               row.Data,
			Meta:               meta,
			CausationEventID:   row.CausationEventID,
			CorrelationEventID: row.CorrelationEventID,
			OccurredOn:         row.OccurredOn,
		}
	}

	return out, nil
}
