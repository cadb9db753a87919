package eventsourcing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// NotificationReader represents the pull surface of the notification log
// This package offers EventStore as NotificationReader implementation
type NotificationReader interface {
	ReadNotifications(ctx context.Context, from uint64, opts ...ReadNotificationsOpt) ([]EventData, error)
}

// CheckpointStore persists consumer cursors keyed by projection name.
// The cursor lifecycle is owned entirely by the consumer side - the event
// store itself never tracks consumer progress. A missing cursor reads as 0
type CheckpointStore interface {
	Get(ctx context.Context, name string) (uint64, error)
	Set(ctx context.Context, name string, seq uint64) error
}

// NewInMemoryCheckpointStore constructs an in-memory CheckpointStore
// (useful for tests and for projections which rebuild on startup)
func NewInMemoryCheckpointStore() *InMemoryCheckpointStore {
	return &InMemoryCheckpointStore{
		cursors: make(map[string]uint64),
	}
}

// InMemoryCheckpointStore is an in-memory CheckpointStore implementation
type InMemoryCheckpointStore struct {
	mu      sync.RWMutex
	cursors map[string]uint64
}

// Get returns the last persisted cursor for the projection (0 if none)
func (s *InMemoryCheckpointStore) Get(_ context.Context, name string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cursors[name], nil
}

// Set persists the cursor for the projection
func (s *InMemoryCheckpointStore) Set(_ context.Context, name string, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors[name] = seq

	return nil
}

// Projection represents a named projection that handles decoded events
// pulled from the notification log. Delivery is at-least-once - a crash
// between handling a page and persisting the cursor causes redelivery, so
// handlers must be idempotent with respect to EventData.Sequence
type Projection struct {
	Name   string
	Handle func(EventData) error
}

// NewProjector constructs a Projector which will drive each registered
// projection from its own checkpoint cursor
func NewProjector(r NotificationReader, checkpoints CheckpointStore, opts ...ProjectorOpt) *Projector {
	p := Projector{
		reader:       r,
		checkpoints:  checkpoints,
		logger:       slog.Default(),
		pageSize:     DefaultNotificationPageSize,
		pollInterval: 100 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(&p)
	}

	return &p
}

// ProjectorOpt represents a projector configuration option
type ProjectorOpt func(*Projector)

// WithProjectorLogger sets the structured logger used by the projector
func WithProjectorLogger(l *slog.Logger) ProjectorOpt {
	return func(p *Projector) { p.logger = l }
}

// WithProjectorPollInterval sets the notification log polling interval
func WithProjectorPollInterval(d time.Duration) ProjectorOpt {
	return func(p *Projector) { p.pollInterval = d }
}

// WithProjectorPageSize sets the notification page size
func WithProjectorPageSize(n int) ProjectorOpt {
	return func(p *Projector) { p.pageSize = n }
}

// WithGapTolerance enables the strict contiguity check. A projection fails
// with ErrNotificationGap if the first sequence of a page overshoots the
// cursor by more than tolerance+1 - this indicates a store or configuration
// bug and is never auto-healed
func WithGapTolerance(tolerance uint64) ProjectorOpt {
	return func(p *Projector) {
		p.gapCheck = true
		p.gapTolerance = tolerance
	}
}

// Projector drives projections by polling the notification log with
// cursor-paged reads in an asynchronous manner (one goroutine per
// projection, each with an independent cursor)
type Projector struct {
	reader       NotificationReader
	checkpoints  CheckpointStore
	projections  []Projection
	logger       *slog.Logger
	pageSize     int
	pollInterval time.Duration
	gapCheck     bool
	gapTolerance uint64
}

// Add effectively registers a projection with the projector
// Make sure to add all of your projections before calling Run
func (p *Projector) Add(projections ...Projection) {
	p.projections = append(p.projections, projections...)
}

// Run will start the projector and block until the context is cancelled or
// every projection has stopped. Handler errors are logged and the failing
// page is redelivered after the poll interval; gap check failures stop the
// affected projection and are reported by Run
func (p *Projector) Run(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, projection := range p.projections {
		wg.Add(1)

		go func(projection Projection) {
			defer wg.Done()

			if err := p.run(ctx, projection); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(projection)
	}

	wg.Wait()

	return errors.Join(errs...)
}

func (p *Projector) run(ctx context.Context, projection Projection) error {
	for {
		cursor, err := p.checkpoints.Get(ctx, projection.Name)
		if err != nil {
			return err
		}

		page, err := p.reader.ReadNotifications(
			ctx,
			cursor+1,
			WithLimit(p.pageSize),
		)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			p.logErr(projection.Name, err)

			if !p.sleep(ctx) {
				return nil
			}

			continue
		}

		if len(page) == 0 {
			if !p.sleep(ctx) {
				return nil
			}

			continue
		}

		if p.gapCheck && page[0].Sequence > cursor+1+p.gapTolerance {
			err := ErrNotificationGap

			p.logger.Error("notification gap detected",
				"projection", projection.Name,
				"cursor", cursor,
				"next_sequence", page[0].Sequence,
			)

			return err
		}

		if err := p.project(ctx, projection, page); err != nil {
			p.logErr(projection.Name, err)

			if !p.sleep(ctx) {
				return nil
			}

			continue
		}

		if len(page) < p.pageSize {
			if !p.sleep(ctx) {
				return nil
			}
		}
	}
}

func (p *Projector) project(ctx context.Context, projection Projection, page []EventData) error {
	for _, evt := range page {
		if err := projection.Handle(evt); err != nil {
			return err
		}
	}

	return p.checkpoints.Set(ctx, projection.Name, page[len(page)-1].Sequence)
}

func (p *Projector) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.pollInterval):
		return true
	}
}

func (p *Projector) logErr(projection string, err error) {
	p.logger.Error("projector error", "projection", projection, "error", err)
}

// FlushAfter wraps the handler passed in and it calls
// the handler itself as new events come (as usual) in addition to calling
// the provided flush function periodically each time flush interval expires
func FlushAfter(
	handle func(EventData) error,
	flush func() error,
	flushInt time.Duration) func(EventData) error {
	var err error

	work := make(chan EventData)

	go func() {
		for {
			select {
			case <-time.After(flushInt):
				err = flush()

			case w := <-work:
				err = handle(w)
			}
		}
	}()

	return func(data EventData) error {
		if err != nil {
			return err
		}

		work <- data

		return nil
	}
}
