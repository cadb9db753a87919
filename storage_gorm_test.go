package eventsourcing_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/ParikhKadam/eventsourcing"
)

func TestSQLiteShouldReadAppendedEvents(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	es, cleanup := sqliteEventStore(t)

	defer cleanup()

	evts := []eventsourcing.EventToStore{
		{Event: SomeEvent{UserID: "user-1"}},
		{Event: SomeEvent{UserID: "user-2"}},
		{Event: SomeEvent{UserID: "user-3"}},
	}

	ctx := context.Background()
	stream := "some-stream"
	meta := map[string]string{
		"ip": "127.0.0.1",
	}

	seqs, err := es.AppendStream(
		ctx, stream, eventsourcing.InitialStreamVersion, evts,
		eventsourcing.WithMetaData(meta),
	)
	if err != nil {
		t.Fatalf("error: %v", err)
	}

	if len(seqs) != 3 {
		t.Fatalf("sequences should be assigned to the whole batch. got: %v", seqs)
	}

	got, err := es.ReadStream(ctx, stream)
	if err != nil {
		t.Fatalf("error: %v", err)
	}

	for i, evt := range got {
		if !reflect.DeepEqual(evt.Event, evts[i].Event) ||
			!reflect.DeepEqual(evt.Meta, meta) ||
			evt.Topic != "SomeEvent" {

			t.Fatal("events not read")
		}
	}
}

func TestSQLiteShouldAppendToExistingStream(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	es, cleanup := sqliteEventStore(t)

	defer cleanup()

	evts := []eventsourcing.EventToStore{
		{Event: SomeEvent{UserID: "user-1"}},
		{Event: SomeEvent{UserID: "user-2"}},
		{Event: SomeEvent{UserID: "user-3"}},
	}

	ctx := context.Background()
	stream := "some-stream"

	_, err := es.AppendStream(ctx, stream, eventsourcing.InitialStreamVersion, evts)
	if err != nil {
		t.Fatalf("error: %v", err)
	}

	_, err = es.AppendStream(ctx, stream, 3, evts)
	if err != nil {
		t.Fatalf("error: %v", err)
	}

	got, err := es.ReadStream(ctx, stream)
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 6 || got[5].StreamVersion != 6 {
		t.Fatal("versions should continue from the stream tip")
	}
}

func TestSQLiteOptimisticConcurrencyCheckIsPerformed(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	es, cleanup := sqliteEventStore(t)

	defer cleanup()

	evts := []eventsourcing.EventToStore{
		{Event: SomeEvent{UserID: "user-1"}},
	}

	ctx := context.Background()
	stream := "some-stream"

	_, err := es.AppendStream(ctx, stream, eventsourcing.InitialStreamVersion, evts)
	if err != nil {
		t.Fatalf("error: %v", err)
	}

	_, err = es.AppendStream(ctx, stream, eventsourcing.InitialStreamVersion, evts)

	if !errors.Is(err, eventsourcing.ErrConcurrencyCheckFailed) {
		t.Fatal("should have performed optimistic concurrency check")
	}

	_, err = es.AppendStream(ctx, stream, 5, evts)

	if !errors.Is(err, eventsourcing.ErrConcurrencyCheckFailed) {
		t.Fatal("expectation above the tip should fail the check as well")
	}
}

func TestSQLiteReadStreamWrapsNotFoundError(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	es, cleanup := sqliteEventStore(t)

	defer cleanup()

	_, err := es.ReadStream(context.Background(), "foo-stream")

	if !errors.Is(err, eventsourcing.ErrStreamNotFound) {
		t.Fatal("should return explicit error if stream doesn't exist")
	}
}

func TestSQLiteSnapshotRoundTrip(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	type userState struct {
		Count int
	}

	es, err := eventsourcing.New(
		eventsourcing.NewJSONTranscoder(SomeEvent{}, userState{}),
		eventsourcing.WithSQLiteDB("file::memory:?cache=shared"),
	)
	if err != nil {
		t.Fatal(err)
	}

	defer func() { _ = es.Close() }()

	ctx := context.Background()
	stream := "some-stream"

	if err = es.TakeSnapshot(ctx, stream, 2, userState{Count: 2}); err != nil {
		t.Fatal(err)
	}

	if err = es.TakeSnapshot(ctx, stream, 4, userState{Count: 4}); err != nil {
		t.Fatal(err)
	}

	snap, err := es.ReadSnapshot(ctx, stream, eventsourcing.WithMaxVersion(3))
	if err != nil {
		t.Fatal(err)
	}

	if snap.StreamVersion != 2 || snap.State.(userState).Count != 2 {
		t.Fatalf("snapshot selection should honor the version bound: %+v", snap)
	}
}

func sqliteEventStore(t *testing.T) (*eventsourcing.EventStore, func()) {
	es, err := eventsourcing.New(
		eventsourcing.NewJSONTranscoder(SomeEvent{}),
		eventsourcing.WithSQLiteDB("file::memory:?cache=shared"),
	)
	if err != nil {
		t.Fatalf("error creating es: %v", err)
	}

	return es, func() {
		err := es.Close()
		if err != nil {
			t.Fatal(err)
		}
	}
}
