package eventsourcing_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ParikhKadam/eventsourcing"
)

func TestInMemoryRecorderAssignsContiguousVersionsAndSequences(t *testing.T) {
	r := eventsourcing.NewInMemoryRecorder()

	ctx := context.Background()

	seqs, err := r.AppendStream(ctx, "stream-one", 0, storedEvents(0, 3))
	if err != nil {
		t.Fatal(err)
	}

	if !equalSeqs(seqs, []uint64{1, 2, 3}) {
		t.Fatalf("unexpected sequences: %v", seqs)
	}

	got, err := r.ReadStream(ctx, "stream-one")
	if err != nil {
		t.Fatal(err)
	}

	for i, evt := range got {
		if evt.StreamVersion != uint64(i)+1 {
			t.Fatalf("versions should be contiguous from 1. got: %d at %d", evt.StreamVersion, i)
		}
	}
}

func TestInMemoryRecorderPerformsConcurrencyCheck(t *testing.T) {
	r := eventsourcing.NewInMemoryRecorder()

	ctx := context.Background()

	_, err := r.AppendStream(ctx, "stream-one", 0, storedEvents(0, 2))
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		expected uint64
		wantErr  error
	}{
		{expected: 0, wantErr: eventsourcing.ErrConcurrencyCheckFailed},
		{expected: 1, wantErr: eventsourcing.ErrConcurrencyCheckFailed},
		{expected: 5, wantErr: eventsourcing.ErrConcurrencyCheckFailed},
		{expected: 2, wantErr: nil},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("expected version %d", tc.expected), func(t *testing.T) {
			_, err := r.AppendStream(ctx, "stream-one", tc.expected, storedEvents(tc.expected, 1))

			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want: %v, got: %v", tc.wantErr, err)
			}
		})
	}
}

func TestInMemoryRecorderInterleavesCommitsInSequenceOrder(t *testing.T) {
	r := eventsourcing.NewInMemoryRecorder()

	ctx := context.Background()

	appends := []struct {
		stream   string
		expected uint64
	}{
		{"stream-a", 0},
		{"stream-b", 0},
		{"stream-a", 1},
		{"stream-b", 1},
	}

	for _, a := range appends {
		if _, err := r.AppendStream(ctx, a.stream, a.expected, storedEvents(a.expected, 1)); err != nil {
			t.Fatal(err)
		}
	}

	log, err := r.ReadNotifications(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}

	want := []struct {
		stream  string
		version uint64
	}{
		{"stream-a", 1},
		{"stream-b", 1},
		{"stream-a", 2},
		{"stream-b", 2},
	}

	for i, evt := range log {
		if evt.Sequence != uint64(i)+1 ||
			evt.StreamID != want[i].stream ||
			evt.StreamVersion != want[i].version {

			t.Fatalf("log not in commit order at %d: %+v", i, evt)
		}
	}
}

func TestInMemoryRecorderReadStreamOptions(t *testing.T) {
	r := eventsourcing.NewInMemoryRecorder()

	ctx := context.Background()

	if _, err := r.AppendStream(ctx, "stream-one", 0, storedEvents(0, 5)); err != nil {
		t.Fatal(err)
	}

	got, err := r.ReadStream(ctx, "stream-one",
		eventsourcing.WithFromVersion(2),
		eventsourcing.WithToVersion(4),
	)
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 3 || got[0].StreamVersion != 2 || got[2].StreamVersion != 4 {
		t.Fatalf("version bounds not honored: %+v", got)
	}

	got, err = r.ReadStream(ctx, "stream-one",
		eventsourcing.WithDescending(),
		eventsourcing.WithReadLimit(1),
	)
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 || got[0].StreamVersion != 5 {
		t.Fatalf("descending limited read should yield the tip: %+v", got)
	}

	_, err = r.ReadStream(ctx, "no-such-stream")

	if !errors.Is(err, eventsourcing.ErrStreamNotFound) {
		t.Fatalf("missing stream should be explicit. got: %v", err)
	}
}

func TestInMemoryRecorderReadNotificationsOptions(t *testing.T) {
	r := eventsourcing.NewInMemoryRecorder()

	ctx := context.Background()

	events := storedEvents(0, 4)

	events[1].Topic = "AnotherEvent"
	events[3].Topic = "AnotherEvent"

	if _, err := r.AppendStream(ctx, "stream-one", 0, events); err != nil {
		t.Fatal(err)
	}

	got, err := r.ReadNotifications(ctx, 2, eventsourcing.WithStopSequence(3))
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 || got[0].Sequence != 2 || got[1].Sequence != 3 {
		t.Fatalf("sequence bounds not honored: %+v", got)
	}

	got, err = r.ReadNotifications(ctx, 1, eventsourcing.WithTopics("AnotherEvent"))
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 || got[0].Sequence != 2 || got[1].Sequence != 4 {
		t.Fatalf("topic filter not honored: %+v", got)
	}

	got, err = r.ReadNotifications(ctx, 1, eventsourcing.WithLimit(2))
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("limit not honored: %+v", got)
	}

	got, err = r.ReadNotifications(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 0 {
		t.Fatalf("reading past the log tip should yield an empty page: %+v", got)
	}
}

func TestInMemoryRecorderSnapshots(t *testing.T) {
	r := eventsourcing.NewInMemoryRecorder()

	ctx := context.Background()

	_, err := r.LoadSnapshot(ctx, "stream-one", 0)

	if !errors.Is(err, eventsourcing.ErrSnapshotNotFound) {
		t.Fatalf("missing snapshot should be explicit. got: %v", err)
	}

	for _, version := range []uint64{2, 4, 6} {
		err = r.SaveSnapshot(ctx, eventsourcing.Snapshot{
			StreamID:      "stream-one",
			StreamVersion: version,
			Topic:         "SomeState",
			Data:          []byte(fmt.Sprintf("state-at-%d", version)),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	snap, err := r.LoadSnapshot(ctx, "stream-one", 0)
	if err != nil {
		t.Fatal(err)
	}

	if snap.StreamVersion != 6 {
		t.Fatalf("latest snapshot should be loaded. got version: %d", snap.StreamVersion)
	}

	snap, err = r.LoadSnapshot(ctx, "stream-one", 5)
	if err != nil {
		t.Fatal(err)
	}

	if snap.StreamVersion != 4 {
		t.Fatalf("latest snapshot at or below 5 should be loaded. got version: %d", snap.StreamVersion)
	}

	err = r.SaveSnapshot(ctx, eventsourcing.Snapshot{
		StreamID:      "stream-one",
		StreamVersion: 6,
		Topic:         "SomeState",
		Data:          []byte("replaced"),
	})
	if err != nil {
		t.Fatal(err)
	}

	snap, err = r.LoadSnapshot(ctx, "stream-one", 0)
	if err != nil {
		t.Fatal(err)
	}

	if string(snap.Data) != "replaced" {
		t.Fatal("snapshot at the same version should be replaced")
	}
}

func storedEvents(fromVersion uint64, n int) []eventsourcing.StoredEvent {
	events := make([]eventsourcing.StoredEvent, n)

	for i := range events {
		events[i] = eventsourcing.StoredEvent{
			ID:            fmt.Sprintf("event-%d-%d", fromVersion, i),
			Topic:         "SomeEvent",
			Data:          []byte(`{"UserID":"user-1"}`),
			StreamVersion: fromVersion + uint64(i) + 1,
		}
	}

	return events
}

func equalSeqs(got, want []uint64) bool {
	if len(got) != len(want) {
		return false
	}

	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}

	return true
}
