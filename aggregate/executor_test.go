package aggregate_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ParikhKadam/eventsourcing"
	"github.com/ParikhKadam/eventsourcing/aggregate"
)

func TestShould_Load_And_Persist_Aggregate(t *testing.T) {
	var es eventStore

	store := aggregate.NewStore[*foo](&es)

	es.storedEvents = []eventsourcing.EventData{
		{
			Event: fooEvent{
				Foo: "foo-1",
			},
			ID:            "event-id-1",
			Sequence:      1,
			Topic:         "fooEvent",
			StreamID:      "foo-1",
			StreamVersion: 1,
		},
	}

	exec := aggregate.NewExecutor(store)

	var f foo

	f.ID = "foo-1"

	err := exec(context.Background(), &f, func(ctx context.Context) error {
		f.doStuff()

		return nil
	})

	assert.NoError(t, err)

	assert.Equal(t, "foo-2", es.id)
	assert.Equal(t, uint64(1), es.version)
	assert.Len(t, es.eventsToStore, 2)
}

func TestShould_Report_Exec_Error(t *testing.T) {
	var es eventStore

	store := aggregate.NewStore[*foo](&es)

	es.storedEvents = []eventsourcing.EventData{
		{
			Event: fooEvent{
				Foo: "foo-1",
			},
			ID:            "event-id-1",
			Sequence:      1,
			Topic:         "fooEvent",
			StreamID:      "foo-1",
			StreamVersion: 1,
		},
	}

	exec := aggregate.NewExecutor(store)

	var f foo

	f.ID = "foo-1"

	wantErr := fmt.Errorf("error")

	err := exec(context.Background(), &f, func(ctx context.Context) error {
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
}

func TestShould_Report_AggregateNotFound_Error(t *testing.T) {
	var es eventStore

	store := aggregate.NewStore[*foo](&es)

	exec := aggregate.NewExecutor(store)

	var f foo

	f.ID = "foo-1"

	err := exec(context.Background(), &f, func(ctx context.Context) error {
		f.doStuff()

		return nil
	})

	assert.ErrorIs(t, err, aggregate.ErrAggregateNotFound)
}
