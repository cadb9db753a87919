package aggregate

import "time"

// Event represents a domain event applied to an aggregate together with
// the data recorded about it
type Event struct {
	ID         string
	E          any
	OccurredOn time.Time

	CausationEventID   *string
	CorrelationEventID *string
	Meta               map[string]string
}
