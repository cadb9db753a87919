package eventsourcing

import (
	"fmt"
	"reflect"

	jsoniter "github.com/json-iterator/go"
)

// EncodedEvt represents an encoded event or snapshot payload produced by a
// specific transcoder implementation
type EncodedEvt struct {
	Topic string
	Data  []byte
}

// Transcoder is used by the event store in order to correctly marshal
// and unmarshal event and snapshot types. Both directions must be total
// for registered topics, and Decode(Encode(x)) must yield x for every
// registered type
type Transcoder interface {
	Encode(any) (*EncodedEvt, error)
	Decode(*EncodedEvt) (any, error)
}

// NewJSONTranscoder constructs a json transcoder and registers provided
// types under their struct names
func NewJSONTranscoder(types ...any) *JSONTranscoder {
	t := JSONTranscoder{
		json:   jsoniter.ConfigCompatibleWithStandardLibrary,
		types:  make(map[string]reflect.Type),
		topics: make(map[reflect.Type]string),
	}

	for _, v := range types {
		t.Register(v)
	}

	return &t
}

// JSONTranscoder provides the default json Transcoder implementation.
// It marshals and unmarshals events to/from json and keys them by topic
// through a registration table populated at startup
type JSONTranscoder struct {
	json   jsoniter.API
	types  map[string]reflect.Type
	topics map[reflect.Type]string
}

// Register registers a type under its struct name
func (t *JSONTranscoder) Register(v any) *JSONTranscoder {
	return t.RegisterAs(reflect.TypeOf(v).Name(), v)
}

// RegisterAs registers a type under an explicit topic
func (t *JSONTranscoder) RegisterAs(topic string, v any) *JSONTranscoder {
	rt := reflect.TypeOf(v)

	t.types[topic] = rt
	t.topics[rt] = topic

	return t
}

// Encode marshals the incoming value to its json representation keyed by
// its registered topic
func (t *JSONTranscoder) Encode(v any) (*EncodedEvt, error) {
	topic, ok := t.topics[reflect.TypeOf(v)]
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnknownTopic, v)
	}

	data, err := t.json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscodingFailed, err)
	}

	return &EncodedEvt{
		Topic: topic,
		Data:  data,
	}, nil
}

// Decode unmarshals the incoming payload to its corresponding go type
func (t *JSONTranscoder) Decode(evt *EncodedEvt) (any, error) {
	rt, ok := t.types[evt.Topic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, evt.Topic)
	}

	v := reflect.New(rt)

	if err := t.json.Unmarshal(evt.Data, v.Interface()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscodingFailed, err)
	}

	return v.Elem().Interface(), nil
}
