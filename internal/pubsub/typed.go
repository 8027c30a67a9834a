package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// TopicInfo documents a typed topic for tooling.
type TopicInfo struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	TypeName      string   `json:"type_name"`
	PayloadFields []string `json:"payload_fields"`
}

var (
	catalogMu sync.RWMutex
	catalog   = map[string]TopicInfo{}
)

// Event[T] wraps a topic name and provides type-safe publishing.
type Event[T any] struct {
	topicName string
}

// NewEvent creates a typed event and records it in the topic catalog.
// The payload field list is derived from the json tags of T.
func NewEvent[T any](name string, description string) Event[T] {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	fields := make([]string, 0)
	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			jsonTag := t.Field(i).Tag.Get("json")
			if jsonTag != "" && jsonTag != "-" {
				fieldName, _, _ := strings.Cut(jsonTag, ",")
				fields = append(fields, fieldName)
			}
		}
	}

	catalogMu.Lock()
	defer catalogMu.Unlock()
	if _, exists := catalog[name]; exists {
		panic(fmt.Sprintf("pubsub: topic %q registered twice", name))
	}
	catalog[name] = TopicInfo{
		Name:          name,
		Description:   description,
		TypeName:      t.Name(),
		PayloadFields: fields,
	}

	return Event[T]{topicName: name}
}

// Name returns the topic name.
func (e Event[T]) Name() string {
	return e.topicName
}

// Topics lists every registered typed topic sorted by name.
func Topics() []TopicInfo {
	catalogMu.RLock()
	defer catalogMu.RUnlock()

	out := make([]TopicInfo, 0, len(catalog))
	for _, info := range catalog {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Publish sends a typed event. The compiler ensures 'payload' matches 'T'.
func Publish[T any](ctx context.Context, p Publisher, event Event[T], source string, payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event.Name(), err)
	}

	return p.Publish(ctx, Message{
		Topic:   event.Name(),
		Source:  source,
		Payload: data,
	})
}

// Subscribe decodes every message on event's topic into T before calling fn.
func Subscribe[T any](ctx context.Context, s Subscriber, event Event[T], fn func(ctx context.Context, payload T, msg Message) error) error {
	return s.Subscribe(ctx, event.Name(), func(ctx context.Context, msg Message) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.Name(), err)
		}
		return fn(ctx, payload, msg)
	})
}
