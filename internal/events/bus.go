package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event describes a successful cart mutation.
type Event struct {
	Topic      string
	Identity   string
	Instance   string
	Payload    map[string]any
	OccurredAt time.Time
}

// Notifier reacts to emitted events (logging, metrics, webhooks, ...).
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Bus fans events out to downstream notifiers synchronously. A nil Bus is a
// valid no-op, so the engine functions identically with no observer attached.
type Bus struct {
	Notifiers []Notifier
	Now       func() time.Time
}

// Emit dispatches the event to all configured notifiers. Notifier failures
// are joined and returned; emission itself never blocks a mutation.
func (b *Bus) Emit(ctx context.Context, topic, identity, instance string, payload map[string]any) error {
	if b == nil {
		return nil
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errors.New("events: topic is required")
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	ev := Event{
		Topic:      topic,
		Identity:   identity,
		Instance:   instance,
		Payload:    payload,
		OccurredAt: now(),
	}
	var joined error
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, ev); err != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", err))
		}
	}
	return joined
}
