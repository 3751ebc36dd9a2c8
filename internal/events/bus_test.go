package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cart-engine/internal/events"
)

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

func TestEmitFansOut(t *testing.T) {
	first := &captureNotifier{}
	second := &captureNotifier{}
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	bus := &events.Bus{
		Notifiers: []events.Notifier{first, second},
		Now:       func() time.Time { return now },
	}

	err := bus.Emit(context.Background(), events.TopicItemAdded, "sess-1", "default", map[string]any{"itemId": "sku-1"})
	require.NoError(t, err)
	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	require.Equal(t, events.TopicItemAdded, first.events[0].Topic)
	require.Equal(t, "sess-1", first.events[0].Identity)
	require.Equal(t, now, first.events[0].OccurredAt)
	require.Equal(t, "sku-1", first.events[0].Payload["itemId"])
}

func TestEmitJoinsNotifierErrors(t *testing.T) {
	boom := errors.New("boom")
	failing := &captureNotifier{err: boom}
	ok := &captureNotifier{}
	bus := &events.Bus{Notifiers: []events.Notifier{failing, ok}}

	err := bus.Emit(context.Background(), events.TopicCartCleared, "sess-1", "default", nil)
	require.ErrorIs(t, err, boom)
	require.Len(t, ok.events, 1, "later notifiers still run")
}

func TestNilBusIsNoOp(t *testing.T) {
	var bus *events.Bus
	require.NoError(t, bus.Emit(context.Background(), events.TopicItemAdded, "a", "b", nil))
}

func TestEmitRequiresTopic(t *testing.T) {
	bus := &events.Bus{}
	require.Error(t, bus.Emit(context.Background(), "  ", "a", "b", nil))
}
