package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes every event to the structured log.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	n.Logger.Info().
		Str("topic", ev.Topic).
		Str("identity", ev.Identity).
		Str("instance", ev.Instance).
		Interface("payload", ev.Payload).
		Time("occurred_at", ev.OccurredAt).
		Msg("cart_event")
	return nil
}
