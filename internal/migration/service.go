package migration

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/cart-engine/internal/events"
	"github.com/noah-isme/cart-engine/internal/store"
)

// ErrNotConfigured indicates the service is missing its storage backend.
var ErrNotConfigured = errors.New("migration: backend not configured")

// Strategy is the per-item conflict resolution rule applied during a merge.
type Strategy string

const (
	// StrategyAddQuantities sums the conflicting quantities.
	StrategyAddQuantities Strategy = "add_quantities"
	// StrategyKeepHighestQuantity keeps the larger quantity.
	StrategyKeepHighestQuantity Strategy = "keep_highest_quantity"
	// StrategyKeepUserCart keeps the target quantity untouched.
	StrategyKeepUserCart Strategy = "keep_user_cart"
	// StrategyReplaceWithGuest takes the source quantity.
	StrategyReplaceWithGuest Strategy = "replace_with_guest"
)

// Service merges or transfers cart state between two identities. It operates
// purely against the storage backend, independent of any live cart.
type Service struct {
	Backend store.Backend
	Events  *events.Bus
	Logger  zerolog.Logger
}

// normalize maps unknown strategies to add_quantities. A misconfigured
// strategy must not fail a login flow.
func (s *Service) normalize(strategy Strategy) Strategy {
	switch Strategy(strings.TrimSpace(string(strategy))) {
	case StrategyAddQuantities, StrategyKeepHighestQuantity, StrategyKeepUserCart, StrategyReplaceWithGuest:
		return Strategy(strings.TrimSpace(string(strategy)))
	default:
		s.Logger.Warn().Str("strategy", string(strategy)).Msg("unknown merge strategy, falling back to add_quantities")
		return StrategyAddQuantities
	}
}

// MergeIdentities merges the source record into the target record for one
// instance. It reports false without error when the source record is empty.
// The source record is cleared after a successful merge.
func (s *Service) MergeIdentities(ctx context.Context, sourceIdentity, targetIdentity, instance string, strategy Strategy) (bool, error) {
	if s == nil || s.Backend == nil {
		return false, ErrNotConfigured
	}
	strategy = s.normalize(strategy)

	var merged bool
	err := store.Mutate(ctx, s.Backend, targetIdentity, instance, func(ctx context.Context) error {
		sourceItems, err := s.Backend.GetItems(ctx, sourceIdentity, instance)
		if err != nil {
			return err
		}
		sourceConditions, err := s.Backend.GetConditions(ctx, sourceIdentity, instance)
		if err != nil {
			return err
		}
		if len(sourceItems) == 0 && len(sourceConditions) == 0 {
			return nil
		}

		targetItems, err := s.Backend.GetItems(ctx, targetIdentity, instance)
		if err != nil {
			return err
		}
		targetConditions, err := s.Backend.GetConditions(ctx, targetIdentity, instance)
		if err != nil {
			return err
		}

		for id, sourceItem := range sourceItems {
			targetItem, exists := targetItems[id]
			if !exists {
				targetItems[id] = store.CloneItem(sourceItem)
				continue
			}
			targetItem.Quantity = resolveQuantity(strategy, targetItem.Quantity, sourceItem.Quantity)
			targetItems[id] = targetItem
		}

		if targetConditions == nil {
			targetConditions = map[string]store.ConditionRecord{}
		}
		// Union by name; the source condition wins a name collision.
		for name, rec := range sourceConditions {
			targetConditions[name] = rec
		}

		if err := s.Backend.PutBoth(ctx, targetIdentity, instance, targetItems, targetConditions); err != nil {
			return err
		}
		if err := s.Backend.Forget(ctx, sourceIdentity, instance); err != nil {
			return err
		}
		merged = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if merged {
		s.emit(ctx, events.TopicCartMerged, targetIdentity, instance, map[string]any{
			"sourceIdentity": sourceIdentity,
			"strategy":       string(strategy),
		})
	}
	return merged, nil
}

func resolveQuantity(strategy Strategy, target, source int) int {
	switch strategy {
	case StrategyKeepHighestQuantity:
		if source > target {
			return source
		}
		return target
	case StrategyKeepUserCart:
		return target
	case StrategyReplaceWithGuest:
		return source
	default:
		return target + source
	}
}

// Takeover discards the source record when a target record already exists,
// and otherwise moves the source record to the target key verbatim. It
// reports false without error when the source record does not exist.
func (s *Service) Takeover(ctx context.Context, sourceIdentity, targetIdentity, instance string) (bool, error) {
	if s == nil || s.Backend == nil {
		return false, ErrNotConfigured
	}

	var taken bool
	err := store.Mutate(ctx, s.Backend, targetIdentity, instance, func(ctx context.Context) error {
		sourceItems, err := s.Backend.GetItems(ctx, sourceIdentity, instance)
		if err != nil {
			return err
		}
		sourceConditions, err := s.Backend.GetConditions(ctx, sourceIdentity, instance)
		if err != nil {
			return err
		}
		if len(sourceItems) == 0 && len(sourceConditions) == 0 {
			return nil
		}

		targetItems, err := s.Backend.GetItems(ctx, targetIdentity, instance)
		if err != nil {
			return err
		}
		targetConditions, err := s.Backend.GetConditions(ctx, targetIdentity, instance)
		if err != nil {
			return err
		}

		// Target priority: an existing target record survives untouched.
		if len(targetItems) == 0 && len(targetConditions) == 0 {
			if err := s.Backend.PutBoth(ctx, targetIdentity, instance, sourceItems, sourceConditions); err != nil {
				return err
			}
		}
		if err := s.Backend.Forget(ctx, sourceIdentity, instance); err != nil {
			return err
		}
		taken = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if taken {
		s.emit(ctx, events.TopicCartTakenOver, targetIdentity, instance, map[string]any{
			"sourceIdentity": sourceIdentity,
		})
	}
	return taken, nil
}

// MergeAllInstances merges every known instance of the source identity,
// returning a per-instance result map. A failing instance is recorded as
// false and never aborts the batch.
func (s *Service) MergeAllInstances(ctx context.Context, sourceIdentity, targetIdentity string, strategy Strategy) (map[string]bool, error) {
	return s.eachInstance(ctx, sourceIdentity, func(ctx context.Context, instance string) (bool, error) {
		return s.MergeIdentities(ctx, sourceIdentity, targetIdentity, instance, strategy)
	})
}

// TakeoverAllInstances applies Takeover across every known instance of the
// source identity.
func (s *Service) TakeoverAllInstances(ctx context.Context, sourceIdentity, targetIdentity string) (map[string]bool, error) {
	return s.eachInstance(ctx, sourceIdentity, func(ctx context.Context, instance string) (bool, error) {
		return s.Takeover(ctx, sourceIdentity, targetIdentity, instance)
	})
}

func (s *Service) eachInstance(ctx context.Context, sourceIdentity string, fn func(ctx context.Context, instance string) (bool, error)) (map[string]bool, error) {
	if s == nil || s.Backend == nil {
		return nil, ErrNotConfigured
	}
	instances, err := s.Backend.Instances(ctx, sourceIdentity)
	if err != nil {
		return nil, err
	}
	results := make(map[string]bool, len(instances))
	for _, instance := range instances {
		ok, err := fn(ctx, instance)
		if err != nil {
			s.Logger.Error().Err(err).Str("instance", instance).Msg("instance migration failed, continuing")
			results[instance] = false
			continue
		}
		results[instance] = ok
	}
	return results, nil
}

func (s *Service) emit(ctx context.Context, topic, identity, instance string, payload map[string]any) {
	if err := s.Events.Emit(ctx, topic, identity, instance, payload); err != nil {
		s.Logger.Warn().Err(err).Str("topic", topic).Msg("notify migration observers")
	}
}
