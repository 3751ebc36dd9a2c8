package redistore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/cart-engine/internal/lock"
	"github.com/noah-isme/cart-engine/internal/store"
)

// ErrNotConfigured indicates the redis client is missing.
var ErrNotConfigured = errors.New("redistore: redis client not configured")

const (
	fieldItems      = "items"
	fieldConditions = "conditions"
	metaPrefix      = "meta:"
)

// Store is a Redis-hash-backed session store. Each (identity, instance) pair
// maps to one hash; an index set per identity tracks its instance names so
// multi-instance migrations can enumerate them. When a Locker is configured
// the store supports pessimistic read-modify-write serialization.
type Store struct {
	client     *redis.Client
	locker     *lock.Locker
	ttl        time.Duration
	maxPayload int64
}

// Config holds store construction options.
type Config struct {
	Client *redis.Client
	// Locker enables the pessimistic locking mode. Nil disables it.
	Locker *lock.Locker
	// TTL expires idle records. Zero keeps them until Forget.
	TTL time.Duration
	// MaxPayloadBytes rejects writes whose encoded payload exceeds the limit.
	MaxPayloadBytes int64
}

// New constructs the store.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNotConfigured
	}
	return &Store{
		client:     cfg.Client,
		locker:     cfg.Locker,
		ttl:        cfg.TTL,
		maxPayload: cfg.MaxPayloadBytes,
	}, nil
}

// SupportsLocking reports whether a locker was configured.
func (s *Store) SupportsLocking() bool { return s.locker != nil }

// WithLock serializes fn against other lock holders for the same record.
func (s *Store) WithLock(ctx context.Context, identity, instance string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, "lock:"+store.Key(identity, instance), fn)
}

// GetItems returns the stored item map, empty when absent.
func (s *Store) GetItems(ctx context.Context, identity, instance string) (map[string]store.ItemRecord, error) {
	out := map[string]store.ItemRecord{}
	if err := s.getField(ctx, identity, instance, fieldItems, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PutItems replaces the stored item map.
func (s *Store) PutItems(ctx context.Context, identity, instance string, items map[string]store.ItemRecord) error {
	if err := store.EnforceLimit(s.maxPayload, items); err != nil {
		return err
	}
	return s.putFields(ctx, identity, instance, map[string]any{fieldItems: items})
}

// GetConditions returns the stored condition map, empty when absent.
func (s *Store) GetConditions(ctx context.Context, identity, instance string) (map[string]store.ConditionRecord, error) {
	out := map[string]store.ConditionRecord{}
	if err := s.getField(ctx, identity, instance, fieldConditions, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PutConditions replaces the stored condition map.
func (s *Store) PutConditions(ctx context.Context, identity, instance string, conditions map[string]store.ConditionRecord) error {
	if err := store.EnforceLimit(s.maxPayload, conditions); err != nil {
		return err
	}
	return s.putFields(ctx, identity, instance, map[string]any{fieldConditions: conditions})
}

// PutBoth writes items and conditions in one transactional pipeline.
func (s *Store) PutBoth(ctx context.Context, identity, instance string, items map[string]store.ItemRecord, conditions map[string]store.ConditionRecord) error {
	if err := store.EnforceLimit(s.maxPayload, map[string]any{"items": items, "conditions": conditions}); err != nil {
		return err
	}
	return s.putFields(ctx, identity, instance, map[string]any{
		fieldItems:      items,
		fieldConditions: conditions,
	})
}

// GetMetadata returns nil when the key is absent.
func (s *Store) GetMetadata(ctx context.Context, identity, instance, key string) (json.RawMessage, error) {
	raw, err := s.client.HGet(ctx, store.Key(identity, instance), metaPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redistore: get metadata %q: %w", key, err)
	}
	return json.RawMessage(raw), nil
}

// PutMetadata stores an opaque metadata value.
func (s *Store) PutMetadata(ctx context.Context, identity, instance, key string, value json.RawMessage) error {
	if err := store.EnforceLimit(s.maxPayload, value); err != nil {
		return err
	}
	return s.putFields(ctx, identity, instance, map[string]any{metaPrefix + key: string(value)})
}

// Forget removes the record and drops it from the identity index.
func (s *Store) Forget(ctx context.Context, identity, instance string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, store.Key(identity, instance))
	pipe.SRem(ctx, indexKey(identity), instance)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redistore: forget: %w", err)
	}
	return nil
}

// Instances lists every known instance name for the identity, sorted.
func (s *Store) Instances(ctx context.Context, identity string) ([]string, error) {
	names, err := s.client.SMembers(ctx, indexKey(identity)).Result()
	if err != nil {
		return nil, fmt.Errorf("redistore: list instances: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) getField(ctx context.Context, identity, instance, field string, out any) error {
	raw, err := s.client.HGet(ctx, store.Key(identity, instance), field).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redistore: get %s: %w", field, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("redistore: decode %s: %w", field, err)
	}
	return nil
}

func (s *Store) putFields(ctx context.Context, identity, instance string, fields map[string]any) error {
	encoded := make([]any, 0, len(fields)*2)
	for field, value := range fields {
		switch v := value.(type) {
		case string:
			encoded = append(encoded, field, v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("redistore: encode %s: %w", field, err)
			}
			encoded = append(encoded, field, string(data))
		}
	}

	key := store.Key(identity, instance)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, encoded...)
	pipe.SAdd(ctx, indexKey(identity), instance)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redistore: write: %w", err)
	}
	return nil
}

func indexKey(identity string) string {
	return fmt.Sprintf("cart:%s:instances", identity)
}
