package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/noah-isme/cart-engine/internal/money"
)

// ErrPayloadTooLarge indicates a write was rejected because the encoded
// payload exceeds the backend's configured size ceiling.
var ErrPayloadTooLarge = errors.New("store: payload exceeds size limit")

// ConditionRecord is the persisted shape of a cart or item condition.
// Sequence stores the insertion slot so equal Order values replay in the
// sequence they were added, not in map iteration or name order.
type ConditionRecord struct {
	Name       string         `json:"name"`
	Type       string         `json:"type,omitempty"`
	Target     string         `json:"target"`
	Value      string         `json:"value"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Order      int            `json:"order,omitempty"`
	Sequence   int            `json:"sequence,omitempty"`
}

// ItemRecord is the persisted shape of a cart line item.
type ItemRecord struct {
	ID            string                     `json:"id"`
	Name          string                     `json:"name"`
	Price         money.Amount               `json:"price"`
	Quantity      int                        `json:"quantity"`
	Attributes    map[string]any             `json:"attributes,omitempty"`
	Conditions    map[string]ConditionRecord `json:"conditions,omitempty"`
	AssociatedRef map[string]any             `json:"associatedRef,omitempty"`
}

// Backend is the keyed persistence contract carts and migrations run against.
// Records are addressed by an (identity, instance) pair; different pairs are
// fully independent.
type Backend interface {
	GetItems(ctx context.Context, identity, instance string) (map[string]ItemRecord, error)
	PutItems(ctx context.Context, identity, instance string, items map[string]ItemRecord) error
	GetConditions(ctx context.Context, identity, instance string) (map[string]ConditionRecord, error)
	PutConditions(ctx context.Context, identity, instance string, conditions map[string]ConditionRecord) error
	// PutBoth writes items and conditions as one atomic update.
	PutBoth(ctx context.Context, identity, instance string, items map[string]ItemRecord, conditions map[string]ConditionRecord) error
	// GetMetadata returns nil (not an error) when the key is absent.
	GetMetadata(ctx context.Context, identity, instance, key string) (json.RawMessage, error)
	PutMetadata(ctx context.Context, identity, instance, key string, value json.RawMessage) error
	// Forget removes the record entirely.
	Forget(ctx context.Context, identity, instance string) error
	// Instances lists every known instance name for the identity.
	Instances(ctx context.Context, identity string) ([]string, error)
	// SupportsLocking reports whether the backend can serialize concurrent
	// read-modify-write sequences for one (identity, instance) key.
	SupportsLocking() bool
}

// Locker is implemented by backends whose SupportsLocking reports true.
type Locker interface {
	WithLock(ctx context.Context, identity, instance string, fn func(context.Context) error) error
}

// Mutate runs fn under the backend's row lock when the backend supports
// locking, and directly otherwise.
func Mutate(ctx context.Context, b Backend, identity, instance string, fn func(context.Context) error) error {
	if l, ok := b.(Locker); ok && b.SupportsLocking() {
		return l.WithLock(ctx, identity, instance, fn)
	}
	return fn(ctx)
}

// Key renders the canonical storage key for an (identity, instance) pair.
func Key(identity, instance string) string {
	return fmt.Sprintf("cart:%s:%s", identity, instance)
}

// EnforceLimit rejects payloads whose JSON encoding exceeds max bytes. A max
// of zero disables the check.
func EnforceLimit(max int64, payload any) error {
	if max <= 0 {
		return nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("store: encode payload: %w", err)
	}
	if int64(len(encoded)) > max {
		return fmt.Errorf("payload is %d bytes, limit is %d: %w", len(encoded), max, ErrPayloadTooLarge)
	}
	return nil
}

// CloneItems deep-copies an item record map.
func CloneItems(items map[string]ItemRecord) map[string]ItemRecord {
	out := make(map[string]ItemRecord, len(items))
	for id, rec := range items {
		out[id] = CloneItem(rec)
	}
	return out
}

// CloneItem deep-copies a single item record.
func CloneItem(rec ItemRecord) ItemRecord {
	rec.Attributes = cloneAnyMap(rec.Attributes)
	rec.Conditions = CloneConditions(rec.Conditions)
	rec.AssociatedRef = cloneAnyMap(rec.AssociatedRef)
	return rec
}

// CloneConditions deep-copies a condition record map.
func CloneConditions(conditions map[string]ConditionRecord) map[string]ConditionRecord {
	if conditions == nil {
		return nil
	}
	out := make(map[string]ConditionRecord, len(conditions))
	for name, rec := range conditions {
		rec.Attributes = cloneAnyMap(rec.Attributes)
		out[name] = rec
	}
	return out
}

func cloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
