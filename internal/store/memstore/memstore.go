package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/noah-isme/cart-engine/internal/store"
)

// Store is an in-process backend for session-scoped carts and tests. It
// assumes a single writer per (identity, instance) key and therefore reports
// no locking support; the mutex only guards the maps themselves.
type Store struct {
	mu         sync.RWMutex
	records    map[recordKey]*record
	maxPayload int64
}

type recordKey struct {
	identity string
	instance string
}

type record struct {
	items      map[string]store.ItemRecord
	conditions map[string]store.ConditionRecord
	metadata   map[string]json.RawMessage
}

// Config holds store construction options.
type Config struct {
	// MaxPayloadBytes rejects writes whose encoded payload exceeds the limit.
	// Zero disables the check.
	MaxPayloadBytes int64
}

// New constructs an empty in-memory store.
func New(cfg Config) *Store {
	return &Store{
		records:    make(map[recordKey]*record),
		maxPayload: cfg.MaxPayloadBytes,
	}
}

// SupportsLocking reports false: session storage has a single writer.
func (s *Store) SupportsLocking() bool { return false }

// GetItems returns a deep copy of the stored item map.
func (s *Store) GetItems(_ context.Context, identity, instance string) (map[string]store.ItemRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{identity, instance}]
	if !ok {
		return map[string]store.ItemRecord{}, nil
	}
	return store.CloneItems(rec.items), nil
}

// PutItems replaces the stored item map.
func (s *Store) PutItems(_ context.Context, identity, instance string, items map[string]store.ItemRecord) error {
	if err := store.EnforceLimit(s.maxPayload, items); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(identity, instance).items = store.CloneItems(items)
	return nil
}

// GetConditions returns a deep copy of the stored condition map.
func (s *Store) GetConditions(_ context.Context, identity, instance string) (map[string]store.ConditionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{identity, instance}]
	if !ok {
		return map[string]store.ConditionRecord{}, nil
	}
	out := store.CloneConditions(rec.conditions)
	if out == nil {
		out = map[string]store.ConditionRecord{}
	}
	return out, nil
}

// PutConditions replaces the stored condition map.
func (s *Store) PutConditions(_ context.Context, identity, instance string, conditions map[string]store.ConditionRecord) error {
	if err := store.EnforceLimit(s.maxPayload, conditions); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(identity, instance).conditions = store.CloneConditions(conditions)
	return nil
}

// PutBoth replaces items and conditions in one step.
func (s *Store) PutBoth(_ context.Context, identity, instance string, items map[string]store.ItemRecord, conditions map[string]store.ConditionRecord) error {
	payload := map[string]any{"items": items, "conditions": conditions}
	if err := store.EnforceLimit(s.maxPayload, payload); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensure(identity, instance)
	rec.items = store.CloneItems(items)
	rec.conditions = store.CloneConditions(conditions)
	return nil
}

// GetMetadata returns nil when the key is absent.
func (s *Store) GetMetadata(_ context.Context, identity, instance, key string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{identity, instance}]
	if !ok {
		return nil, nil
	}
	value, ok := rec.metadata[key]
	if !ok {
		return nil, nil
	}
	return append(json.RawMessage(nil), value...), nil
}

// PutMetadata stores an opaque metadata value.
func (s *Store) PutMetadata(_ context.Context, identity, instance, key string, value json.RawMessage) error {
	if err := store.EnforceLimit(s.maxPayload, value); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(identity, instance).metadata[key] = append(json.RawMessage(nil), value...)
	return nil
}

// Forget removes the record entirely.
func (s *Store) Forget(_ context.Context, identity, instance string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordKey{identity, instance})
	return nil
}

// Instances lists every known instance name for the identity, sorted.
func (s *Store) Instances(_ context.Context, identity string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for key := range s.records {
		if key.identity == identity {
			out = append(out, key.instance)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) ensure(identity, instance string) *record {
	key := recordKey{identity, instance}
	rec, ok := s.records[key]
	if !ok {
		rec = &record{
			items:      map[string]store.ItemRecord{},
			conditions: map[string]store.ConditionRecord{},
			metadata:   map[string]json.RawMessage{},
		}
		s.records[key] = rec
	}
	return rec
}
