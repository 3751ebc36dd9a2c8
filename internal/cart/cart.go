package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/noah-isme/cart-engine/internal/common"
	"github.com/noah-isme/cart-engine/internal/condition"
	"github.com/noah-isme/cart-engine/internal/events"
	"github.com/noah-isme/cart-engine/internal/item"
	"github.com/noah-isme/cart-engine/internal/money"
	"github.com/noah-isme/cart-engine/internal/store"
)

// ErrNotConfigured indicates the cart is missing its storage backend.
var ErrNotConfigured = errors.New("cart: backend not configured")

// Config carries the collaborators a Cart operates with.
type Config struct {
	Backend store.Backend
	Events  *events.Bus
	Logger  zerolog.Logger
}

// Cart orchestrates the line items and cart-level conditions stored under one
// (identity, instance) key. Reads are served from the in-memory snapshot;
// every mutation re-reads state from the backend, computes a new snapshot and
// writes it back, under the backend's row lock when it supports locking.
type Cart struct {
	identity string
	instance string
	backend  store.Backend
	events   *events.Bus
	logger   zerolog.Logger

	state state
}

// state is one immutable-in-spirit snapshot of cart content.
type state struct {
	ids        []string
	items      map[string]item.Item
	conditions condition.Set
}

// Load constructs a Cart by reading current state from the backend.
func Load(ctx context.Context, cfg Config, identity, instance string) (*Cart, error) {
	if cfg.Backend == nil {
		return nil, ErrNotConfigured
	}
	if identity == "" {
		return nil, common.NewValidationError("identity", "must not be empty")
	}
	if instance == "" {
		return nil, common.NewValidationError("instance", "must not be empty")
	}
	c := &Cart{
		identity: identity,
		instance: instance,
		backend:  cfg.Backend,
		events:   cfg.Events,
		logger:   cfg.Logger,
	}
	st, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	c.state = st
	return c, nil
}

// Identity returns the identity key the cart is stored under.
func (c *Cart) Identity() string { return c.identity }

// Instance returns the instance name the cart is stored under.
func (c *Cart) Instance() string { return c.instance }

// Items returns the items in deterministic order.
func (c *Cart) Items() []item.Item {
	out := make([]item.Item, 0, len(c.state.ids))
	for _, id := range c.state.ids {
		out = append(out, c.state.items[id])
	}
	return out
}

// Item returns a single item by id.
func (c *Cart) Item(id string) (item.Item, bool) {
	it, ok := c.state.items[id]
	return it, ok
}

// Has reports whether an item with the given id exists.
func (c *Cart) Has(id string) bool {
	_, ok := c.state.items[id]
	return ok
}

// Count returns the number of unique items.
func (c *Cart) Count() int { return len(c.state.ids) }

// TotalQuantity returns the summed unit count across all items.
func (c *Cart) TotalQuantity() int {
	var total int
	for _, it := range c.state.items {
		total += it.Quantity()
	}
	return total
}

// IsEmpty reports whether the cart holds no items.
func (c *Cart) IsEmpty() bool { return len(c.state.ids) == 0 }

// Conditions returns the cart-level condition set.
func (c *Cart) Conditions() condition.Set { return c.state.conditions }

// RawSubtotal sums the unconditioned item totals.
func (c *Cart) RawSubtotal() money.Amount {
	return c.state.rawSubtotal()
}

// SubtotalWithoutConditions sums the item-level-conditioned totals before any
// cart-level adjustment.
func (c *Cart) SubtotalWithoutConditions() money.Amount {
	return c.state.itemsSubtotal()
}

// Subtotal applies the subtotal-targeted cart conditions to the item-stage
// sum.
func (c *Cart) Subtotal() money.Amount {
	return c.state.subtotal()
}

// Total applies the total-targeted cart conditions starting from Subtotal.
// With no total-targeted conditions, Total equals Subtotal.
func (c *Cart) Total() money.Amount {
	return c.state.total()
}

// Savings reports how much conditions reduced the cart below its raw value,
// clamped at zero. Only meaningful relative to discounts.
func (c *Cart) Savings() money.Amount {
	return c.RawSubtotal().Sub(c.Subtotal()).ClampZero()
}

func (s state) rawSubtotal() money.Amount {
	sum := money.Zero()
	for _, it := range s.items {
		sum = sum.Add(it.RawSubtotal())
	}
	return sum
}

func (s state) itemsSubtotal() money.Amount {
	sum := money.Zero()
	for _, it := range s.items {
		sum = sum.Add(it.SubtotalWithConditions())
	}
	return sum
}

func (s state) subtotal() money.Amount {
	return s.conditions.ByTarget(condition.TargetSubtotal).Apply(s.itemsSubtotal())
}

func (s state) total() money.Amount {
	return s.conditions.ByTarget(condition.TargetTotal).Apply(s.subtotal())
}

func (s state) itemRecords() map[string]store.ItemRecord {
	out := make(map[string]store.ItemRecord, len(s.items))
	for id, it := range s.items {
		out[id] = it.Record()
	}
	return out
}

func (s state) clone() state {
	ids := make([]string, len(s.ids))
	copy(ids, s.ids)
	items := make(map[string]item.Item, len(s.items))
	for id, it := range s.items {
		items[id] = it
	}
	return state{ids: ids, items: items, conditions: s.conditions}
}

func (s *state) put(it item.Item) {
	if _, ok := s.items[it.ID()]; !ok {
		s.ids = append(s.ids, it.ID())
	}
	s.items[it.ID()] = it
}

func (s *state) drop(id string) {
	delete(s.items, id)
	for i, existing := range s.ids {
		if existing == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			return
		}
	}
}

// read loads a fresh snapshot from the backend. Item ids are visited in
// lexical order so reconstruction is deterministic.
func (c *Cart) read(ctx context.Context) (state, error) {
	records, err := c.backend.GetItems(ctx, c.identity, c.instance)
	if err != nil {
		return state{}, fmt.Errorf("cart: load items: %w", err)
	}
	condRecords, err := c.backend.GetConditions(ctx, c.identity, c.instance)
	if err != nil {
		return state{}, fmt.Errorf("cart: load conditions: %w", err)
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := make(map[string]item.Item, len(records))
	for _, id := range ids {
		it, err := item.FromRecord(records[id])
		if err != nil {
			return state{}, fmt.Errorf("cart: rebuild item %q: %w", id, err)
		}
		items[id] = it
	}

	conds, err := condition.SetFromRecords(condRecords)
	if err != nil {
		return state{}, fmt.Errorf("cart: rebuild conditions: %w", err)
	}
	return state{ids: ids, items: items, conditions: conds}, nil
}

// mutate runs one read-modify-write cycle. fn receives a fresh snapshot and
// returns the event topic and payload to emit after a successful write; an
// empty topic suppresses emission (used by no-op mutations).
func (c *Cart) mutate(ctx context.Context, fn func(st *state) (string, map[string]any, error)) error {
	if c.backend == nil {
		return ErrNotConfigured
	}
	return store.Mutate(ctx, c.backend, c.identity, c.instance, func(ctx context.Context) error {
		st, err := c.read(ctx)
		if err != nil {
			return err
		}
		next := st.clone()
		topic, payload, err := fn(&next)
		if err != nil {
			return err
		}
		if err := c.backend.PutBoth(ctx, c.identity, c.instance, next.itemRecords(), next.conditions.Records()); err != nil {
			return fmt.Errorf("cart: persist: %w", err)
		}
		c.state = next
		if topic != "" {
			if emitErr := c.events.Emit(ctx, topic, c.identity, c.instance, payload); emitErr != nil {
				c.logger.Warn().Err(emitErr).Str("topic", topic).Msg("notify cart observers")
			}
		}
		return nil
	})
}
