package cart

import (
	"context"

	"github.com/noah-isme/cart-engine/internal/common"
	"github.com/noah-isme/cart-engine/internal/condition"
	"github.com/noah-isme/cart-engine/internal/events"
	"github.com/noah-isme/cart-engine/internal/item"
	"github.com/noah-isme/cart-engine/internal/money"
)

// ItemChanges describes a partial item update. Quantity is additive by
// default; set QuantityAbsolute to replace the stored quantity instead. A nil
// pointer field leaves that field unchanged. Attribute keys are merged into
// the existing attribute map.
type ItemChanges struct {
	Name             *string
	Price            *money.Amount
	Quantity         int
	QuantityAbsolute bool
	Attributes       map[string]any
}

// AddItem validates and inserts a new item. Adding an id that already exists
// increments the stored quantity by the given quantity and refreshes price
// and name.
func (c *Cart) AddItem(ctx context.Context, p item.Params) (item.Item, error) {
	var added item.Item
	err := c.mutate(ctx, func(st *state) (string, map[string]any, error) {
		candidate, err := item.New(p)
		if err != nil {
			return "", nil, err
		}
		if existing, ok := st.items[candidate.ID()]; ok {
			merged, err := candidate.WithQuantity(existing.Quantity() + candidate.Quantity())
			if err != nil {
				return "", nil, err
			}
			candidate = merged
		}
		st.put(candidate)
		added = candidate
		return events.TopicItemAdded, map[string]any{"itemId": candidate.ID(), "quantity": candidate.Quantity()}, nil
	})
	return added, err
}

// UpdateItem applies partial changes to an existing item. It reports false
// without error when the id is absent. A resulting quantity of zero or less
// removes the item.
func (c *Cart) UpdateItem(ctx context.Context, id string, changes ItemChanges) (item.Item, bool, error) {
	var (
		updated item.Item
		found   bool
	)
	err := c.mutate(ctx, func(st *state) (string, map[string]any, error) {
		existing, ok := st.items[id]
		if !ok {
			return "", nil, nil
		}
		found = true

		quantity := existing.Quantity() + changes.Quantity
		if changes.QuantityAbsolute {
			quantity = changes.Quantity
		}
		if quantity <= 0 {
			st.drop(id)
			return events.TopicItemRemoved, map[string]any{"itemId": id, "reason": "quantity_depleted"}, nil
		}

		next, err := existing.WithQuantity(quantity)
		if err != nil {
			return "", nil, err
		}
		if changes.Name != nil {
			if next, err = next.WithName(*changes.Name); err != nil {
				return "", nil, err
			}
		}
		if changes.Price != nil {
			if next, err = next.WithPrice(*changes.Price); err != nil {
				return "", nil, err
			}
		}
		for key, value := range changes.Attributes {
			next = next.WithAttribute(key, value)
		}
		st.put(next)
		updated = next
		return events.TopicItemUpdated, map[string]any{"itemId": id, "quantity": next.Quantity()}, nil
	})
	return updated, found, err
}

// RemoveItem deletes an item. Removing a missing id is a no-op, not an error.
func (c *Cart) RemoveItem(ctx context.Context, id string) error {
	return c.mutate(ctx, func(st *state) (string, map[string]any, error) {
		if _, ok := st.items[id]; !ok {
			return "", nil, nil
		}
		st.drop(id)
		return events.TopicItemRemoved, map[string]any{"itemId": id}, nil
	})
}

// AddCondition attaches a cart-level condition. The target must be subtotal
// or total scoped; item-scoped conditions belong on items.
func (c *Cart) AddCondition(ctx context.Context, cond condition.Condition) error {
	return c.mutate(ctx, func(st *state) (string, map[string]any, error) {
		if cond.Target() != condition.TargetSubtotal && cond.Target() != condition.TargetTotal {
			return "", nil, common.NewValidationError("condition", "cart conditions must target subtotal or total scope")
		}
		st.conditions = st.conditions.Add(cond)
		return events.TopicConditionAdded, map[string]any{"name": cond.Name(), "target": string(cond.Target())}, nil
	})
}

// RemoveCondition detaches a cart-level condition by name, reporting false
// when the name is unknown.
func (c *Cart) RemoveCondition(ctx context.Context, name string) (bool, error) {
	var removed bool
	err := c.mutate(ctx, func(st *state) (string, map[string]any, error) {
		next, ok := st.conditions.Remove(name)
		if !ok {
			return "", nil, nil
		}
		removed = true
		st.conditions = next
		return events.TopicConditionRemoved, map[string]any{"name": name}, nil
	})
	return removed, err
}

// ClearConditions removes every cart-level condition.
func (c *Cart) ClearConditions(ctx context.Context) error {
	return c.mutate(ctx, func(st *state) (string, map[string]any, error) {
		if st.conditions.Len() == 0 {
			return "", nil, nil
		}
		st.conditions = condition.Set{}
		return events.TopicConditionRemoved, map[string]any{"name": "*"}, nil
	})
}

// AddItemCondition attaches an item-scoped condition to one item, reporting
// false when the item is absent.
func (c *Cart) AddItemCondition(ctx context.Context, itemID string, cond condition.Condition) (bool, error) {
	var found bool
	err := c.mutate(ctx, func(st *state) (string, map[string]any, error) {
		existing, ok := st.items[itemID]
		if !ok {
			return "", nil, nil
		}
		found = true
		next, err := existing.WithCondition(cond)
		if err != nil {
			return "", nil, err
		}
		st.put(next)
		return events.TopicConditionAdded, map[string]any{"itemId": itemID, "name": cond.Name()}, nil
	})
	return found, err
}

// RemoveItemCondition detaches a named condition from one item, reporting
// false when either the item or the condition is absent.
func (c *Cart) RemoveItemCondition(ctx context.Context, itemID, name string) (bool, error) {
	var removed bool
	err := c.mutate(ctx, func(st *state) (string, map[string]any, error) {
		existing, ok := st.items[itemID]
		if !ok {
			return "", nil, nil
		}
		next, ok := existing.WithoutCondition(name)
		if !ok {
			return "", nil, nil
		}
		removed = true
		st.put(next)
		return events.TopicConditionRemoved, map[string]any{"itemId": itemID, "name": name}, nil
	})
	return removed, err
}

// ClearItemConditions removes every condition from one item, reporting false
// when the item is absent.
func (c *Cart) ClearItemConditions(ctx context.Context, itemID string) (bool, error) {
	var found bool
	err := c.mutate(ctx, func(st *state) (string, map[string]any, error) {
		existing, ok := st.items[itemID]
		if !ok {
			return "", nil, nil
		}
		found = true
		st.put(existing.WithoutConditions())
		return events.TopicConditionRemoved, map[string]any{"itemId": itemID, "name": "*"}, nil
	})
	return found, err
}

// Clear empties the items and the cart-level conditions. The cart remains a
// valid addressable record; clearing twice yields the same empty state.
func (c *Cart) Clear(ctx context.Context) error {
	return c.mutate(ctx, func(st *state) (string, map[string]any, error) {
		st.ids = nil
		st.items = map[string]item.Item{}
		st.conditions = condition.Set{}
		return events.TopicCartCleared, nil, nil
	})
}
