package cart

import (
	"context"

	"github.com/noah-isme/cart-engine/internal/money"
	"github.com/noah-isme/cart-engine/internal/store"
)

// Content is the serialization shape consumed by callers: the full cart
// state plus the derived figures. Conditions are listed in application order.
type Content struct {
	Items      []store.ItemRecord      `json:"items"`
	Conditions []store.ConditionRecord `json:"conditions"`
	Count      int                     `json:"count"`
	Quantity   int                     `json:"quantity"`
	Subtotal   money.Amount            `json:"subtotal"`
	Total      money.Amount            `json:"total"`
}

// Content renders the current snapshot.
func (c *Cart) Content() Content {
	items := make([]store.ItemRecord, 0, len(c.state.ids))
	for _, id := range c.state.ids {
		items = append(items, c.state.items[id].Record())
	}
	return Content{
		Items:      items,
		Conditions: c.state.conditions.RecordList(),
		Count:      c.Count(),
		Quantity:   c.TotalQuantity(),
		Subtotal:   c.Subtotal(),
		Total:      c.Total(),
	}
}

// Restore writes a content snapshot verbatim under the given key, replacing
// whatever is stored there. Loading the key afterwards reproduces the
// snapshot's subtotal and total; conditions are stored raw, never
// pre-applied.
func Restore(ctx context.Context, b store.Backend, identity, instance string, content Content) error {
	if b == nil {
		return ErrNotConfigured
	}
	items := make(map[string]store.ItemRecord, len(content.Items))
	for _, rec := range content.Items {
		items[rec.ID] = rec
	}
	conditions := make(map[string]store.ConditionRecord, len(content.Conditions))
	for _, rec := range content.Conditions {
		conditions[rec.Name] = rec
	}
	return b.PutBoth(ctx, identity, instance, items, conditions)
}
