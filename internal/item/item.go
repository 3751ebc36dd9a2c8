package item

import (
	"fmt"
	"strings"

	"github.com/noah-isme/cart-engine/internal/common"
	"github.com/noah-isme/cart-engine/internal/condition"
	"github.com/noah-isme/cart-engine/internal/money"
	"github.com/noah-isme/cart-engine/internal/store"
)

// Item is an immutable cart line item. Every mutator validates its input and
// returns a new Item; the receiver is never altered.
type Item struct {
	id            string
	name          string
	price         money.Amount
	quantity      int
	attributes    map[string]any
	conditions    condition.Set
	associatedRef map[string]any
}

// Params collects the inputs for New.
type Params struct {
	ID            string
	Name          string
	Price         money.Amount
	Quantity      int
	Attributes    map[string]any
	Conditions    condition.Set
	AssociatedRef map[string]any
}

// New validates and constructs an Item.
func New(p Params) (Item, error) {
	if strings.TrimSpace(p.ID) == "" {
		return Item{}, common.NewValidationError("id", "must not be empty")
	}
	if strings.TrimSpace(p.Name) == "" {
		return Item{}, common.NewValidationError("name", "must not be empty")
	}
	if p.Price.IsNegative() {
		return Item{}, common.NewValidationError("price", "must not be negative")
	}
	if p.Quantity < 1 {
		return Item{}, common.NewValidationError("quantity", "must be at least 1")
	}
	for _, c := range p.Conditions.All() {
		if c.Target() != condition.TargetItem {
			return Item{}, common.NewValidationError("conditions", fmt.Sprintf("condition %q must target item scope", c.Name()))
		}
	}
	return Item{
		id:            p.ID,
		name:          p.Name,
		price:         p.Price,
		quantity:      p.Quantity,
		attributes:    cloneMap(p.Attributes),
		conditions:    p.Conditions,
		associatedRef: cloneMap(p.AssociatedRef),
	}, nil
}

// ID returns the item identifier, unique within a cart.
func (i Item) ID() string { return i.id }

// Name returns the display name.
func (i Item) Name() string { return i.name }

// Quantity returns the number of units.
func (i Item) Quantity() int { return i.quantity }

// Conditions returns the item-scoped condition set.
func (i Item) Conditions() condition.Set { return i.conditions }

// Attribute returns a single attribute value.
func (i Item) Attribute(key string) (any, bool) {
	v, ok := i.attributes[key]
	return v, ok
}

// Attributes returns a copy of the attribute map.
func (i Item) Attributes() map[string]any { return cloneMap(i.attributes) }

// AssociatedRef returns a copy of the opaque associated reference, or nil.
func (i Item) AssociatedRef() map[string]any { return cloneMap(i.associatedRef) }

// UnitPrice returns the raw unit price, untouched by conditions.
func (i Item) UnitPrice() money.Amount { return i.price }

// PriceWithConditions applies the item's conditions to the unit price.
func (i Item) PriceWithConditions() money.Amount {
	return i.conditions.Apply(i.price)
}

// RawSubtotal returns unit price times quantity, without conditions.
func (i Item) RawSubtotal() money.Amount {
	return i.price.MulInt(int64(i.quantity))
}

// SubtotalWithConditions returns the conditioned unit price times quantity.
func (i Item) SubtotalWithConditions() money.Amount {
	return i.PriceWithConditions().MulInt(int64(i.quantity))
}

// DiscountAmount reports the amount saved by conditions, clamped at zero when
// charges outweigh discounts.
func (i Item) DiscountAmount() money.Amount {
	return i.RawSubtotal().Sub(i.SubtotalWithConditions()).ClampZero()
}

// WithQuantity returns a copy with an absolute quantity.
func (i Item) WithQuantity(quantity int) (Item, error) {
	if quantity < 1 {
		return Item{}, common.NewValidationError("quantity", "must be at least 1")
	}
	out := i.clone()
	out.quantity = quantity
	return out, nil
}

// WithPrice returns a copy with a new unit price.
func (i Item) WithPrice(price money.Amount) (Item, error) {
	if price.IsNegative() {
		return Item{}, common.NewValidationError("price", "must not be negative")
	}
	out := i.clone()
	out.price = price
	return out, nil
}

// WithName returns a copy with a new name.
func (i Item) WithName(name string) (Item, error) {
	if strings.TrimSpace(name) == "" {
		return Item{}, common.NewValidationError("name", "must not be empty")
	}
	out := i.clone()
	out.name = name
	return out, nil
}

// WithAttribute returns a copy with the attribute set.
func (i Item) WithAttribute(key string, value any) Item {
	out := i.clone()
	if out.attributes == nil {
		out.attributes = make(map[string]any, 1)
	}
	out.attributes[key] = value
	return out
}

// WithoutAttribute returns a copy with the attribute removed.
func (i Item) WithoutAttribute(key string) Item {
	out := i.clone()
	delete(out.attributes, key)
	return out
}

// WithCondition returns a copy with the condition added, replacing any
// existing condition of the same name.
func (i Item) WithCondition(c condition.Condition) (Item, error) {
	if c.Target() != condition.TargetItem {
		return Item{}, common.NewValidationError("condition", fmt.Sprintf("condition %q must target item scope", c.Name()))
	}
	out := i.clone()
	out.conditions = out.conditions.Add(c)
	return out, nil
}

// WithoutCondition returns a copy without the named condition and reports
// whether it was present.
func (i Item) WithoutCondition(name string) (Item, bool) {
	set, removed := i.conditions.Remove(name)
	if !removed {
		return i, false
	}
	out := i.clone()
	out.conditions = set
	return out, true
}

// WithoutConditions returns a copy with an empty condition set.
func (i Item) WithoutConditions() Item {
	out := i.clone()
	out.conditions = condition.Set{}
	return out
}

// WithAssociatedRef returns a copy with the opaque reference replaced.
func (i Item) WithAssociatedRef(ref map[string]any) Item {
	out := i.clone()
	out.associatedRef = cloneMap(ref)
	return out
}

func (i Item) clone() Item {
	i.attributes = cloneMap(i.attributes)
	i.associatedRef = cloneMap(i.associatedRef)
	return i
}

// Record converts the item to its persisted shape.
func (i Item) Record() store.ItemRecord {
	return store.ItemRecord{
		ID:            i.id,
		Name:          i.name,
		Price:         i.price,
		Quantity:      i.quantity,
		Attributes:    cloneMap(i.attributes),
		Conditions:    i.conditions.Records(),
		AssociatedRef: cloneMap(i.associatedRef),
	}
}

// FromRecord reconstructs an item from its persisted shape.
func FromRecord(rec store.ItemRecord) (Item, error) {
	conds, err := condition.SetFromRecords(rec.Conditions)
	if err != nil {
		return Item{}, fmt.Errorf("item %q: %w", rec.ID, err)
	}
	return New(Params{
		ID:            rec.ID,
		Name:          rec.Name,
		Price:         rec.Price,
		Quantity:      rec.Quantity,
		Attributes:    rec.Attributes,
		Conditions:    conds,
		AssociatedRef: rec.AssociatedRef,
	})
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
