package condition

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/noah-isme/cart-engine/internal/money"
	"github.com/noah-isme/cart-engine/internal/store"
)

// ErrInvalidValue is returned when a value expression does not match the grammar.
var ErrInvalidValue = errors.New("condition: invalid value expression")

// ErrMissingField is returned when a required field is absent.
var ErrMissingField = errors.New("condition: missing required field")

// Target identifies the stage a condition applies to.
type Target string

const (
	// TargetItem applies against a single line item's unit price.
	TargetItem Target = "item"
	// TargetSubtotal applies against the aggregated item total.
	TargetSubtotal Target = "subtotal"
	// TargetTotal applies after all subtotal-stage conditions.
	TargetTotal Target = "total"
)

// Valid reports whether the target is one of the known stages.
func (t Target) Valid() bool {
	switch t {
	case TargetItem, TargetSubtotal, TargetTotal:
		return true
	}
	return false
}

// Value expression grammar: optional sign, digits with optional decimal point,
// optional trailing percent marker.
var valuePattern = regexp.MustCompile(`^([+-]?)(\d+(?:\.\d+)?)(%?)$`)

// Condition is a named, ordered, signed monetary adjustment. It is an
// immutable value; construction validates the value expression once so application
// can never fail.
type Condition struct {
	name       string
	kind       string
	target     Target
	value      string
	order      int
	attributes map[string]any

	negative  bool
	percent   bool
	magnitude money.Amount
}

// Params collects the inputs for New.
type Params struct {
	Name       string
	Kind       string
	Target     Target
	Value      string
	Order      int
	Attributes map[string]any
}

// New validates and constructs a Condition.
func New(p Params) (Condition, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return Condition{}, fmt.Errorf("name: %w", ErrMissingField)
	}
	if !p.Target.Valid() {
		return Condition{}, fmt.Errorf("target %q: %w", p.Target, ErrMissingField)
	}
	negative, percent, magnitude, err := parseValue(p.Value)
	if err != nil {
		return Condition{}, err
	}
	attrs := make(map[string]any, len(p.Attributes))
	for k, v := range p.Attributes {
		attrs[k] = v
	}
	return Condition{
		name:       name,
		kind:       strings.TrimSpace(p.Kind),
		target:     p.Target,
		value:      strings.TrimSpace(p.Value),
		order:      p.Order,
		attributes: attrs,
		negative:   negative,
		percent:    percent,
		magnitude:  magnitude,
	}, nil
}

func parseValue(raw string) (negative, percent bool, magnitude money.Amount, err error) {
	trimmed := strings.TrimSpace(raw)
	m := valuePattern.FindStringSubmatch(trimmed)
	if m == nil {
		return false, false, money.Amount{}, fmt.Errorf("%q: %w", raw, ErrInvalidValue)
	}
	magnitude, err = money.FromString(m[2])
	if err != nil {
		return false, false, money.Amount{}, fmt.Errorf("%q: %w", raw, ErrInvalidValue)
	}
	return m[1] == "-", m[3] == "%", magnitude, nil
}

// Name returns the unique name within a set.
func (c Condition) Name() string { return c.name }

// Kind returns the informational tag (discount, tax, fee, shipping, ...).
// It never influences calculation.
func (c Condition) Kind() string { return c.kind }

// Target returns the stage the condition routes to.
func (c Condition) Target() Target { return c.target }

// Value returns the original value expression string.
func (c Condition) Value() string { return c.value }

// Order returns the application order; lower applies first.
func (c Condition) Order() int { return c.order }

// IsPercentage reports whether the value expression is percentage based.
func (c Condition) IsPercentage() bool { return c.percent }

// IsCharge reports whether the condition increases the running value.
func (c Condition) IsCharge() bool { return !c.negative }

// Attribute returns a single attribute value.
func (c Condition) Attribute(key string) (any, bool) {
	v, ok := c.attributes[key]
	return v, ok
}

// Attributes returns a copy of the attribute map.
func (c Condition) Attributes() map[string]any {
	out := make(map[string]any, len(c.attributes))
	for k, v := range c.attributes {
		out[k] = v
	}
	return out
}

// applyTo computes one application step against the running value, clamping
// the result at zero so a later positive step cannot revive clamped value.
func (c Condition) applyTo(running money.Amount) money.Amount {
	delta := c.magnitude
	if c.percent {
		delta = running.Percent(c.magnitude)
	}
	if c.negative {
		delta = delta.Neg()
	}
	return running.Add(delta).ClampZero()
}

// Record converts the condition to its persisted shape.
func (c Condition) Record() store.ConditionRecord {
	return store.ConditionRecord{
		Name:       c.name,
		Type:       c.kind,
		Target:     string(c.target),
		Value:      c.value,
		Attributes: c.Attributes(),
		Order:      c.order,
	}
}

// FromRecord reconstructs a condition from its persisted shape.
func FromRecord(rec store.ConditionRecord) (Condition, error) {
	if strings.TrimSpace(rec.Value) == "" {
		return Condition{}, fmt.Errorf("value: %w", ErrMissingField)
	}
	return New(Params{
		Name:       rec.Name,
		Kind:       rec.Type,
		Target:     Target(rec.Target),
		Value:      rec.Value,
		Order:      rec.Order,
		Attributes: rec.Attributes,
	})
}
