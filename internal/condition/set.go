package condition

import (
	"sort"

	"github.com/noah-isme/cart-engine/internal/money"
	"github.com/noah-isme/cart-engine/internal/store"
)

// Set is an ordered collection of conditions, unique by name. Sets are
// immutable values; every modifier returns a new Set.
type Set struct {
	conds []Condition
}

// NewSet builds a set from the given conditions, applying the replace-by-name
// rule in argument order.
func NewSet(conds ...Condition) Set {
	var s Set
	for _, c := range conds {
		s = s.Add(c)
	}
	return s
}

// Add returns a set containing c. An existing condition with the same name is
// replaced in its original insertion slot so order ties keep their original
// resolution.
func (s Set) Add(c Condition) Set {
	out := make([]Condition, len(s.conds), len(s.conds)+1)
	copy(out, s.conds)
	for i, existing := range out {
		if existing.name == c.name {
			out[i] = c
			return Set{conds: out}
		}
	}
	return Set{conds: append(out, c)}
}

// Remove returns a set without the named condition and reports whether the
// name was present.
func (s Set) Remove(name string) (Set, bool) {
	for i, c := range s.conds {
		if c.name == name {
			out := make([]Condition, 0, len(s.conds)-1)
			out = append(out, s.conds[:i]...)
			out = append(out, s.conds[i+1:]...)
			return Set{conds: out}, true
		}
	}
	return s, false
}

// Get returns the named condition.
func (s Set) Get(name string) (Condition, bool) {
	for _, c := range s.conds {
		if c.name == name {
			return c, true
		}
	}
	return Condition{}, false
}

// Has reports whether the named condition exists.
func (s Set) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Len returns the number of conditions.
func (s Set) Len() int { return len(s.conds) }

// All returns the conditions in application order.
func (s Set) All() []Condition {
	return s.sorted()
}

// ByTarget returns the subset routed to the given stage, preserving relative
// order.
func (s Set) ByTarget(target Target) Set {
	var out []Condition
	for _, c := range s.conds {
		if c.target == target {
			out = append(out, c)
		}
	}
	return Set{conds: out}
}

// Apply runs every condition against base in ascending (order, insertion)
// sequence. The running value is clamped at zero after each step, so the
// result is never negative for a non-negative base.
func (s Set) Apply(base money.Amount) money.Amount {
	running := base.ClampZero()
	for _, c := range s.sorted() {
		running = c.applyTo(running)
	}
	return running
}

func (s Set) sorted() []Condition {
	out := make([]Condition, len(s.conds))
	copy(out, s.conds)
	sort.SliceStable(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// Records converts the set to its persisted map shape. Each record carries
// its insertion slot so reconstruction replays the original sequence.
func (s Set) Records() map[string]store.ConditionRecord {
	out := make(map[string]store.ConditionRecord, len(s.conds))
	for i, c := range s.conds {
		rec := c.Record()
		rec.Sequence = i
		out[c.name] = rec
	}
	return out
}

// RecordList converts the set to persisted records in application order,
// keeping each record's insertion slot.
func (s Set) RecordList() []store.ConditionRecord {
	slots := make(map[string]int, len(s.conds))
	for i, c := range s.conds {
		slots[c.name] = i
	}
	out := make([]store.ConditionRecord, 0, len(s.conds))
	for _, c := range s.sorted() {
		rec := c.Record()
		rec.Sequence = slots[c.name]
		out = append(out, rec)
	}
	return out
}

// SetFromRecords reconstructs a set from its persisted map shape. Records are
// replayed by stored insertion slot, ties by name, so equal order values
// resolve the same way on the rebuilt set as they did on the live one.
func SetFromRecords(records map[string]store.ConditionRecord) (Set, error) {
	recs := make([]store.ConditionRecord, 0, len(records))
	for _, rec := range records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Sequence != recs[j].Sequence {
			return recs[i].Sequence < recs[j].Sequence
		}
		return recs[i].Name < recs[j].Name
	})

	var s Set
	for _, rec := range recs {
		c, err := FromRecord(rec)
		if err != nil {
			return Set{}, err
		}
		s = s.Add(c)
	}
	return s, nil
}
