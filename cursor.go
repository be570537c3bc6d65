package stockpile

import (
	"iter"
	"unsafe"
)

// Cursor walks every entity matching a query, archetype by archetype. The
// registry locks on the first Next and unlocks when iteration finishes or
// Reset is called, so structural mutations made mid-walk are deferred.
type Cursor struct {
	query       QueryNode
	reg         *Registry
	matched     []*archetype
	archIndex   int
	rowIndex    int
	initialized bool
}

func newCursor(query QueryNode, reg *Registry) *Cursor {
	return &Cursor{query: query, reg: reg, rowIndex: -1}
}

// Next advances to the next matching entity, returning false once the walk
// is exhausted. Exhaustion resets the cursor and unlocks the registry.
func (c *Cursor) Next() bool {
	if !c.initialized {
		c.initialize()
	}
	c.rowIndex++
	for c.archIndex < len(c.matched) {
		if c.rowIndex < c.matched[c.archIndex].Len() {
			return true
		}
		c.archIndex++
		c.rowIndex = 0
	}
	c.Reset()
	return false
}

// Entity returns the entity at the cursor. Valid only after Next returned
// true.
func (c *Cursor) Entity() Entity {
	return c.matched[c.archIndex].rows.At(uint32(c.rowIndex))
}

// Entities yields every matching entity as a range-over-func sequence.
// Breaking out early resets the cursor and unlocks the registry.
func (c *Cursor) Entities() iter.Seq[Entity] {
	return func(yield func(Entity) bool) {
		for c.Next() {
			if !yield(c.Entity()) {
				c.Reset()
				return
			}
		}
	}
}

// componentPtr resolves the cursor's current row for comp, nil when the
// current archetype lacks it.
func (c *Cursor) componentPtr(comp Component) (unsafe.Pointer, bool) {
	col := c.matched[c.archIndex].column(comp.ID())
	if col == nil {
		return nil, false
	}
	return col.ptr(c.rowIndex), true
}

// contains reports whether the cursor's current archetype stores comp.
func (c *Cursor) contains(comp Component) bool {
	return c.matched[c.archIndex].Contains(comp)
}

func (c *Cursor) initialize() {
	c.reg.Lock()
	c.matched = c.reg.matchedArchetypes(c.query)
	c.archIndex = 0
	c.rowIndex = -1
	c.initialized = true
}

// Reset abandons the walk and unlocks the registry. Queued mutations apply
// here.
func (c *Cursor) Reset() {
	c.matched = nil
	c.archIndex = 0
	c.rowIndex = -1
	c.initialized = false
	c.reg.Unlock()
}

// RemainingInArchetype returns how many rows of the current archetype are
// left, the current one included.
func (c *Cursor) RemainingInArchetype() int {
	if !c.initialized || c.archIndex >= len(c.matched) {
		return 0
	}
	return c.matched[c.archIndex].Len() - c.rowIndex
}

// TotalMatched counts every entity the walk will visit.
func (c *Cursor) TotalMatched() int {
	if !c.initialized {
		c.initialize()
	}
	total := 0
	for _, arch := range c.matched {
		total += arch.Len()
	}
	return total
}
