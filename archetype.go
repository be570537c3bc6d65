package stockpile

import "github.com/TheBitDrifter/mask"

type archetypeID uint32

// archetype stores every entity sharing one component signature: one packed
// column per component type plus a sparse set owning the row bookkeeping.
// Invariant: every column's row count equals the sparse set's length.
type archetype struct {
	id      archetypeID
	sig     mask.Mask
	comps   []Component
	columns []column
	colIdx  map[ComponentID]int
	rows    sparseSet
}

// newArchetype builds an archetype for the given signature. comps must be
// sorted by component ID.
func newArchetype(id archetypeID, sig mask.Mask, comps []Component) *archetype {
	a := &archetype{
		id:     id,
		sig:    sig,
		comps:  comps,
		colIdx: make(map[ComponentID]int, len(comps)),
	}
	a.columns = make([]column, len(comps))
	for i, c := range comps {
		a.columns[i] = newColumn(c)
		a.colIdx[c.ID()] = i
	}
	return a
}

func (a *archetype) ID() uint32           { return uint32(a.id) }
func (a *archetype) Signature() mask.Mask { return a.sig }
func (a *archetype) Len() int             { return a.rows.Len() }

func (a *archetype) Contains(c Component) bool {
	_, ok := a.colIdx[c.ID()]
	return ok
}

func (a *archetype) column(id ComponentID) *column {
	idx, ok := a.colIdx[id]
	if !ok {
		return nil
	}
	return &a.columns[idx]
}

// pushRow appends a zeroed row for e across every column. On slab
// exhaustion the columns appended so far are rolled back and ok is false,
// leaving the archetype exactly as before.
func (a *archetype) pushRow(sa *slabAllocator, e Entity) (row uint32, ok bool) {
	for i := range a.columns {
		if !a.columns[i].appendZero(sa) {
			for j := 0; j < i; j++ {
				a.columns[j].rows--
			}
			return 0, false
		}
	}
	return a.rows.Add(e), true
}

// removeRow deletes e's row via swap-with-last-then-pop across the sparse
// set and every column in lockstep, so rows stay aligned by index.
func (a *archetype) removeRow(e Entity) (moved Entity, ok bool) {
	moved, row, ok := a.rows.Remove(e)
	if !ok {
		return Entity{}, false
	}
	for i := range a.columns {
		a.columns[i].swapRemove(int(row))
	}
	return moved, true
}

func (a *archetype) usedBytes() (used, capacity int) {
	for i := range a.columns {
		used += a.columns[i].usedBytes()
		capacity += a.columns[i].capacityBytes()
	}
	return used, capacity
}
