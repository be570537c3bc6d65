package stockpile

const noRow = ^uint32(0)

// sparseSet owns both the dense row->entity list of an archetype and the
// entity-index->row map, so row moves and removals happen in one structure
// instead of two kept manually in sync. Rows are dense: removal swaps the
// last row into the vacated slot.
type sparseSet struct {
	dense  []Entity
	sparse []uint32
}

func (s *sparseSet) Len() int { return len(s.dense) }

func (s *sparseSet) ensure(index uint32) {
	for uint32(len(s.sparse)) <= index {
		s.sparse = append(s.sparse, noRow)
	}
}

// Add appends the entity as the last dense row and returns that row.
func (s *sparseSet) Add(e Entity) uint32 {
	s.ensure(e.Index)
	row := uint32(len(s.dense))
	s.dense = append(s.dense, e)
	s.sparse[e.Index] = row
	return row
}

// Row reports the dense row holding the entity. The stored handle must match
// generation as well as index.
func (s *sparseSet) Row(e Entity) (uint32, bool) {
	if e.Index >= uint32(len(s.sparse)) {
		return 0, false
	}
	row := s.sparse[e.Index]
	if row == noRow || s.dense[row] != e {
		return 0, false
	}
	return row, true
}

// At returns the entity stored at a dense row.
func (s *sparseSet) At(row uint32) Entity { return s.dense[row] }

// Remove deletes the entity via swap-with-last-then-pop. It returns the row
// that was vacated and, when another entity was moved into it, that entity.
// Columns must mirror the same swap to stay row-aligned.
func (s *sparseSet) Remove(e Entity) (moved Entity, row uint32, ok bool) {
	row, ok = s.Row(e)
	if !ok {
		return Entity{}, 0, false
	}
	last := uint32(len(s.dense) - 1)
	if row != last {
		moved = s.dense[last]
		s.dense[row] = moved
		s.sparse[moved.Index] = row
	}
	s.dense = s.dense[:last]
	s.sparse[e.Index] = noRow
	return moved, row, true
}
