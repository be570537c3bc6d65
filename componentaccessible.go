package stockpile

import "unsafe"

// AccessibleComponent extends a base Component with typed access into
// registry storage. Values come back as pointers straight into column
// memory; they stay valid until the next structural mutation.
type AccessibleComponent[T any] struct {
	Component
}

// GetFromEntity retrieves the component value for the entity, nil when the
// entity is dead or lacks the component.
func (c AccessibleComponent[T]) GetFromEntity(reg *Registry, e Entity) *T {
	p, ok := reg.componentPtr(e, c.Component)
	if !ok {
		return nil
	}
	c.trackAccess(reg.tracker, p, false)
	return (*T)(p)
}

// SetOnEntity overwrites the entity's component value, reporting whether
// the entity stores the component.
func (c AccessibleComponent[T]) SetOnEntity(reg *Registry, e Entity, value T) bool {
	p, ok := reg.componentPtr(e, c.Component)
	if !ok {
		return false
	}
	c.trackAccess(reg.tracker, p, true)
	*(*T)(p) = value
	return true
}

// AddToEntity attaches the component with the given value, migrating the
// entity to its new archetype.
func (c AccessibleComponent[T]) AddToEntity(reg *Registry, e Entity, value T) error {
	if err := reg.AddComponent(e, c.Component); err != nil {
		return err
	}
	c.SetOnEntity(reg, e, value)
	return nil
}

// CheckEntity reports whether the entity currently stores the component.
func (c AccessibleComponent[T]) CheckEntity(reg *Registry, e Entity) bool {
	return reg.hasComponent(e, c.Component)
}

// GetFromCursor retrieves the component value at the cursor position, nil
// when the current archetype lacks it.
func (c AccessibleComponent[T]) GetFromCursor(cursor *Cursor) *T {
	p, ok := cursor.componentPtr(c.Component)
	if !ok {
		return nil
	}
	c.trackAccess(cursor.reg.tracker, p, false)
	return (*T)(p)
}

// GetFromCursorSafe retrieves the value at the cursor, checking presence
// first.
func (c AccessibleComponent[T]) GetFromCursorSafe(cursor *Cursor) (bool, *T) {
	if !cursor.contains(c.Component) {
		return false, nil
	}
	return true, c.GetFromCursor(cursor)
}

// CheckCursor reports whether the cursor's current archetype stores the
// component.
func (c AccessibleComponent[T]) CheckCursor(cursor *Cursor) bool {
	return cursor.contains(c.Component)
}

func (c AccessibleComponent[T]) trackAccess(t *MemoryTracker, p unsafe.Pointer, write bool) {
	t.TrackAccess(uintptr(p), int(c.Component.byteSize()), write)
}
