/*
Package stockpile provides archetype-based entity-component storage with
tracked custom allocators and an invalidation-aware query cache.

Entities sharing the same component set are stored together in an archetype:
one packed column per component type, rows aligned by index across columns.
Column memory is carved out of a bump arena or a fixed-block pool, and every
allocation the storage makes is reported to a process-wide memory tracker.

Core Concepts:

  - Entity: an opaque (index, generation) handle identifying a record.
  - Component: a plain data record type attachable to an entity.
  - Archetype: the set of entities sharing an identical component signature.
  - Query: a declarative filter over component signatures, cached by shape.

Basic Usage:

	// Create a registry
	registry, _ := stockpile.Factory.NewRegistry(stockpile.DefaultConfig())

	// Define components
	position := stockpile.FactoryNewComponent[Position]()
	velocity := stockpile.FactoryNewComponent[Velocity]()

	// Create entities
	entities, _ := registry.NewEntities(100, position, velocity)
	_ = entities

	// Query entities and process them
	query := stockpile.Factory.NewQuery().With(position, velocity)
	cursor := stockpile.Factory.NewCursor(query, registry)

	for cursor.Next() {
		pos := position.GetFromCursor(cursor)
		vel := velocity.GetFromCursor(cursor)
		pos.X += vel.X
		pos.Y += vel.Y
	}

Structural mutation (creation, destruction, migration) follows a single-writer
model; the memory tracker and the query cache are safe for concurrent use.
*/
package stockpile
