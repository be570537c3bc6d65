package stockpile

import (
	"testing"
)

func TestQueryMatching(t *testing.T) {
	tests := []struct {
		name  string
		query *Query
		want  int
	}{
		{
			name:  "single component",
			query: Factory.NewQuery().With(posComp),
			want:  6, // every entity has a position
		},
		{
			name:  "conjunction",
			query: Factory.NewQuery().With(posComp, velComp),
			want:  3,
		},
		{
			name:  "without",
			query: Factory.NewQuery().With(posComp).Without(healthComp),
			want:  5,
		},
		{
			name:  "any of",
			query: Factory.NewQuery().With(posComp).AnyOf(velComp, healthComp),
			want:  3,
		},
		{
			name:  "empty query matches nothing",
			query: Factory.NewQuery(),
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newTestRegistry(t)
			// 3 pos-only, 2 pos+vel, 1 pos+vel+health.
			mustCreate(t, reg, 3, posComp)
			mustCreate(t, reg, 2, posComp, velComp)
			mustCreate(t, reg, 1, posComp, velComp, healthComp)

			cursor := Factory.NewCursor(tt.query, reg)
			got := 0
			for cursor.Next() {
				got++
			}
			if got != tt.want {
				t.Fatalf("expected %d matches, got %d", tt.want, got)
			}
		})
	}
}

func mustCreate(t *testing.T, reg *Registry, n int, comps ...Component) []Entity {
	t.Helper()
	created, err := reg.NewEntities(n, comps...)
	if err != nil {
		t.Fatalf("creating %d entities: %v", n, err)
	}
	return created
}

func TestQueryUnregisteredComponentMatchesNothing(t *testing.T) {
	reg := newTestRegistry(t)
	mustCreate(t, reg, 5, posComp)

	// healthComp was never attached in this registry, so requiring it can
	// never match.
	cursor := Factory.NewCursor(Factory.NewQuery().With(posComp, healthComp), reg)
	if cursor.Next() {
		t.Fatal("query requiring an unseen component must match nothing")
	}

	// Excluding an unseen component excludes nothing.
	cursor = Factory.NewCursor(Factory.NewQuery().With(posComp).Without(healthComp), reg)
	if got := cursor.TotalMatched(); got != 5 {
		t.Fatalf("expected 5 matches, got %d", got)
	}
	cursor.Reset()
}

func TestQueryOptionalDoesNotFilter(t *testing.T) {
	reg := newTestRegistry(t)
	mustCreate(t, reg, 3, posComp)
	mustCreate(t, reg, 2, posComp, velComp)

	q := Factory.NewQuery().With(posComp).Optional(velComp)
	cursor := Factory.NewCursor(q, reg)
	if got := cursor.TotalMatched(); got != 5 {
		t.Fatalf("optional terms must not constrain matching, got %d matches", got)
	}
	withVel := 0
	for cursor.Next() {
		if ok, _ := velComp.GetFromCursorSafe(cursor); ok {
			withVel++
		}
	}
	if withVel != 2 {
		t.Fatalf("expected 2 entities carrying the optional component, got %d", withVel)
	}

	// Queries differing only in optionals return the same entities and
	// share a cache slot.
	plain := Factory.NewQuery().With(posComp).ShapeHash()
	if q.ShapeHash() != plain {
		t.Fatal("optional terms must not change the shape hash")
	}
}

func TestRegistryForEach(t *testing.T) {
	reg := newTestRegistry(t)
	entities := mustCreate(t, reg, 4, posComp, velComp)
	mustCreate(t, reg, 3, posComp)

	visited := 0
	reg.ForEach(Factory.NewQuery().With(posComp, velComp).Node(), func(e Entity) {
		visited++
		// Structural mutations inside the visitor are deferred.
		if err := reg.EnqueueDestroyEntities(e); err != nil {
			t.Fatalf("enqueueing destroy: %v", err)
		}
	})
	if visited != len(entities) {
		t.Fatalf("expected %d visits, got %d", len(entities), visited)
	}
	if got := reg.ActiveEntities(); got != 3 {
		t.Fatalf("deferred destroys should apply after the visit, got %d live", got)
	}
}

func TestShapeHash(t *testing.T) {
	a := Factory.NewQuery().With(posComp, velComp).ShapeHash()
	b := Factory.NewQuery().With(velComp, posComp).ShapeHash()
	if a != b {
		t.Fatal("argument order must not change the shape hash")
	}

	c := Factory.NewQuery().With(posComp).ShapeHash()
	if a == c {
		t.Fatal("different component sets must hash differently")
	}

	// Without and With over the same components are different shapes.
	d := Factory.NewQuery().With(posComp).Without(velComp).ShapeHash()
	e := Factory.NewQuery().With(posComp, velComp).ShapeHash()
	if d == e {
		t.Fatal("excluding and requiring must hash differently")
	}
}

func TestCursorMutationThroughComponents(t *testing.T) {
	reg := newTestRegistry(t)
	entities := mustCreate(t, reg, 10, posComp, velComp)
	for _, e := range entities {
		velComp.SetOnEntity(reg, e, Velocity{X: 1, Y: 2})
	}

	cursor := Factory.NewCursor(Factory.NewQuery().With(posComp, velComp), reg)
	for cursor.Next() {
		pos := posComp.GetFromCursor(cursor)
		vel := velComp.GetFromCursor(cursor)
		pos.X += vel.X
		pos.Y += vel.Y
	}

	for _, e := range entities {
		pos := posComp.GetFromEntity(reg, e)
		if pos.X != 1 || pos.Y != 2 {
			t.Fatalf("expected integrated position {1 2}, got %+v", pos)
		}
	}
}

func TestCursorDefersStructuralMutations(t *testing.T) {
	reg := newTestRegistry(t)
	mustCreate(t, reg, 4, posComp)

	cursor := Factory.NewCursor(Factory.NewQuery().With(posComp), reg)
	visited := 0
	for cursor.Next() {
		visited++
		if err := reg.EnqueueNewEntities(1, posComp); err != nil {
			t.Fatalf("enqueueing during iteration: %v", err)
		}
	}
	// New entities appear only after the cursor released the registry.
	if visited != 4 {
		t.Fatalf("expected to visit 4 entities, visited %d", visited)
	}
	if reg.ActiveEntities() != 8 {
		t.Fatalf("expected 8 entities after iteration, got %d", reg.ActiveEntities())
	}
	if reg.Locked() {
		t.Fatal("registry should unlock when the cursor is exhausted")
	}
}

func TestCursorSafeAccess(t *testing.T) {
	reg := newTestRegistry(t)
	mustCreate(t, reg, 2, posComp)
	mustCreate(t, reg, 2, posComp, healthComp)

	cursor := Factory.NewCursor(Factory.NewQuery().With(posComp), reg)
	withHealth := 0
	for cursor.Next() {
		if ok, hp := healthComp.GetFromCursorSafe(cursor); ok {
			if hp == nil {
				t.Fatal("safe get reported presence but returned nil")
			}
			withHealth++
		}
	}
	if withHealth != 2 {
		t.Fatalf("expected 2 entities with health, got %d", withHealth)
	}
}
