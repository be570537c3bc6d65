package stockpile

import (
	"errors"
	"testing"
)

func TestArchetypeCreation(t *testing.T) {
	tests := []struct {
		name                string
		firstComponents     []Component
		secondComponents    []Component
		expectSameArchetype bool
	}{
		{
			name:                "identical components",
			firstComponents:     []Component{posComp, velComp},
			secondComponents:    []Component{posComp, velComp},
			expectSameArchetype: true,
		},
		{
			name:                "different order",
			firstComponents:     []Component{posComp, velComp},
			secondComponents:    []Component{velComp, posComp},
			expectSameArchetype: true,
		},
		{
			name:                "different components",
			firstComponents:     []Component{posComp},
			secondComponents:    []Component{velComp},
			expectSameArchetype: false,
		},
		{
			name:                "subset components",
			firstComponents:     []Component{posComp, velComp},
			secondComponents:    []Component{posComp},
			expectSameArchetype: false,
		},
		{
			name:                "duplicate components collapse",
			firstComponents:     []Component{posComp, posComp, velComp},
			secondComponents:    []Component{posComp, velComp},
			expectSameArchetype: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newTestRegistry(t)

			if _, err := reg.NewEntity(tt.firstComponents...); err != nil {
				t.Fatalf("creating first entity: %v", err)
			}
			if _, err := reg.NewEntity(tt.secondComponents...); err != nil {
				t.Fatalf("creating second entity: %v", err)
			}

			want := 2
			if tt.expectSameArchetype {
				want = 1
			}
			if got := reg.ArchetypeCount(); got != want {
				t.Fatalf("expected %d archetypes, got %d", want, got)
			}
		})
	}
}

func TestNewEntitiesBatch(t *testing.T) {
	reg := newTestRegistry(t)

	created, err := reg.NewEntities(100, posComp, velComp)
	if err != nil {
		t.Fatalf("creating entities: %v", err)
	}
	if len(created) != 100 {
		t.Fatalf("expected 100 entities, got %d", len(created))
	}
	if reg.ActiveEntities() != 100 {
		t.Fatalf("expected 100 active entities, got %d", reg.ActiveEntities())
	}
	for _, e := range created {
		if !reg.Alive(e) {
			t.Fatalf("entity %+v should be alive", e)
		}
	}

	seen := make(map[Entity]struct{}, len(created))
	for _, e := range created {
		if _, dup := seen[e]; dup {
			t.Fatalf("duplicate handle %+v", e)
		}
		seen[e] = struct{}{}
	}
}

func TestComponentMigrationPreservesValues(t *testing.T) {
	reg := newTestRegistry(t)

	e, err := reg.NewEntity(posComp, velComp)
	if err != nil {
		t.Fatalf("creating entity: %v", err)
	}
	if !posComp.SetOnEntity(reg, e, Position{X: 3, Y: 4}) {
		t.Fatal("setting position")
	}
	if !velComp.SetOnEntity(reg, e, Velocity{X: -1, Y: 1}) {
		t.Fatal("setting velocity")
	}

	if err := reg.AddComponent(e, healthComp); err != nil {
		t.Fatalf("adding component: %v", err)
	}

	pos := posComp.GetFromEntity(reg, e)
	if pos == nil || pos.X != 3 || pos.Y != 4 {
		t.Fatalf("position lost in migration: %+v", pos)
	}
	vel := velComp.GetFromEntity(reg, e)
	if vel == nil || vel.X != -1 || vel.Y != 1 {
		t.Fatalf("velocity lost in migration: %+v", vel)
	}
	// The new column starts zeroed.
	hp := healthComp.GetFromEntity(reg, e)
	if hp == nil || hp.Current != 0 || hp.Max != 0 {
		t.Fatalf("expected zero-value health, got %+v", hp)
	}

	if err := reg.RemoveComponent(e, velComp); err != nil {
		t.Fatalf("removing component: %v", err)
	}
	if velComp.GetFromEntity(reg, e) != nil {
		t.Fatal("removed component should not resolve")
	}
	pos = posComp.GetFromEntity(reg, e)
	if pos == nil || pos.X != 3 {
		t.Fatalf("position lost removing another component: %+v", pos)
	}
}

func TestComponentMigrationErrors(t *testing.T) {
	reg := newTestRegistry(t)

	e, err := reg.NewEntity(posComp)
	if err != nil {
		t.Fatalf("creating entity: %v", err)
	}
	if err := reg.AddComponent(e, posComp); !errors.Is(err, ErrComponentExists) {
		t.Fatalf("expected ErrComponentExists, got %v", err)
	}
	if err := reg.RemoveComponent(e, velComp); !errors.Is(err, ErrComponentMissing) {
		t.Fatalf("expected ErrComponentMissing, got %v", err)
	}
}

func TestDestroyKeepsColumnsDense(t *testing.T) {
	reg := newTestRegistry(t)

	entities, err := reg.NewEntities(3, posComp)
	if err != nil {
		t.Fatalf("creating entities: %v", err)
	}
	for i, e := range entities {
		posComp.SetOnEntity(reg, e, Position{X: float64(i + 1)})
	}

	// Removing the first row swaps the last one in.
	if err := reg.DestroyEntity(entities[0]); err != nil {
		t.Fatalf("destroying entity: %v", err)
	}

	if got := posComp.GetFromEntity(reg, entities[1]); got == nil || got.X != 2 {
		t.Fatalf("surviving entity lost its value: %+v", got)
	}
	if got := posComp.GetFromEntity(reg, entities[2]); got == nil || got.X != 3 {
		t.Fatalf("moved entity lost its value: %+v", got)
	}
	if reg.ActiveEntities() != 2 {
		t.Fatalf("expected 2 active entities, got %d", reg.ActiveEntities())
	}
}

func TestLockedStorageDefersOperations(t *testing.T) {
	reg := newTestRegistry(t)

	e, err := reg.NewEntity(posComp)
	if err != nil {
		t.Fatalf("creating entity: %v", err)
	}

	reg.Lock()

	if _, err := reg.NewEntity(posComp); !errors.Is(err, ErrLockedStorage) {
		t.Fatalf("expected ErrLockedStorage, got %v", err)
	}
	if err := reg.DestroyEntity(e); !errors.Is(err, ErrLockedStorage) {
		t.Fatalf("expected ErrLockedStorage, got %v", err)
	}

	if err := reg.EnqueueNewEntities(2, posComp, velComp); err != nil {
		t.Fatalf("enqueueing creation: %v", err)
	}
	if err := reg.EnqueueAddComponent(e, healthComp); err != nil {
		t.Fatalf("enqueueing add: %v", err)
	}

	// Nothing applies while locked.
	if reg.ActiveEntities() != 1 {
		t.Fatalf("deferred ops applied early: %d active", reg.ActiveEntities())
	}
	if healthComp.CheckEntity(reg, e) {
		t.Fatal("deferred component add applied early")
	}

	reg.Unlock()

	if reg.ActiveEntities() != 3 {
		t.Fatalf("expected 3 active entities after unlock, got %d", reg.ActiveEntities())
	}
	if !healthComp.CheckEntity(reg, e) {
		t.Fatal("deferred component add should apply on unlock")
	}
}

func TestEnqueueDestroyCancelsPendingMods(t *testing.T) {
	reg := newTestRegistry(t)

	e, err := reg.NewEntity(posComp)
	if err != nil {
		t.Fatalf("creating entity: %v", err)
	}

	reg.Lock()
	if err := reg.EnqueueAddComponent(e, healthComp); err != nil {
		t.Fatalf("enqueueing add: %v", err)
	}
	if err := reg.EnqueueDestroyEntities(e); err != nil {
		t.Fatalf("enqueueing destroy: %v", err)
	}
	reg.Unlock()

	if reg.Alive(e) {
		t.Fatal("entity should be destroyed after unlock")
	}
	if reg.ActiveEntities() != 0 {
		t.Fatalf("expected 0 active entities, got %d", reg.ActiveEntities())
	}
}

func TestZeroSizeComponent(t *testing.T) {
	reg := newTestRegistry(t)

	e, err := reg.NewEntity(posComp, frozenComp)
	if err != nil {
		t.Fatalf("creating entity: %v", err)
	}
	if !frozenComp.CheckEntity(reg, e) {
		t.Fatal("tag component should be present")
	}
	if frozenComp.GetFromEntity(reg, e) == nil {
		t.Fatal("tag component should resolve to a non-nil pointer")
	}
	if err := reg.RemoveComponent(e, frozenComp); err != nil {
		t.Fatalf("removing tag: %v", err)
	}
	if frozenComp.CheckEntity(reg, e) {
		t.Fatal("tag component should be gone")
	}
}

func TestMemoryUsageReporting(t *testing.T) {
	reg := newTestRegistry(t)

	if _, err := reg.NewEntities(64, posComp, velComp); err != nil {
		t.Fatalf("creating entities: %v", err)
	}

	usage := reg.MemoryUsage()
	wantColumn := 64 * (16 + 16) // two float64 pairs per entity
	if usage.ColumnBytes != wantColumn {
		t.Fatalf("expected %d column bytes, got %d", wantColumn, usage.ColumnBytes)
	}
	if usage.ColumnCapacityBytes < usage.ColumnBytes {
		t.Fatal("capacity cannot be below usage")
	}
	if usage.Entities != 64 || usage.Archetypes != 1 {
		t.Fatalf("unexpected usage summary: %+v", usage)
	}
	if usage.PoolBlocksInUse == 0 && usage.ArenaUsed == 0 {
		t.Fatal("column slabs should come from the pool or the arena")
	}
}
