package stockpile

import "github.com/rotisserie/eris"

// operation is one deferred structural mutation, queued while the registry
// is locked and replayed on Unlock.
type operation struct {
	typ      operationType
	amount   int
	comps    []Component
	entities []Entity
}

type operationType int

const (
	opNone operationType = iota
	opCreate
	opDestroy
	opAddComponent
	opRemoveComponent
)

type opQueue struct {
	createOps      []operation
	componentOps   []operation
	destroyOps     []operation
	pendingDestroy map[Entity]struct{}
	pendingMods    map[Entity][]int
}

func newOpQueue() opQueue {
	return opQueue{
		pendingDestroy: make(map[Entity]struct{}),
		pendingMods:    make(map[Entity][]int),
	}
}

// enqueueCreate defers creating n entities with the given components.
func (q *opQueue) enqueueCreate(n int, comps []Component) {
	q.createOps = append(q.createOps, operation{typ: opCreate, amount: n, comps: comps})
}

// enqueueDestroy defers destroying entities, dropping duplicates and
// cancelling any component operations still queued for them.
func (q *opQueue) enqueueDestroy(entities []Entity) {
	var fresh []Entity
	for _, e := range entities {
		if _, queued := q.pendingDestroy[e]; queued {
			continue
		}
		q.pendingDestroy[e] = struct{}{}
		fresh = append(fresh, e)
		for _, idx := range q.pendingMods[e] {
			q.componentOps[idx].typ = opNone
		}
		delete(q.pendingMods, e)
	}
	if len(fresh) > 0 {
		q.destroyOps = append(q.destroyOps, operation{typ: opDestroy, entities: fresh})
	}
}

// enqueueComponentOp defers an add or remove for e. Operations against an
// entity already queued for destruction are dropped.
func (q *opQueue) enqueueComponentOp(typ operationType, e Entity, comp Component) {
	if _, doomed := q.pendingDestroy[e]; doomed {
		return
	}
	q.pendingMods[e] = append(q.pendingMods[e], len(q.componentOps))
	q.componentOps = append(q.componentOps, operation{
		typ:      typ,
		entities: []Entity{e},
		comps:    []Component{comp},
	})
}

// processOperationQueue replays deferred operations: creations first, then
// component changes in order, destructions last.
func (r *Registry) processOperationQueue() error {
	q := &r.opQueue
	if len(q.createOps) == 0 && len(q.componentOps) == 0 && len(q.destroyOps) == 0 {
		return nil
	}

	for _, op := range q.createOps {
		if _, err := r.NewEntities(op.amount, op.comps...); err != nil {
			return eris.Wrap(err, "queued entity creation")
		}
	}

	for _, op := range q.componentOps {
		e := op.entities[0]
		// The entity may have died between enqueue and replay.
		if !r.Alive(e) {
			continue
		}
		switch op.typ {
		case opAddComponent:
			if err := r.AddComponent(e, op.comps[0]); err != nil {
				return eris.Wrap(err, "queued component add")
			}
		case opRemoveComponent:
			if err := r.RemoveComponent(e, op.comps[0]); err != nil {
				return eris.Wrap(err, "queued component remove")
			}
		}
	}

	for _, op := range q.destroyOps {
		for _, e := range op.entities {
			if !r.Alive(e) {
				continue
			}
			if err := r.DestroyEntity(e); err != nil {
				return eris.Wrap(err, "queued entity destruction")
			}
		}
	}

	q.createOps = q.createOps[:0]
	q.componentOps = q.componentOps[:0]
	q.destroyOps = q.destroyOps[:0]
	clear(q.pendingDestroy)
	clear(q.pendingMods)
	return nil
}

// EnqueueNewEntities defers entity creation until the registry unlocks.
// When the registry is not locked it creates immediately.
func (r *Registry) EnqueueNewEntities(n int, components ...Component) error {
	if !r.locked {
		_, err := r.NewEntities(n, components...)
		return err
	}
	r.opQueue.enqueueCreate(n, components)
	return nil
}

// EnqueueDestroyEntities defers destruction until the registry unlocks.
func (r *Registry) EnqueueDestroyEntities(entities ...Entity) error {
	if !r.locked {
		return r.DestroyEntities(entities...)
	}
	r.opQueue.enqueueDestroy(entities)
	return nil
}

// EnqueueAddComponent defers a component add until the registry unlocks.
func (r *Registry) EnqueueAddComponent(e Entity, c Component) error {
	if !r.locked {
		return r.AddComponent(e, c)
	}
	r.opQueue.enqueueComponentOp(opAddComponent, e, c)
	return nil
}

// EnqueueRemoveComponent defers a component removal until the registry
// unlocks.
func (r *Registry) EnqueueRemoveComponent(e Entity, c Component) error {
	if !r.locked {
		return r.RemoveComponent(e, c)
	}
	r.opQueue.enqueueComponentOp(opRemoveComponent, e, c)
	return nil
}
