package stockpile

import (
	"encoding/binary"
	"slices"

	"github.com/TheBitDrifter/mask"
	"github.com/cespare/xxhash/v2"
)

// Operation combines child terms of a query node.
type Operation int

const (
	OpAnd Operation = iota
	OpOr
	OpNot
)

// QueryNode is one term of a query tree. Nodes are built through Query and
// evaluated against archetype signatures.
type QueryNode interface {
	matches(sig mask.Mask, sch *schema) bool
	hashInto(d *xxhash.Digest)
}

type compositeNode struct {
	op         Operation
	children   []QueryNode
	components []Component
}

func newCompositeNode(op Operation, components []Component) *compositeNode {
	return &compositeNode{op: op, components: components}
}

func (n *compositeNode) matches(sig mask.Mask, sch *schema) bool {
	nodeMask, complete := sch.maskForRegistered(n.components)

	switch n.op {
	case OpAnd:
		// A component never registered cannot be present anywhere.
		if !complete || !sig.ContainsAll(nodeMask) {
			return false
		}
		for _, child := range n.children {
			if !child.matches(sig, sch) {
				return false
			}
		}
		return true

	case OpOr:
		if sig.ContainsAny(nodeMask) {
			return true
		}
		for _, child := range n.children {
			if child.matches(sig, sch) {
				return true
			}
		}
		return false

	case OpNot:
		if len(n.children) == 0 {
			return sig.ContainsNone(nodeMask)
		}
		for _, child := range n.children {
			if child.matches(sig, sch) {
				return false
			}
		}
		return sig.ContainsNone(nodeMask)
	}
	return false
}

func (n *compositeNode) hashInto(d *xxhash.Digest) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(n.op))
	d.Write(buf[:])
	hashComponents(d, n.components)
	for _, child := range n.children {
		child.hashInto(d)
	}
}

// hashComponents feeds a sorted copy of the component IDs so equivalent
// terms hash identically regardless of argument order.
func hashComponents(d *xxhash.Digest, comps []Component) {
	ids := make([]uint32, len(comps))
	for i, c := range comps {
		ids[i] = uint32(c.ID())
	}
	slices.Sort(ids)
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(len(ids)))
	d.Write(buf[:])
	for _, id := range ids {
		binary.LittleEndian.PutUint32(buf[:], id)
		d.Write(buf[:])
	}
}

// Query accumulates terms into a single conjunction: every With, AnyOf and
// Without clause must hold for an archetype to match. A Query with no terms
// matches nothing.
type Query struct {
	name     string
	root     *compositeNode
	optional []Component
}

func newQuery() *Query {
	return &Query{root: newCompositeNode(OpAnd, nil)}
}

// Named labels the query for cache statistics and logs.
func (q *Query) Named(name string) *Query {
	q.name = name
	return q
}

// With requires every given component to be present.
func (q *Query) With(components ...Component) *Query {
	q.root.components = append(q.root.components, components...)
	return q
}

// Without rejects archetypes containing any of the given components.
func (q *Query) Without(components ...Component) *Query {
	q.root.children = append(q.root.children, newCompositeNode(OpNot, components))
	return q
}

// Optional declares components the caller may read when present without
// constraining which archetypes match. Optional terms do not change the
// result set, so queries differing only in optionals share a cache slot.
func (q *Query) Optional(components ...Component) *Query {
	q.optional = append(q.optional, components...)
	return q
}

// OptionalComponents returns the declared optional components.
func (q *Query) OptionalComponents() []Component { return q.optional }

// AnyOf requires at least one of the given components.
func (q *Query) AnyOf(components ...Component) *Query {
	q.root.children = append(q.root.children, newCompositeNode(OpOr, components))
	return q
}

// Node returns the query's term tree.
func (q *Query) Node() QueryNode { return q.root }

func (q *Query) Name() string { return q.name }

func (q *Query) matchable() bool {
	return len(q.root.components) > 0 || len(q.root.children) > 0
}

func (q *Query) matches(sig mask.Mask, sch *schema) bool {
	if !q.matchable() {
		return false
	}
	return q.root.matches(sig, sch)
}

func (q *Query) hashInto(d *xxhash.Digest) { q.root.hashInto(d) }

// ShapeHash identifies the query's structure. Two queries over the same
// terms share a hash and therefore a cache slot.
func (q *Query) ShapeHash() uint64 {
	d := xxhash.New()
	q.root.hashInto(d)
	return d.Sum64()
}

var _ QueryNode = &Query{}
var _ QueryNode = &compositeNode{}
