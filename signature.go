package stockpile

import (
	"github.com/TheBitDrifter/mask"
	"github.com/rotisserie/eris"
)

// MaxComponentTypes is the number of distinct component types a single
// registry can store, bounded by the signature bitset width.
const MaxComponentTypes = 64

// schema assigns signature bits to component types lazily, in first-use
// order. Bits are local to one registry; two registries may assign the same
// component different bits.
type schema struct {
	bits map[ComponentID]uint32
	next uint32
}

func newSchema() *schema {
	return &schema{bits: make(map[ComponentID]uint32)}
}

func (s *schema) register(c Component) (uint32, error) {
	if bit, ok := s.bits[c.ID()]; ok {
		return bit, nil
	}
	if s.next >= MaxComponentTypes {
		return 0, eris.Wrapf(ErrTooManyComponents, "registering %s", c.Label())
	}
	bit := s.next
	s.bits[c.ID()] = bit
	s.next++
	return bit, nil
}

func (s *schema) bitFor(c Component) (uint32, bool) {
	bit, ok := s.bits[c.ID()]
	return bit, ok
}

// maskFor builds a signature for the component set, registering any
// components the schema has not seen yet.
func (s *schema) maskFor(comps []Component) (mask.Mask, error) {
	var m mask.Mask
	for _, c := range comps {
		bit, err := s.register(c)
		if err != nil {
			return m, err
		}
		m.Mark(bit)
	}
	return m, nil
}

// maskForRegistered builds a signature from already-registered components
// only. The boolean is false when any component was never registered, which
// means no archetype in this registry can contain it.
func (s *schema) maskForRegistered(comps []Component) (mask.Mask, bool) {
	var m mask.Mask
	complete := true
	for _, c := range comps {
		bit, ok := s.bits[c.ID()]
		if !ok {
			complete = false
			continue
		}
		m.Mark(bit)
	}
	return m, complete
}
