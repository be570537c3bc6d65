package stockpile

// Entity is an opaque (index, generation) handle identifying a stored
// record. Entities own no memory; they are keys into the registry's mapping.
// The zero Entity is never valid.
type Entity struct {
	Index      uint32
	Generation uint32
}

// entityMeta is the registry-side record for one entity index. The
// generation survives destruction so stale handles can be detected after
// index reuse.
type entityMeta struct {
	generation uint32
	archetype  archetypeID
	alive      bool
}
