package stockpile

import "github.com/rotisserie/eris"

var (
	// ErrLockedStorage is returned when a structural mutation is attempted
	// while the registry is locked for iteration. Use the Enqueue variants
	// to defer the mutation instead.
	ErrLockedStorage = eris.New("storage is currently locked")

	// ErrStaleEntity is returned when an entity handle fails its generation
	// check, typically because the entity was destroyed and its index reused.
	ErrStaleEntity = eris.New("entity handle is stale")

	// ErrUnknownEntity is returned for handles whose index was never issued.
	ErrUnknownEntity = eris.New("entity does not exist")

	// ErrComponentExists is returned when adding a component the entity
	// already has.
	ErrComponentExists = eris.New("component already present on entity")

	// ErrComponentMissing is returned when removing a component the entity
	// does not have.
	ErrComponentMissing = eris.New("component not present on entity")

	// ErrStorageExhausted is returned when no backing allocator could
	// satisfy a column slab request. The registry is left unchanged.
	ErrStorageExhausted = eris.New("backing storage exhausted")

	// ErrForeignBlock is returned when a pool deallocation references memory
	// outside the pool's backing array or not aligned to a block boundary.
	ErrForeignBlock = eris.New("block does not belong to this pool")

	// ErrDoubleFree is returned when a pool block is freed twice. Detection
	// is best-effort, via per-slot generation tags.
	ErrDoubleFree = eris.New("block is already free")

	// ErrBadCheckpoint is returned when restoring a checkpoint that was not
	// taken from this arena, or that predates a reset.
	ErrBadCheckpoint = eris.New("checkpoint is not valid for this arena")

	// ErrTooManyComponents is returned when a registry is asked to store
	// more distinct component types than its signature width allows.
	ErrTooManyComponents = eris.New("component type limit exceeded")
)
