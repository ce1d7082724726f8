package state

import "errors"

var (
	// ErrInvalidOperation reports misuse of the holder API, such as writing
	// over a child-managed property or registering a child twice.
	ErrInvalidOperation = errors.New("state: invalid operation")

	// ErrNotInitialized reports an operation invoked before Init.
	ErrNotInitialized = errors.New("state: not initialized")

	// ErrDuplicateID reports an attempt to mint a member under a live id.
	ErrDuplicateID = errors.New("state: duplicate id")

	// ErrIllegalConstruction reports a member that was not minted by its group.
	ErrIllegalConstruction = errors.New("state: illegal construction")
)
