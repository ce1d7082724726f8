// Package state implements change-tracked data holders for peer-to-peer
// state synchronization.
//
// A Holder keeps an entity's data twice. Current data is authoritative and
// is what readers and peers see; staged data receives local writes through
// the Accessor returned by Data. Nothing leaves the holder until the owner
// decides: Apply commits staged into current, Drop throws staged away.
//
// # Updates
//
// GetUpdate compares current with staged and returns the payload a peer
// needs to reach the staged state. SetUpdate is the receiving end: it
// reconciles current data with such a payload. Applying the same payload to
// any holder whose current data matches the sender's yields the same result,
// so payloads may be replayed.
//
// Payloads are plain Records of JSON-friendly values. Every defined staged
// property is present, removed properties are omitted, and a child holder
// with nothing to report appears as nil.
//
// # Children
//
// A property can be managed by a nested Holder. The parent stores only a
// slot for it; reads, snapshots and updates go through the child. Children
// come from a ChildCreator (for initial data and incoming updates) or from
// SetChild. Apply and Drop cascade to children.
//
// # Events
//
// Every transition is announced synchronously through a typed dispatcher:
// the Will event fires before the mutation is visible, the Did event after
// the holder's caches settled, carrying the final ChangeSummary.
//
// # Updaters
//
// Updater adds named update phases on top of a Holder so protocols can
// broadcast semantic events ("tick", "moved") and forward them through a
// composition hierarchy.
//
// Holders are single-threaded. Callers serialize access.
package state
