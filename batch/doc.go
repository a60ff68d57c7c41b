// Package batch accumulates converted writes into per-branch batches and
// commits each closed batch as a single commit layered on the branch's
// current tip. A batch closes when it reaches the size threshold or when no
// new entry arrives within the batching window.
//
// Ref updates are serialized per branch: a batch never reads the branch tip
// while a direct write or another batch commit is still in flight, which is
// the invariant that keeps concurrent writers from stomping on each other.
package batch
