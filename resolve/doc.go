// Package resolve determines the current content identifier of a path at a
// ref. The fast path asks the store for path metadata; when that fails (the
// contents API has a size ceiling, among other failure modes) it walks
// ref -> tip commit -> recursive root tree and matches the path exactly.
// The walk is the only way to address objects above the ceiling.
package resolve
