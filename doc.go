// Package hubfs gives file-like read and write access to a branch of a
// remote repository that is only reachable through a REST API with
// git-object semantics. The remote serializes branch updates on the current
// tip commit, so naive concurrent writers reject or stomp on each other;
// hubfs turns arbitrarily-concurrent writes into a conflict-free linear
// sequence of commits.
//
// An uncontended write of a small file is a direct single-call passthrough.
// Writes arriving while the branch is busy (and writes that ask for it) are
// converted into blobs on a bounded worker pool, accumulated into
// per-branch batches, and committed as one commit layered on the branch's
// current tip. Reads fall back from the contents API to a ref -> commit ->
// tree walk plus a raw blob fetch when the object exceeds the store's size
// ceiling.
//
// hubfs is not a version control system: it manages exactly one linear
// sequence of commits per branch, with no merging, diffing, or history
// traversal.
package hubfs
