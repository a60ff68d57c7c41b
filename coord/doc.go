// Package coord serializes writes to a branch. A Registry holds one Branch
// record per (repository, branch) pair; a Coordinator routes each incoming
// write either to the direct single-call path or into the batched commit
// pipeline, guaranteeing that at most one direct write is in flight per
// branch and that ref updates never overlap.
//
// Sharing one Registry across repository handles extends the guarantee
// across handles pointed at the same branch.
package coord
