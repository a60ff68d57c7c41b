// Package store defines the remote object store surface that the rest of
// hubfs is written against: content reads and single-file writes, branch
// refs, recursive tree listings, and the optional write capabilities used
// by the batched commit pipeline.
//
// Implementations exist for GitHub and GitLab in sub-packages, plus an
// in-memory store for tests in storetest. Errors carry an explicit Kind so
// callers never branch on transport status codes.
package store
