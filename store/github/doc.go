// Package github implements the store interfaces on the GitHub REST API
// (cloud or enterprise): the contents API for single-file reads and writes,
// and the git data API (blobs, trees, commits, refs) for batched commits.
// Transport status codes are mapped to store error kinds here and nowhere
// else.
package github
