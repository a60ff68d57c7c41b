// Package storetest provides test doubles for the store interfaces: an
// in-memory git object store with real blob identifiers, per-branch linear
// history, a configurable contents-API size ceiling and fault injection,
// plus an httptest server speaking enough of the GitHub REST API for the
// real go-github-backed store to run against it.
package storetest
