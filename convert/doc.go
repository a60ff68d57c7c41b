// Package convert turns pending write content into durable blobs through a
// bounded worker pool shared across all branches of a repository handle.
// Conversions never touch branch refs, so they carry no ordering
// requirement of their own.
package convert
