// Package commitmsg synthesizes commit messages for batched writes: a fixed
// header followed by one templated line per file. The per-line template is
// overridable, with {{path}} and {{message}} placeholders.
package commitmsg
