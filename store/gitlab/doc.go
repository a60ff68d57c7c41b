// Package gitlab implements the store interfaces on the GitLab REST API.
// Single-file reads and writes use the repository files API; the batched
// pipeline uses the commits API, which creates one commit from many file
// actions natively, so this store implements store.BatchWriter rather than
// store.TreeWriter (GitLab exposes no git-data write surface).
package gitlab
