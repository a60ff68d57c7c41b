package resolve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/byte4ever/hubfs/store"
)

// Resolver resolves a path at a ref to its content
// identifier.
type Resolver struct {
	st store.Store
}

// New returns a Resolver reading from st.
func New(st store.Store) *Resolver {
	return &Resolver{st: st}
}

// Resolve returns the content identifier of path as of
// ref. It fails with a not-found store error when no
// entry matches, and with an invalid-repository error
// when the repository or ref does not exist.
func (r *Resolver) Resolve(
	ctx context.Context,
	path string,
	ref string,
) (string, error) {
	const errCtx = "resolving content identifier"

	meta, err := r.st.PathMeta(ctx, path, ref)
	if err == nil {
		return meta.SHA, nil
	}

	if store.IsInvalidRepo(err) {
		return "", fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	// Anything else (size ceiling included) falls
	// back to the full walk.
	slog.Debug(
		"path metadata unavailable, walking tree",
		"path", path,
		"ref", ref,
		"error", err,
	)

	e, err := r.Lookup(ctx, path, ref)
	if err != nil {
		return "", fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	return e.SHA, nil
}

// Lookup resolves path by following ref to its tip
// commit and scanning the recursive root tree for an
// exact path match. This walk is the only way to
// address objects above the store's contents-API size
// ceiling.
func (r *Resolver) Lookup(
	ctx context.Context,
	path string,
	ref string,
) (store.TreeEntry, error) {
	tip, err := r.st.GetRef(ctx, ref)
	if err != nil {
		return store.TreeEntry{}, fmt.Errorf(
			"get ref: %w", err,
		)
	}

	listKey := tip.TreeSHA
	if listKey == "" {
		listKey = tip.CommitSHA
	}

	entries, err := r.st.ListTree(ctx, listKey)
	if err != nil {
		return store.TreeEntry{}, fmt.Errorf(
			"list tree: %w", err,
		)
	}

	for _, e := range entries {
		if e.Path == path {
			return e, nil
		}
	}

	return store.TreeEntry{}, store.NewError(
		store.KindNotFound,
		"resolve path",
		fmt.Errorf("%s not in tree at %s", path, ref),
	)
}
