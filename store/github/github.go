package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v68/github"

	"github.com/byte4ever/hubfs/store"
)

// fileMode is the tree mode for regular files.
const fileMode = "100644"

// Config holds the settings needed to open a GitHub
// repository store.
type Config struct {
	// Owner is the GitHub user or organisation that
	// owns the repository.
	Owner string
	// Repo is the repository name (without owner).
	Repo string
	// AccessToken is a personal access token or
	// GitHub App token used for authentication.
	AccessToken string
	// EnterpriseHost is an optional GitHub Enterprise
	// hostname (e.g. "git.corp.example.com"). Leave
	// empty for github.com.
	EnterpriseHost string
	// BaseURL overrides the API endpoint, mainly for
	// tests against a local server. Must end with a
	// slash.
	BaseURL string
}

// Store reads and writes one GitHub repository.
//
// Pattern: Strategy -- implements store.Store,
// store.TreeWriter.
type Store struct {
	client *gh.Client
	owner  string
	repo   string
	host   string
}

// New validates cfg and returns a Store.
func New(cfg Config) (*Store, error) {
	const errCtx = "creating github store"

	if cfg.Owner == "" {
		return nil, fmt.Errorf(
			"%s: owner must be set", errCtx,
		)
	}

	if cfg.Repo == "" {
		return nil, fmt.Errorf(
			"%s: repo must be set", errCtx,
		)
	}

	if cfg.AccessToken == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	client := gh.NewClient(nil)
	if cfg.AccessToken != "" {
		client = client.WithAuthToken(cfg.AccessToken)
	}

	host := "github.com"

	if cfg.EnterpriseHost != "" {
		host = cfg.EnterpriseHost
		baseURL := "https://" +
			cfg.EnterpriseHost + "/api/v3/"
		uploadURL := "https://" +
			cfg.EnterpriseHost + "/api/uploads/"

		var err error

		client, err = client.WithEnterpriseURLs(
			baseURL, uploadURL,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: enterprise urls: %w",
				errCtx, err,
			)
		}
	}

	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: base url: %w", errCtx, err,
			)
		}

		client.BaseURL = base
	}

	return &Store{
		client: client,
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		host:   host,
	}, nil
}

// Key implements store.Store.
func (s *Store) Key() string {
	return fmt.Sprintf(
		"%s/%s/%s", s.host, s.owner, s.repo,
	)
}

// GetRef implements store.Store. It resolves branch as
// a branch head first and as a tag second, then loads
// the tip commit to learn its tree.
func (s *Store) GetRef(
	ctx context.Context,
	branch string,
) (store.Ref, error) {
	const op = "get ref"

	ref, resp, err := s.client.Git.GetRef(
		ctx, s.owner, s.repo, "heads/"+branch,
	)
	if err != nil &&
		statusOf(resp) == http.StatusNotFound {
		ref, resp, err = s.client.Git.GetRef(
			ctx, s.owner, s.repo, "tags/"+branch,
		)
	}

	if err != nil {
		return store.Ref{}, classify(
			resp, err, op, store.KindInvalidRepo,
		)
	}

	commitSHA := ref.GetObject().GetSHA()

	commit, resp, err := s.client.Git.GetCommit(
		ctx, s.owner, s.repo, commitSHA,
	)
	if err != nil {
		return store.Ref{}, classify(
			resp, err, op, store.KindInvalidRepo,
		)
	}

	return store.Ref{
		CommitSHA: commitSHA,
		TreeSHA:   commit.GetTree().GetSHA(),
	}, nil
}

// ListTree implements store.Store. sha must be a tree
// identifier.
func (s *Store) ListTree(
	ctx context.Context,
	sha string,
) ([]store.TreeEntry, error) {
	const op = "list tree"

	tree, resp, err := s.client.Git.GetTree(
		ctx, s.owner, s.repo, sha, true,
	)
	if err != nil {
		return nil, classify(
			resp, err, op, store.KindNotFound,
		)
	}

	entries := make(
		[]store.TreeEntry, 0, len(tree.Entries),
	)

	for _, e := range tree.Entries {
		if e.GetType() != "blob" {
			continue
		}

		entries = append(entries, store.TreeEntry{
			Path: e.GetPath(),
			SHA:  e.GetSHA(),
			Size: int64(e.GetSize()),
		})
	}

	return entries, nil
}

// PathMeta implements store.Store.
func (s *Store) PathMeta(
	ctx context.Context,
	path, ref string,
) (store.TreeEntry, error) {
	const op = "path meta"

	fc, _, resp, err := s.client.Repositories.GetContents(
		ctx, s.owner, s.repo, path,
		&gh.RepositoryContentGetOptions{Ref: ref},
	)
	if err != nil {
		return store.TreeEntry{}, classify(
			resp, err, op, store.KindNotFound,
		)
	}

	if fc == nil {
		return store.TreeEntry{}, store.NewError(
			store.KindNotFound, op,
			fmt.Errorf("%s is a directory", path),
		)
	}

	return store.TreeEntry{
		Path: path,
		SHA:  fc.GetSHA(),
		Size: int64(fc.GetSize()),
	}, nil
}

// ReadPath implements store.Store.
func (s *Store) ReadPath(
	ctx context.Context,
	path, ref string,
) ([]byte, error) {
	const op = "read path"

	fc, _, resp, err := s.client.Repositories.GetContents(
		ctx, s.owner, s.repo, path,
		&gh.RepositoryContentGetOptions{Ref: ref},
	)
	if err != nil {
		return nil, classify(
			resp, err, op, store.KindNotFound,
		)
	}

	if fc == nil {
		return nil, store.NewError(
			store.KindNotFound, op,
			fmt.Errorf("%s is a directory", path),
		)
	}

	content, err := fc.GetContent()
	if err != nil {
		return nil, store.NewError(
			store.KindTransient, op,
			fmt.Errorf("decode content: %w", err),
		)
	}

	return []byte(content), nil
}

// ReadBlob implements store.Store. Blobs are returned
// base64-encoded with embedded newlines by the API.
func (s *Store) ReadBlob(
	ctx context.Context,
	sha string,
) ([]byte, error) {
	const op = "read blob"

	blob, resp, err := s.client.Git.GetBlob(
		ctx, s.owner, s.repo, sha,
	)
	if err != nil {
		return nil, classify(
			resp, err, op, store.KindNotFound,
		)
	}

	raw := strings.ReplaceAll(
		blob.GetContent(), "\n", "",
	)

	content, err := base64.StdEncoding.
		DecodeString(raw)
	if err != nil {
		return nil, store.NewError(
			store.KindTransient, op,
			fmt.Errorf("decode blob: %w", err),
		)
	}

	return content, nil
}

// CreateFile implements store.Store.
func (s *Store) CreateFile(
	ctx context.Context,
	path string,
	content []byte,
	message, branch string,
) error {
	const op = "create file"

	_, resp, err := s.client.Repositories.CreateFile(
		ctx, s.owner, s.repo, path,
		&gh.RepositoryContentFileOptions{
			Message: gh.String(message),
			Content: content,
			Branch:  gh.String(branch),
		},
	)
	if err != nil {
		return classify(
			resp, err, op, store.KindInvalidRepo,
		)
	}

	return nil
}

// UpdateFile implements store.Store.
func (s *Store) UpdateFile(
	ctx context.Context,
	path string,
	content []byte,
	message, branch, sha string,
) error {
	const op = "update file"

	_, resp, err := s.client.Repositories.UpdateFile(
		ctx, s.owner, s.repo, path,
		&gh.RepositoryContentFileOptions{
			Message: gh.String(message),
			Content: content,
			Branch:  gh.String(branch),
			SHA:     gh.String(sha),
		},
	)
	if err != nil {
		return classify(
			resp, err, op, store.KindInvalidRepo,
		)
	}

	return nil
}

// CreateBlob implements store.TreeWriter.
func (s *Store) CreateBlob(
	ctx context.Context,
	content []byte,
) (string, error) {
	const op = "create blob"

	blob, resp, err := s.client.Git.CreateBlob(
		ctx, s.owner, s.repo,
		&gh.Blob{
			Content: gh.String(
				base64.StdEncoding.
					EncodeToString(content),
			),
			Encoding: gh.String("base64"),
		},
	)
	if err != nil {
		return "", classify(
			resp, err, op, store.KindInvalidRepo,
		)
	}

	return blob.GetSHA(), nil
}

// CreateTree implements store.TreeWriter.
func (s *Store) CreateTree(
	ctx context.Context,
	baseTree string,
	entries []store.BlobEntry,
) (string, error) {
	const op = "create tree"

	ghEntries := make(
		[]*gh.TreeEntry, 0, len(entries),
	)

	for _, e := range entries {
		ghEntries = append(ghEntries, &gh.TreeEntry{
			Path: gh.String(e.Path),
			Mode: gh.String(fileMode),
			Type: gh.String("blob"),
			SHA:  gh.String(e.SHA),
		})
	}

	tree, resp, err := s.client.Git.CreateTree(
		ctx, s.owner, s.repo, baseTree, ghEntries,
	)
	if err != nil {
		return "", classify(
			resp, err, op, store.KindNotFound,
		)
	}

	return tree.GetSHA(), nil
}

// CreateCommit implements store.TreeWriter.
func (s *Store) CreateCommit(
	ctx context.Context,
	parent, tree, message string,
) (string, error) {
	const op = "create commit"

	commit, resp, err := s.client.Git.CreateCommit(
		ctx, s.owner, s.repo,
		&gh.Commit{
			Message: gh.String(message),
			Tree:    &gh.Tree{SHA: gh.String(tree)},
			Parents: []*gh.Commit{
				{SHA: gh.String(parent)},
			},
		},
		nil,
	)
	if err != nil {
		return "", classify(
			resp, err, op, store.KindNotFound,
		)
	}

	return commit.GetSHA(), nil
}

// UpdateRef implements store.TreeWriter.
func (s *Store) UpdateRef(
	ctx context.Context,
	branch, sha string,
	force bool,
) error {
	const op = "update ref"

	_, resp, err := s.client.Git.UpdateRef(
		ctx, s.owner, s.repo,
		&gh.Reference{
			Ref: gh.String("refs/heads/" + branch),
			Object: &gh.GitObject{
				SHA: gh.String(sha),
			},
		},
		force,
	)
	if err != nil {
		return classify(
			resp, err, op, store.KindInvalidRepo,
		)
	}

	return nil
}

// statusOf returns the HTTP status of resp, or zero.
func statusOf(resp *gh.Response) int {
	if resp == nil {
		return 0
	}

	return resp.StatusCode
}

// classify maps a GitHub failure to a store error kind.
// notFoundKind is the kind a 404 means for the calling
// operation: missing paths and missing repositories
// share a status code, so the caller decides.
func classify(
	resp *gh.Response,
	err error,
	op string,
	notFoundKind store.Kind,
) error {
	kind := store.KindTransient

	switch statusOf(resp) {
	case http.StatusNotFound:
		kind = notFoundKind

	case http.StatusConflict,
		http.StatusUnprocessableEntity:
		kind = store.KindConflict

	case http.StatusForbidden:
		if hasErrorCode(err, "too_large") {
			kind = store.KindTooLarge
		}
	}

	return store.NewError(kind, op, err)
}

// hasErrorCode reports whether err is a GitHub error
// response carrying the given error code.
func hasErrorCode(err error, code string) bool {
	var er *gh.ErrorResponse
	if !errors.As(err, &er) {
		return false
	}

	for _, e := range er.Errors {
		if e.Code == code {
			return true
		}
	}

	return false
}
