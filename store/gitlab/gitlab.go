package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/byte4ever/hubfs/store"
)

// Config holds the settings needed to open a GitLab
// project store.
type Config struct {
	// Host is the base URL of the GitLab instance
	// (e.g. "https://gitlab.com"). Empty selects
	// gitlab.com.
	Host string
	// Project is the full project path
	// (e.g. "org/project").
	Project string
	// AccessToken is a personal or project access
	// token used for authentication.
	AccessToken string
}

// Store reads and writes one GitLab project.
//
// Pattern: Strategy -- implements store.Store,
// store.BatchWriter.
type Store struct {
	client  *gl.Client
	project string
	host    string
}

// New validates cfg and returns a Store.
func New(cfg Config) (*Store, error) {
	const errCtx = "creating gitlab store"

	if cfg.Project == "" {
		return nil, fmt.Errorf(
			"%s: project must be set", errCtx,
		)
	}

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	host := cfg.Host
	if host == "" {
		host = "https://gitlab.com"
	}

	client, err := gl.NewClient(
		cfg.AccessToken,
		gl.WithBaseURL(host),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: new client: %w", errCtx, err,
		)
	}

	return &Store{
		client:  client,
		project: cfg.Project,
		host:    host,
	}, nil
}

// Key implements store.Store.
func (s *Store) Key() string {
	return fmt.Sprintf(
		"%s/%s",
		strings.TrimPrefix(
			strings.TrimPrefix(
				s.host, "https://",
			),
			"http://",
		),
		s.project,
	)
}

// GetRef implements store.Store. GitLab keys tree
// listings by commit, so the returned Ref carries no
// tree identifier.
func (s *Store) GetRef(
	ctx context.Context,
	branch string,
) (store.Ref, error) {
	const op = "get ref"

	br, resp, err := s.client.Branches.GetBranch(
		s.project, branch, gl.WithContext(ctx),
	)
	if err != nil {
		return store.Ref{}, classify(
			resp, err, op, store.KindInvalidRepo,
		)
	}

	return store.Ref{
		CommitSHA: br.Commit.ID,
	}, nil
}

// ListTree implements store.Store. sha is a commit
// identifier or ref name.
func (s *Store) ListTree(
	ctx context.Context,
	sha string,
) ([]store.TreeEntry, error) {
	const op = "list tree"

	opts := &gl.ListTreeOptions{
		Ref:       gl.Ptr(sha),
		Recursive: gl.Ptr(true),
		ListOptions: gl.ListOptions{
			PerPage: 100,
		},
	}

	var entries []store.TreeEntry

	for {
		nodes, resp, err := s.client.Repositories.ListTree(
			s.project, opts, gl.WithContext(ctx),
		)
		if err != nil {
			return nil, classify(
				resp, err, op, store.KindNotFound,
			)
		}

		for _, n := range nodes {
			if n.Type != "blob" {
				continue
			}

			entries = append(
				entries, store.TreeEntry{
					Path: n.Path,
					SHA:  n.ID,
				},
			)
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return entries, nil
}

// PathMeta implements store.Store.
func (s *Store) PathMeta(
	ctx context.Context,
	path, ref string,
) (store.TreeEntry, error) {
	const op = "path meta"

	f, resp, err := s.client.RepositoryFiles.GetFileMetaData(
		s.project, path,
		&gl.GetFileMetaDataOptions{
			Ref: gl.Ptr(ref),
		},
		gl.WithContext(ctx),
	)
	if err != nil {
		return store.TreeEntry{}, classify(
			resp, err, op, store.KindNotFound,
		)
	}

	return store.TreeEntry{
		Path: path,
		SHA:  f.BlobID,
		Size: int64(f.Size),
	}, nil
}

// ReadPath implements store.Store.
func (s *Store) ReadPath(
	ctx context.Context,
	path, ref string,
) ([]byte, error) {
	const op = "read path"

	content, resp, err := s.client.RepositoryFiles.GetRawFile(
		s.project, path,
		&gl.GetRawFileOptions{
			Ref: gl.Ptr(ref),
		},
		gl.WithContext(ctx),
	)
	if err != nil {
		return nil, classify(
			resp, err, op, store.KindNotFound,
		)
	}

	return content, nil
}

// ReadBlob implements store.Store.
func (s *Store) ReadBlob(
	ctx context.Context,
	sha string,
) ([]byte, error) {
	const op = "read blob"

	content, resp, err := s.client.Repositories.RawBlobContent(
		s.project, sha, gl.WithContext(ctx),
	)
	if err != nil {
		return nil, classify(
			resp, err, op, store.KindNotFound,
		)
	}

	return content, nil
}

// CreateFile implements store.Store. GitLab reports a
// create colliding with an existing file as HTTP 400.
func (s *Store) CreateFile(
	ctx context.Context,
	path string,
	content []byte,
	message, branch string,
) error {
	const op = "create file"

	_, resp, err := s.client.RepositoryFiles.CreateFile(
		s.project, path,
		&gl.CreateFileOptions{
			Branch:        gl.Ptr(branch),
			Content:       gl.Ptr(string(content)),
			CommitMessage: gl.Ptr(message),
		},
		gl.WithContext(ctx),
	)
	if err != nil {
		if statusOf(resp) == http.StatusBadRequest {
			return store.NewError(
				store.KindConflict, op, err,
			)
		}

		return classify(
			resp, err, op, store.KindInvalidRepo,
		)
	}

	return nil
}

// UpdateFile implements store.Store. GitLab does not
// take the blob identifier on update; sha is accepted
// for interface compatibility and ignored.
func (s *Store) UpdateFile(
	ctx context.Context,
	path string,
	content []byte,
	message, branch, _ string,
) error {
	const op = "update file"

	_, resp, err := s.client.RepositoryFiles.UpdateFile(
		s.project, path,
		&gl.UpdateFileOptions{
			Branch:        gl.Ptr(branch),
			Content:       gl.Ptr(string(content)),
			CommitMessage: gl.Ptr(message),
		},
		gl.WithContext(ctx),
	)
	if err != nil {
		return classify(
			resp, err, op, store.KindInvalidRepo,
		)
	}

	return nil
}

// CommitFiles implements store.BatchWriter with one
// commits-API call carrying every change as a file
// action. GitLab distinguishes create from update
// actions, so the branch tree is listed once to
// classify each path.
func (s *Store) CommitFiles(
	ctx context.Context,
	branch, message string,
	changes []store.FileChange,
) error {
	const op = "commit files"

	existing, err := s.ListTree(ctx, branch)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	exists := make(
		map[string]struct{}, len(existing),
	)
	for _, e := range existing {
		exists[e.Path] = struct{}{}
	}

	actions := make(
		[]*gl.CommitActionOptions, 0, len(changes),
	)

	for _, ch := range changes {
		action := gl.FileCreate
		if _, ok := exists[ch.Path]; ok {
			action = gl.FileUpdate
		}

		actions = append(
			actions, &gl.CommitActionOptions{
				Action:   gl.Ptr(action),
				FilePath: gl.Ptr(ch.Path),
				Content: gl.Ptr(
					string(ch.Content),
				),
			},
		)
	}

	_, resp, err := s.client.Commits.CreateCommit(
		s.project,
		&gl.CreateCommitOptions{
			Branch:        gl.Ptr(branch),
			CommitMessage: gl.Ptr(message),
			Actions:       actions,
		},
		gl.WithContext(ctx),
	)
	if err != nil {
		return classify(
			resp, err, op, store.KindInvalidRepo,
		)
	}

	return nil
}

// statusOf returns the HTTP status of resp, or zero.
func statusOf(resp *gl.Response) int {
	if resp == nil {
		return 0
	}

	return resp.StatusCode
}

// classify maps a GitLab failure to a store error kind.
// notFoundKind is the kind a 404 means for the calling
// operation.
func classify(
	resp *gl.Response,
	err error,
	op string,
	notFoundKind store.Kind,
) error {
	kind := store.KindTransient

	switch statusOf(resp) {
	case http.StatusNotFound:
		kind = notFoundKind

	case http.StatusConflict:
		kind = store.KindConflict

	case http.StatusRequestEntityTooLarge:
		kind = store.KindTooLarge
	}

	return store.NewError(kind, op, err)
}
