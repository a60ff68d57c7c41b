package storetest

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/byte4ever/hubfs/store"
)

// Server mimics the slice of the GitHub REST API that
// the go-github-backed store uses, on top of an
// InMemory store. Requests for any other repository
// than the configured one get a 404, like the real API.
type Server struct {
	*httptest.Server

	mem   *InMemory
	owner string
	repo  string
}

// NewServer starts a fake GitHub API for owner/repo
// backed by mem. Close it when done.
func NewServer(
	mem *InMemory,
	owner, repo string,
) *Server {
	s := &Server{
		mem:   mem,
		owner: owner,
		repo:  repo,
	}

	mux := http.NewServeMux()

	prefix := "/repos/{owner}/{repo}"

	mux.HandleFunc(
		"GET "+prefix+"/contents/{path...}",
		s.repoScoped(s.getContents),
	)
	mux.HandleFunc(
		"PUT "+prefix+"/contents/{path...}",
		s.repoScoped(s.putContents),
	)
	mux.HandleFunc(
		"GET "+prefix+"/git/ref/{ref...}",
		s.repoScoped(s.getRef),
	)
	mux.HandleFunc(
		"GET "+prefix+"/git/commits/{sha}",
		s.repoScoped(s.getCommit),
	)
	mux.HandleFunc(
		"GET "+prefix+"/git/trees/{sha}",
		s.repoScoped(s.getTree),
	)
	mux.HandleFunc(
		"GET "+prefix+"/git/blobs/{sha}",
		s.repoScoped(s.getBlob),
	)
	mux.HandleFunc(
		"POST "+prefix+"/git/blobs",
		s.repoScoped(s.createBlob),
	)
	mux.HandleFunc(
		"POST "+prefix+"/git/trees",
		s.repoScoped(s.createTree),
	)
	mux.HandleFunc(
		"POST "+prefix+"/git/commits",
		s.repoScoped(s.createCommit),
	)
	mux.HandleFunc(
		"PATCH "+prefix+"/git/refs/{ref...}",
		s.repoScoped(s.updateRef),
	)

	s.Server = httptest.NewServer(mux)

	return s
}

// repoScoped rejects requests for unknown repositories
// before dispatching to the handler.
func (s *Server) repoScoped(
	h http.HandlerFunc,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("owner") != s.owner ||
			r.PathValue("repo") != s.repo {
			writeError(
				w, http.StatusNotFound, "Not Found",
			)

			return
		}

		h(w, r)
	}
}

// apiError is the GitHub error response shape.
type apiError struct {
	Message string          `json:"message"`
	Errors  []apiErrorEntry `json:"errors,omitempty"`
}

// apiErrorEntry is one entry of an error response's
// errors array.
type apiErrorEntry struct {
	Resource string `json:"resource,omitempty"`
	Code     string `json:"code,omitempty"`
}

// writeError writes a GitHub-shaped error response.
func writeError(
	w http.ResponseWriter,
	status int,
	message string,
	codes ...string,
) {
	e := apiError{Message: message}
	for _, c := range codes {
		e.Errors = append(e.Errors, apiErrorEntry{
			Code: c,
		})
	}

	w.Header().Set(
		"Content-Type", "application/json",
	)
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(e)
}

// writeStoreError translates a store error kind into
// the status code and body the real API would use.
func writeStoreError(w http.ResponseWriter, err error) {
	switch store.KindOf(err) {
	case store.KindNotFound, store.KindInvalidRepo:
		writeError(
			w, http.StatusNotFound, "Not Found",
		)
	case store.KindConflict:
		writeError(
			w,
			http.StatusUnprocessableEntity,
			"Validation Failed",
			"already_exists",
		)
	case store.KindTooLarge:
		writeError(
			w,
			http.StatusForbidden,
			"This API returns blobs up to 1 MB "+
				"in size.",
			"too_large",
		)
	default:
		writeError(
			w,
			http.StatusInternalServerError,
			err.Error(),
		)
	}
}

// writeJSON writes a 2xx JSON response.
func writeJSON(
	w http.ResponseWriter,
	status int,
	v any,
) {
	w.Header().Set(
		"Content-Type", "application/json",
	)
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) getContents(
	w http.ResponseWriter,
	r *http.Request,
) {
	ctx := context.Background()
	path := r.PathValue("path")

	ref := r.URL.Query().Get("ref")
	if ref == "" {
		ref = DefaultBranch
	}

	meta, err := s.mem.PathMeta(ctx, path, ref)
	if err != nil {
		writeStoreError(w, err)

		return
	}

	content, err := s.mem.ReadPath(ctx, path, ref)
	if err != nil {
		writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"type":     "file",
		"encoding": "base64",
		"name":     path,
		"path":     path,
		"sha":      meta.SHA,
		"size":     len(content),
		"content": base64.StdEncoding.
			EncodeToString(content),
	})
}

func (s *Server) putContents(
	w http.ResponseWriter,
	r *http.Request,
) {
	ctx := context.Background()
	path := r.PathValue("path")

	var body struct {
		Message string `json:"message"`
		Content string `json:"content"`
		Branch  string `json:"branch"`
		SHA     string `json:"sha"`
	}

	if err := json.NewDecoder(r.Body).
		Decode(&body); err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"Problems parsing JSON",
		)

		return
	}

	content, err := base64.StdEncoding.
		DecodeString(body.Content)
	if err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"content is not valid Base64",
		)

		return
	}

	branch := body.Branch
	if branch == "" {
		branch = DefaultBranch
	}

	if body.SHA == "" {
		err = s.mem.CreateFile(
			ctx, path, content,
			body.Message, branch,
		)
	} else {
		err = s.mem.UpdateFile(
			ctx, path, content,
			body.Message, branch, body.SHA,
		)
	}

	if err != nil {
		writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"content": map[string]any{
			"path": path,
			"sha":  BlobSHA(content),
		},
	})
}

func (s *Server) getRef(
	w http.ResponseWriter,
	r *http.Request,
) {
	ref := r.PathValue("ref")

	branch, ok := strings.CutPrefix(ref, "heads/")
	if !ok {
		writeError(
			w, http.StatusNotFound, "Not Found",
		)

		return
	}

	tip, err := s.mem.GetRef(
		context.Background(), branch,
	)
	if err != nil {
		writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ref": "refs/" + ref,
		"object": map[string]any{
			"type": "commit",
			"sha":  tip.CommitSHA,
		},
	})
}

func (s *Server) getCommit(
	w http.ResponseWriter,
	r *http.Request,
) {
	sha := r.PathValue("sha")

	s.mem.mu.Lock()
	c, ok := s.mem.commits[sha]
	s.mem.mu.Unlock()

	if !ok {
		writeError(
			w, http.StatusNotFound, "Not Found",
		)

		return
	}

	var parents []map[string]any
	if c.parent != "" {
		parents = append(parents, map[string]any{
			"sha": c.parent,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sha":     sha,
		"message": c.message,
		"tree": map[string]any{
			"sha": c.tree,
		},
		"parents": parents,
	})
}

func (s *Server) getTree(
	w http.ResponseWriter,
	r *http.Request,
) {
	sha := r.PathValue("sha")

	entries, err := s.mem.ListTree(
		context.Background(), sha,
	)
	if err != nil {
		writeStoreError(w, err)

		return
	}

	tree := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		tree = append(tree, map[string]any{
			"path": e.Path,
			"mode": "100644",
			"type": "blob",
			"sha":  e.SHA,
			"size": e.Size,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sha":       sha,
		"tree":      tree,
		"truncated": false,
	})
}

func (s *Server) getBlob(
	w http.ResponseWriter,
	r *http.Request,
) {
	sha := r.PathValue("sha")

	content, err := s.mem.ReadBlob(
		context.Background(), sha,
	)
	if err != nil {
		writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sha":      sha,
		"size":     len(content),
		"encoding": "base64",
		"content": base64.StdEncoding.
			EncodeToString(content),
	})
}

func (s *Server) createBlob(
	w http.ResponseWriter,
	r *http.Request,
) {
	var body struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}

	if err := json.NewDecoder(r.Body).
		Decode(&body); err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"Problems parsing JSON",
		)

		return
	}

	content := []byte(body.Content)

	if body.Encoding == "base64" {
		decoded, err := base64.StdEncoding.
			DecodeString(body.Content)
		if err != nil {
			writeError(
				w,
				http.StatusBadRequest,
				"content is not valid Base64",
			)

			return
		}

		content = decoded
	}

	sha, err := s.mem.CreateBlob(
		context.Background(), content,
	)
	if err != nil {
		writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"sha": sha,
	})
}

func (s *Server) createTree(
	w http.ResponseWriter,
	r *http.Request,
) {
	var body struct {
		BaseTree string `json:"base_tree"`
		Tree     []struct {
			Path string `json:"path"`
			SHA  string `json:"sha"`
		} `json:"tree"`
	}

	if err := json.NewDecoder(r.Body).
		Decode(&body); err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"Problems parsing JSON",
		)

		return
	}

	entries := make(
		[]store.BlobEntry, 0, len(body.Tree),
	)
	for _, e := range body.Tree {
		entries = append(entries, store.BlobEntry{
			Path: e.Path,
			SHA:  e.SHA,
		})
	}

	sha, err := s.mem.CreateTree(
		context.Background(),
		body.BaseTree,
		entries,
	)
	if err != nil {
		writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"sha": sha,
	})
}

func (s *Server) createCommit(
	w http.ResponseWriter,
	r *http.Request,
) {
	var body struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}

	if err := json.NewDecoder(r.Body).
		Decode(&body); err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"Problems parsing JSON",
		)

		return
	}

	parent := ""
	if len(body.Parents) > 0 {
		parent = body.Parents[0]
	}

	sha, err := s.mem.CreateCommit(
		context.Background(),
		parent,
		body.Tree,
		body.Message,
	)
	if err != nil {
		writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"sha": sha,
	})
}

func (s *Server) updateRef(
	w http.ResponseWriter,
	r *http.Request,
) {
	ref := r.PathValue("ref")

	branch, ok := strings.CutPrefix(ref, "heads/")
	if !ok {
		writeError(
			w, http.StatusNotFound, "Not Found",
		)

		return
	}

	var body struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}

	if err := json.NewDecoder(r.Body).
		Decode(&body); err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"Problems parsing JSON",
		)

		return
	}

	if err := s.mem.UpdateRef(
		context.Background(),
		branch,
		body.SHA,
		body.Force,
	); err != nil {
		writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ref": "refs/" + ref,
		"object": map[string]any{
			"type": "commit",
			"sha":  body.SHA,
		},
	})
}

// APIBaseURL returns the server's URL in the form the
// go-github client expects as a base endpoint.
func (s *Server) APIBaseURL() string {
	return fmt.Sprintf("%s/", s.URL)
}
