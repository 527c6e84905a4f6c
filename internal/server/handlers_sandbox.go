package server

import (
	"archive/tar"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cmux/sandboxd/internal/metrics"
	"github.com/cmux/sandboxd/internal/sandbox"
	"github.com/cmux/sandboxd/internal/sberr"
)

// createSandboxRequest extends sandbox.CreateRequest with an optional
// RepoURL: when set, the server ensures a content-addressed clone exists
// via the git cache and bind-mounts it read-only into the sandbox so the
// child can set up its own worktree, instead of every sandbox re-cloning
// the same repository from the network.
type createSandboxRequest struct {
	sandbox.CreateRequest
	RepoURL string `json:"repoUrl,omitempty"`
}

func (s *Server) handleCreateSandbox(w http.ResponseWriter, r *http.Request) {
	var body createSandboxRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req := body.CreateRequest

	if body.RepoURL != "" {
		cachePath, err := s.gitCache.EnsureRepo(r.Context(), body.RepoURL)
		if err != nil {
			writeErr(w, err)
			return
		}
		req.ReadOnlyPaths = append(req.ReadOnlyPaths, cachePath)
		if req.Env == nil {
			req.Env = map[string]string{}
		}
		req.Env["CMUX_REPO_CACHE_PATH"] = cachePath
	}

	summary, err := s.sandboxes.Create(r.Context(), req)
	if err != nil {
		if s.errors != nil {
			s.errors.ReportError(err, "sandbox-create", "", map[string]interface{}{"name": req.Name})
		}
		writeErr(w, err)
		return
	}
	s.refreshSandboxMetrics()
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleListSandboxes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sandboxes.List())
}

func (s *Server) handleGetSandbox(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summary, ok := s.sandboxes.Get(id)
	if !ok {
		writeErr(w, sberr.NotFound("sandbox not found: "+id))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDeleteSandbox(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summary, ok, err := s.sandboxes.Delete(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, sberr.NotFound("sandbox not found: "+id))
		return
	}
	s.refreshSandboxMetrics()
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) refreshSandboxMetrics() {
	metrics.SetSandboxCounts(s.sandboxes.StatusCounts())
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req sandbox.ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Command) == 0 {
		writeErr(w, sberr.InvalidRequest("command must not be empty"))
		return
	}
	result, err := s.sandboxes.Exec(r.Context(), id, req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleFiles extracts a tar stream from the request body into the
// sandbox's workspace directory. archive/tar is the standard library's own
// tar codec; no third-party library in the example corpus offers a better
// fit for this narrow, security-sensitive extraction path (path-traversal
// guarding is the part worth controlling directly rather than delegating).
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summary, ok := s.sandboxes.Get(id)
	if !ok {
		writeErr(w, sberr.NotFound("sandbox not found: "+id))
		return
	}

	tr := tar.NewReader(r.Body)
	extracted := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeErr(w, sberr.Wrap(sberr.KindInvalidRequest, "invalid tar stream", err))
			return
		}
		dest, err := safeJoin(summary.Workspace, hdr.Name)
		if err != nil {
			writeErr(w, err)
			return
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				writeErr(w, sberr.Wrap(sberr.KindIO, "create directory", err))
				return
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				writeErr(w, sberr.Wrap(sberr.KindIO, "create parent directory", err))
				return
			}
			f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode&0o777))
			if err != nil {
				writeErr(w, sberr.Wrap(sberr.KindIO, "create file", err))
				return
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				writeErr(w, sberr.Wrap(sberr.KindIO, "write file", err))
				return
			}
			f.Close()
			extracted++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"extracted": extracted})
}

// safeJoin resolves name under root, rejecting any path that escapes it via
// ".." segments or an absolute path, per the tar-slip defense every
// archive-extraction path needs regardless of codec.
func safeJoin(root, name string) (string, error) {
	cleanRoot := filepath.Clean(root)
	joined := filepath.Join(cleanRoot, name)
	if filepath.IsAbs(name) || (joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(os.PathSeparator))) {
		return "", sberr.New(sberr.KindInvalidRequest, "tar entry escapes workspace: "+name)
	}
	return joined, nil
}
