package server

import (
	"net/http"
	"strconv"

	"github.com/cmux/sandboxd/internal/branches"
	"github.com/cmux/sandboxd/internal/diff"
	"github.com/cmux/sandboxd/internal/sberr"
)

func (s *Server) handleBranches(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summary, ok := s.sandboxes.Get(id)
	if !ok {
		writeErr(w, sberr.NotFound("sandbox not found: "+id))
		return
	}
	infos, err := branches.List(r.Context(), summary.Workspace)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summary, ok := s.sandboxes.Get(id)
	if !ok {
		writeErr(w, sberr.NotFound("sandbox not found: "+id))
		return
	}

	maxBytes := s.cfg.DiffMaxBytes
	if q := r.URL.Query().Get("maxBytes"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 {
			maxBytes = v
		}
	}
	includeContents := r.URL.Query().Get("includeContents") != "false"

	base := diff.GitBaseTree{RepoDir: summary.Workspace}
	entries, err := diff.Workspace(r.Context(), diff.Options{
		WorktreePath:    summary.Workspace,
		IncludeContents: includeContents,
		MaxBytes:        maxBytes,
	}, base)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
