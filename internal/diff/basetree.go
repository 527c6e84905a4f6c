package diff

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/cmux/sandboxd/internal/mergebase"
	"github.com/cmux/sandboxd/internal/sberr"
)

// GitBaseTree resolves the diff base as the merge base of HEAD and the
// repo's default remote tracking branch (falling back to HEAD itself, or
// to an empty tree for an unborn HEAD), listing and reading blobs via git
// plumbing commands.
type GitBaseTree struct {
	RepoDir string
}

func (g GitBaseTree) Files(ctx context.Context) (map[string][]byte, error) {
	headOID, err := g.revParse(ctx, "HEAD")
	if err != nil {
		// Unborn HEAD: fall back to the remote default, or an empty base.
		if remote, ok := g.remoteDefaultHead(ctx); ok {
			return g.listAndReadTree(ctx, remote)
		}
		return map[string][]byte{}, nil
	}

	baseCandidate := headOID
	if remote, ok := g.remoteDefaultHead(ctx); ok {
		baseCandidate = remote
	}

	base, err := mergebase.Find(ctx, baseCandidate, headOID, mergebase.GitLookup{RepoDir: g.RepoDir})
	if err != nil {
		base = headOID
	}
	return g.listAndReadTree(ctx, base)
}

func (g GitBaseTree) remoteDefaultHead(ctx context.Context) (string, bool) {
	if oid, err := g.revParse(ctx, "refs/remotes/origin/HEAD"); err == nil {
		return oid, true
	}
	if oid, err := g.revParse(ctx, "refs/remotes/origin/main"); err == nil {
		return oid, true
	}
	return "", false
}

func (g GitBaseTree) revParse(ctx context.Context, ref string) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "-C", g.RepoDir, "rev-parse", "--verify", ref).Output()
	if err != nil {
		return "", sberr.CommandFailed("git rev-parse "+ref, "", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// listAndReadTree lists every blob path in a commit's tree via `git
// ls-tree -r --name-only` and reads each blob's content via `git show
// <commit>:<path>`, matching the original's per-blob tree walk without
// requiring an in-process object database.
func (g GitBaseTree) listAndReadTree(ctx context.Context, commit string) (map[string][]byte, error) {
	out, err := exec.CommandContext(ctx, "git", "-C", g.RepoDir, "ls-tree", "-r", "--name-only", commit).Output()
	if err != nil {
		return nil, sberr.CommandFailed("git ls-tree -r --name-only "+commit, "", err)
	}
	paths := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	result := make(map[string][]byte, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		content, err := exec.CommandContext(ctx, "git", "-C", g.RepoDir, "show", commit+":"+p).Output()
		if err != nil {
			continue // blob unreadable (e.g. submodule entry); skip rather than fail the whole diff
		}
		result[p] = bytes.Clone(content)
	}
	return result, nil
}
