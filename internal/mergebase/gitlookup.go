package mergebase

import (
	"context"
	"os/exec"
	"strings"

	"github.com/cmux/sandboxd/internal/sberr"
)

// GitLookup resolves parent commits by shelling out to the git CLI, the
// same external-process idiom the daemon uses for bubblewrap/ip/nsenter
// and for every other git operation (clone/fetch) — no pure-Go git
// implementation appears anywhere in the example corpus.
type GitLookup struct {
	RepoDir string
}

func (g GitLookup) Parents(ctx context.Context, id string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", g.RepoDir, "log", "--pretty=%P", "-n1", id)
	out, err := cmd.Output()
	if err != nil {
		return nil, sberr.CommandFailed("git log --pretty=%P -n1 "+id, stderrOf(err), err)
	}
	fields := strings.Fields(strings.TrimSpace(string(out)))
	return fields, nil
}

func stderrOf(err error) string {
	if ee, ok := err.(*exec.ExitError); ok {
		return string(ee.Stderr)
	}
	return ""
}
