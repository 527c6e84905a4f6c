// Package branches lists a repo's origin remote-tracking branches, sorted
// with the default branch first, then well-known names pinned ahead of the
// rest, then by most recent commit activity. Ported from the original
// implementation's list_remote_branches (apps/server/native/core/src/
// branches.rs), substituting `git for-each-ref` plumbing for gix.
package branches

import (
	"context"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/cmux/sandboxd/internal/sberr"
)

// Info is one origin remote-tracking branch.
type Info struct {
	Name           string `json:"name"`
	LastCommitSha  string `json:"lastCommitSha"`
	LastActivityAt int64  `json:"lastActivityAt"` // epoch-ms, 0 if unknown
	IsDefault      bool   `json:"isDefault"`
}

// pinned names are sorted ahead of everything but the default branch.
var pinned = map[string]int{"main": 0, "dev": 1, "master": 2, "develop": 3}

const unpinnedRank = 1 << 30

func pinRank(name string) int {
	if r, ok := pinned[name]; ok {
		return r
	}
	return unpinnedRank
}

// List returns origin's remote-tracking branches in repoDir, sorted with
// the branch matching refs/remotes/origin/HEAD first, then pinned names,
// then by descending commit time, then by name.
func List(ctx context.Context, repoDir string) ([]Info, error) {
	defaultBranch := originHeadShort(ctx, repoDir)

	refs, err := forEachRef(ctx, repoDir)
	if err != nil {
		return nil, err
	}

	for i := range refs {
		refs[i].IsDefault = defaultBranch != "" && refs[i].Name == defaultBranch
	}

	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}
		if pa, pb := pinRank(a.Name), pinRank(b.Name); pa != pb {
			return pa < pb
		}
		if a.LastActivityAt != b.LastActivityAt {
			return a.LastActivityAt > b.LastActivityAt
		}
		return a.Name < b.Name
	})
	return refs, nil
}

// originHeadShort resolves the short branch name refs/remotes/origin/HEAD
// currently points at, or "" if no such symbolic ref exists.
func originHeadShort(ctx context.Context, repoDir string) string {
	out, err := exec.CommandContext(ctx, "git", "-C", repoDir, "symbolic-ref", "refs/remotes/origin/HEAD").Output()
	if err != nil {
		return ""
	}
	return refToShortOriginBranch(strings.TrimSpace(string(out)))
}

// refToShortOriginBranch extracts "branch" from "refs/remotes/origin/branch",
// returning "" for anything else (a different remote, or refs/remotes/origin/HEAD
// itself, which for-each-ref never emits as a distinct entry).
func refToShortOriginBranch(ref string) string {
	const prefix = "refs/remotes/origin/"
	if !strings.HasPrefix(ref, prefix) {
		return ""
	}
	short := strings.TrimPrefix(ref, prefix)
	if short == "" || short == "HEAD" {
		return ""
	}
	return short
}

// forEachRef lists refs/remotes/origin/* via a single `git for-each-ref`
// call, using its %(committerdate:unix) format to avoid one `git log` per
// branch.
func forEachRef(ctx context.Context, repoDir string) ([]Info, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", repoDir, "for-each-ref",
		"--format=%(refname)\t%(objectname)\t%(committerdate:unix)",
		"refs/remotes/origin/")
	out, err := cmd.Output()
	if err != nil {
		return nil, sberr.CommandFailed("git for-each-ref refs/remotes/origin/", stderrOf(err), err)
	}

	var result []Info
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			continue
		}
		short := refToShortOriginBranch(fields[0])
		if short == "" {
			continue
		}
		var ts int64
		if secs, err := strconv.ParseInt(fields[2], 10, 64); err == nil {
			ts = secs * 1000
		}
		result = append(result, Info{
			Name:           short,
			LastCommitSha:  fields[1],
			LastActivityAt: ts,
		})
	}
	return result, nil
}

func stderrOf(err error) string {
	if ee, ok := err.(*exec.ExitError); ok {
		return string(ee.Stderr)
	}
	return ""
}
