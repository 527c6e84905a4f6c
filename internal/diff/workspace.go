// Package diff computes a working-tree-vs-base-commit diff for a sandbox's
// workspace: which files were added, modified, or deleted since the
// branch's merge base with its upstream, with unified line counts and
// (size-capped) before/after content. Ported from the original
// implementation's diff_workspace (apps/server/native/core/src/diff/
// workspace.rs), substituting shelled-out git plumbing for gix since no
// pure-Go git library exists in the example corpus.
package diff

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// Status is the classification of one changed path.
type Status string

const (
	StatusAdded    Status = "added"
	StatusModified Status = "modified"
	StatusDeleted  Status = "deleted"
)

// Entry is one file's diff result.
type Entry struct {
	FilePath       string `json:"filePath"`
	Status         Status `json:"status"`
	Additions      int    `json:"additions"`
	Deletions      int    `json:"deletions"`
	IsBinary       bool   `json:"isBinary"`
	OldSize        *int   `json:"oldSize,omitempty"`
	NewSize        *int   `json:"newSize,omitempty"`
	OldContent     *string `json:"oldContent,omitempty"`
	NewContent     *string `json:"newContent,omitempty"`
	ContentOmitted *bool  `json:"contentOmitted,omitempty"`
}

// Options configures a Workspace diff run.
type Options struct {
	WorktreePath    string
	IncludeContents bool // zero value omits contents; the HTTP handler defaults it to true
	MaxBytes        int  // default 950*1024
}

// BaseTree resolves the path->content map of the commit the workspace is
// being diffed against. Production use shells out to git (GitBaseTree);
// tests supply an in-memory map.
type BaseTree interface {
	Files(ctx context.Context) (map[string][]byte, error)
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data)
}

// ignoreRules implements the deliberately literal (non-glob) .gitignore
// matching the original performs: a line either equals the relative path,
// or (after stripping a trailing "/") is a prefix directory of it. This is
// NOT standard gitignore glob semantics — it's a conscious compatibility
// choice, since the spec's tested boundary behaviors assume exact literal
// matches and a globbing implementation would silently diverge from them.
type ignoreRules struct {
	lines []string
}

func loadIgnoreRules(root string) ignoreRules {
	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return ignoreRules{}
	}
	var rules []string
	for _, line := range strings.Split(string(data), "\n") {
		rule := strings.TrimSpace(line)
		if rule == "" || strings.HasPrefix(rule, "#") {
			continue
		}
		rules = append(rules, rule)
	}
	return ignoreRules{lines: rules}
}

func (r ignoreRules) shouldIgnore(rel string) bool {
	for _, rule := range r.lines {
		d := strings.TrimSuffix(rule, "/")
		if rel == d || strings.HasPrefix(rel, d+"/") {
			return true
		}
	}
	return false
}

// scanWorkdir walks root, skipping .git and anything the literal gitignore
// matcher excludes, returning slash-separated relative paths.
func scanWorkdir(root string) []string {
	rules := loadIgnoreRules(root)
	var out []string
	var walk func(dir string)
	walk = func(dir string) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, ent := range entries {
			if ent.Name() == ".git" {
				continue
			}
			full := filepath.Join(dir, ent.Name())
			rel, _ := filepath.Rel(root, full)
			rel = filepath.ToSlash(rel)
			if rules.shouldIgnore(rel) {
				continue
			}
			if ent.IsDir() {
				walk(full)
				continue
			}
			out = append(out, rel)
		}
	}
	walk(root)
	return out
}

// Workspace computes the diff entries for opts.WorktreePath against base.
func Workspace(ctx context.Context, opts Options, base BaseTree) ([]Entry, error) {
	include := opts.IncludeContents
	maxBytes := opts.MaxBytes
	if maxBytes == 0 {
		maxBytes = 950 * 1024
	}

	baseMap, err := base.Files(ctx)
	if err != nil {
		return nil, err
	}

	files := scanWorkdir(opts.WorktreePath)
	fileSet := make(map[string]bool, len(files))
	for _, f := range files {
		fileSet[f] = true
	}

	var out []Entry
	for _, rel := range files {
		newData, _ := os.ReadFile(filepath.Join(opts.WorktreePath, rel))
		oldData, existed := baseMap[rel]
		if !existed {
			out = append(out, addedEntry(rel, newData, include, maxBytes))
			continue
		}
		if bytes.Equal(newData, oldData) {
			continue
		}
		e, keep := modifiedEntry(rel, oldData, newData, include, maxBytes)
		if keep {
			out = append(out, e)
		}
	}

	for rel, oldData := range baseMap {
		if fileSet[rel] {
			continue
		}
		out = append(out, deletedEntry(rel, oldData, include, maxBytes))
	}

	sort.Slice(out, func(i, j int) bool {
		li, lj := strings.ToLower(out[i].FilePath), strings.ToLower(out[j].FilePath)
		if li != lj {
			return li < lj
		}
		return out[i].FilePath < out[j].FilePath
	})
	return out, nil
}

func intPtr(v int) *int       { return &v }
func boolPtr(v bool) *bool    { return &v }
func strPtr(v string) *string { return &v }

func addedEntry(rel string, newData []byte, include bool, maxBytes int) Entry {
	bin := isBinary(newData)
	e := Entry{FilePath: rel, Status: StatusAdded, IsBinary: bin}
	if !include || bin {
		e.ContentOmitted = boolPtr(false)
		return e
	}
	newStr := string(newData)
	e.NewSize = intPtr(len(newStr))
	e.OldSize = intPtr(0)
	if len(newStr) <= maxBytes {
		e.NewContent = strPtr(newStr)
		e.OldContent = strPtr("")
		e.ContentOmitted = boolPtr(false)
		e.Additions = countLines(newStr)
	} else {
		e.ContentOmitted = boolPtr(true)
	}
	return e
}

func deletedEntry(rel string, oldData []byte, include bool, maxBytes int) Entry {
	bin := isBinary(oldData)
	e := Entry{FilePath: rel, Status: StatusDeleted, IsBinary: bin}
	if !include || bin {
		e.ContentOmitted = boolPtr(false)
		return e
	}
	oldStr := string(oldData)
	e.OldSize = intPtr(len(oldStr))
	if len(oldStr) <= maxBytes {
		e.OldContent = strPtr(oldStr)
		e.NewContent = strPtr("")
		e.ContentOmitted = boolPtr(false)
		e.Deletions = countLines(oldStr)
	} else {
		e.ContentOmitted = boolPtr(true)
	}
	return e
}

// modifiedEntry returns (entry, keep); keep is false when the caller should
// drop the entry entirely — a no-op "modification" (content diff found zero
// changed lines once computed) isn't surfaced, matching the original's
// drop-no-op-modification invariant.
func modifiedEntry(rel string, oldData, newData []byte, include bool, maxBytes int) (Entry, bool) {
	bin := isBinary(oldData) || isBinary(newData)
	e := Entry{FilePath: rel, Status: StatusModified, IsBinary: bin}
	if !include || bin {
		e.ContentOmitted = boolPtr(false)
		return e, true
	}

	oldStr, newStr := string(oldData), string(newData)
	oldSz, newSz := len(oldStr), len(newStr)
	e.OldSize, e.NewSize = intPtr(oldSz), intPtr(newSz)

	if oldSz+newSz > maxBytes {
		e.ContentOmitted = boolPtr(true)
		return e, true
	}

	adds, dels := lineDiffCounts(oldStr, newStr)
	e.Additions, e.Deletions = adds, dels
	e.OldContent, e.NewContent = strPtr(oldStr), strPtr(newStr)
	e.ContentOmitted = boolPtr(false)

	if !e.IsBinary && e.Additions == 0 && e.Deletions == 0 {
		return e, false
	}
	return e, true
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

// lineDiffCounts runs a line-level LCS diff and counts inserted/deleted
// lines, equivalent to the original's use of the `similar` crate's
// TextDiff::from_lines.
func lineDiffCounts(oldStr, newStr string) (additions, deletions int) {
	m := difflib.NewMatcher(difflib.SplitLines(oldStr), difflib.SplitLines(newStr))
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'i':
			additions += op.J2 - op.J1
		case 'd':
			deletions += op.I2 - op.I1
		case 'r':
			additions += op.J2 - op.J1
			deletions += op.I2 - op.I1
		}
	}
	return additions, deletions
}
