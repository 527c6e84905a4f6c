package gitcache

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestSlugFromURL(t *testing.T) {
	cases := map[string]string{
		"https://github.com/acme/widgets.git": "widgets__acme",
		"https://github.com/acme/widgets":     "widgets__acme",
		"git@github.com:acme/widgets.git":      "widgets__acme",
		"/local/path":                          "path__local",
	}
	for url, want := range cases {
		if got := SlugFromURL(url); got != want {
			t.Errorf("SlugFromURL(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestSortAndDedupKeepsNewestAndDropsDuplicateSlugs(t *testing.T) {
	idx := index{Entries: []indexEntry{
		{Slug: "a", Path: "/a", LastAccessMs: 100},
		{Slug: "b", Path: "/b", LastAccessMs: 300},
		{Slug: "a", Path: "/a-newer", LastAccessMs: 200},
	}}
	sortAndDedup(&idx)
	if len(idx.Entries) != 2 {
		t.Fatalf("entries = %+v", idx.Entries)
	}
	if idx.Entries[0].Slug != "b" {
		t.Fatalf("expected newest-first ordering, got %+v", idx.Entries)
	}
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func initBareOrigin(t *testing.T, dir string) string {
	t.Helper()
	origin := filepath.Join(dir, "origin.git")
	if err := os.MkdirAll(origin, 0o755); err != nil {
		t.Fatal(err)
	}
	seed := filepath.Join(dir, "seed")
	run := func(d string, args ...string) {
		cmd := exec.Command("git", append([]string{"-C", d}, args...)...)
		cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@t.com", "GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@t.com")
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run(dir, "init", "--bare", origin)
	if err := os.MkdirAll(seed, 0o755); err != nil {
		t.Fatal(err)
	}
	run(seed, "init")
	if err := os.WriteFile(filepath.Join(seed, "README.md"), []byte("hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run(seed, "add", "README.md")
	run(seed, "commit", "-m", "init")
	run(seed, "remote", "add", "origin", origin)
	run(seed, "push", "origin", "HEAD:refs/heads/main")
	return origin
}

func TestEnsureRepoClonesAndReuses(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	origin := initBareOrigin(t, dir)
	root := filepath.Join(dir, "cache-root")
	c := New(root)

	path, err := c.EnsureRepo(context.Background(), origin)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		t.Fatalf("expected clone at %s: %v", path, err)
	}

	path2, err := c.EnsureRepo(context.Background(), origin)
	if err != nil {
		t.Fatal(err)
	}
	if path2 != path {
		t.Fatalf("second EnsureRepo returned different path: %s vs %s", path2, path)
	}

	idx := c.loadIndex()
	if len(idx.Entries) != 1 {
		t.Fatalf("expected one index entry, got %+v", idx.Entries)
	}
}

func TestSWRFetchSkipsWithinWindowAndBackgrounds(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	origin := initBareOrigin(t, dir)
	root := filepath.Join(dir, "cache-root")
	c := New(root)
	ctx := context.Background()

	path, err := c.EnsureRepo(ctx, origin)
	if err != nil {
		t.Fatal(err)
	}

	fetchedNow, err := c.SWRFetch(ctx, path, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if fetchedNow {
		t.Fatal("expected SWRFetch to report stale-served (false) within the window")
	}
}

func TestEnforceLimitEvictsOldestBeyondCap(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)

	var entries []indexEntry
	for i := 0; i < maxCacheRepos+3; i++ {
		p := filepath.Join(dir, "repo-"+string(rune('a'+i)))
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatal(err)
		}
		entries = append(entries, indexEntry{
			Slug:         "repo-" + string(rune('a'+i)),
			Path:         p,
			LastAccessMs: int64(i),
		})
	}
	if err := c.saveIndex(index{Entries: entries}); err != nil {
		t.Fatal(err)
	}

	c.enforceLimit()

	idx := c.loadIndex()
	if len(idx.Entries) != maxCacheRepos {
		t.Fatalf("expected %d surviving entries, got %d", maxCacheRepos, len(idx.Entries))
	}
	if _, err := os.Stat(entries[0].Path); !os.IsNotExist(err) {
		t.Fatalf("expected oldest entry's directory to be evicted, stat err = %v", err)
	}
	if _, err := os.Stat(entries[len(entries)-1].Path); err != nil {
		t.Fatalf("expected newest entry's directory to survive: %v", err)
	}
}

func TestDirSizeSumsRegularFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a"), make([]byte, 10), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 5), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := dirSize(dir); got != 15 {
		t.Fatalf("dirSize = %d, want 15", got)
	}
}
