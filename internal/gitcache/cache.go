// Package gitcache maintains a shared, content-addressed clone cache so
// repeated sandbox creates against the same upstream reuse one local clone
// instead of re-cloning it every time. Ported from the original
// implementation's repo cache (apps/server/native/core/src/repo/cache.rs):
// a JSON index on disk tracks access/fetch recency per slug, an
// in-process map supplies the last fetch time when the index has none,
// fetches are stale-while-revalidate against a configurable window,
// and the cache is capped to the 20 most recently used clones.
package gitcache

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/cmux/sandboxd/internal/sberr"
)

const (
	maxCacheRepos      = 20
	defaultFetchWindow = 5 * time.Second
	indexFileName      = "cache-index.json"
)

// FetchWindow reads CMUX_GIT_FETCH_WINDOW_MS, falling back to the 5s
// default the original implementation ships.
func FetchWindow() time.Duration {
	if v := os.Getenv("CMUX_GIT_FETCH_WINDOW_MS"); v != "" {
		if ms, err := time.ParseDuration(v + "ms"); err == nil {
			return ms
		}
	}
	return defaultFetchWindow
}

type indexEntry struct {
	Slug         string `json:"slug"`
	Path         string `json:"path"`
	LastAccessMs int64  `json:"last_access_ms"`
	LastFetchMs  *int64 `json:"last_fetch_ms,omitempty"`
}

type index struct {
	Entries []indexEntry `json:"entries"`
}

// Cache is a content-addressed clone cache rooted at Root.
type Cache struct {
	Root string

	mu        sync.Mutex // serializes index read-modify-write
	lastFetch sync.Map   // path -> time.Time, in-process SWR short-circuit
}

func New(root string) *Cache { return &Cache{Root: root} }

// SlugFromURL derives a filesystem-safe directory name from a clone URL,
// taking the last two '/'- or ':'-separated segments as "repo__owner" when
// present so collisions across hosts/orgs are unlikely without hashing.
func SlugFromURL(url string) string {
	clean := strings.TrimSuffix(url, ".git")
	parts := strings.FieldsFunc(clean, func(r rune) bool { return r == '/' || r == ':' })
	if len(parts) >= 2 {
		return parts[len(parts)-1] + "__" + parts[len(parts)-2]
	}
	replacer := strings.NewReplacer("/", "_", ":", "_", "@", "_", `\`, "_")
	return replacer.Replace(clean)
}

// EnsureRepo returns the local clone path for url, cloning it if absent
// and otherwise refreshing it via stale-while-revalidate fetch, then
// enforces the LRU cap.
func (c *Cache) EnsureRepo(ctx context.Context, url string) (string, error) {
	if err := os.MkdirAll(c.Root, 0o755); err != nil {
		return "", sberr.Wrap(sberr.KindIO, "create git cache root", err)
	}
	slug := SlugFromURL(url)
	path := filepath.Join(c.Root, slug)
	gitDir := filepath.Join(path, ".git")

	if pathExists(path) && (!pathExists(gitDir) || !pathExists(filepath.Join(gitDir, "HEAD"))) {
		_ = os.RemoveAll(path)
	}

	if !pathExists(path) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return "", sberr.Wrap(sberr.KindIO, "create repo clone dir", err)
		}
		if err := runGit(ctx, c.Root, "clone", "--no-single-branch", url, slug); err != nil {
			return "", err
		}
		c.updateIndexWithFetch(path, slug, nowMs())
	} else {
		_, _ = c.SWRFetch(ctx, path, FetchWindow())
	}

	if pathExists(filepath.Join(gitDir, "shallow")) {
		_ = runGit(ctx, path, "fetch", "--unshallow", "--tags")
	}

	c.updateIndex(path, slug)
	c.enforceLimit()
	return path, nil
}

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return sberr.CommandFailed("git "+strings.Join(args, " "), string(out), err)
	}
	return nil
}

func nowMs() int64 { return time.Now().UnixMilli() }

func (c *Cache) indexPath() string { return filepath.Join(c.Root, indexFileName) }

func (c *Cache) loadIndex() index {
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		return index{}
	}
	var idx index
	if err := json.Unmarshal(data, &idx.Entries); err != nil {
		return index{}
	}
	return idx
}

// saveIndex writes via a temp file + rename so a crash mid-write never
// leaves a half-written index behind.
func (c *Cache) saveIndex(idx index) error {
	data, err := json.MarshalIndent(idx.Entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.indexPath())
}

func sortAndDedup(idx *index) {
	sort.SliceStable(idx.Entries, func(i, j int) bool {
		return idx.Entries[i].LastAccessMs > idx.Entries[j].LastAccessMs
	})
	seen := make(map[string]bool, len(idx.Entries))
	out := idx.Entries[:0]
	for _, e := range idx.Entries {
		if seen[e.Slug] {
			continue
		}
		seen[e.Slug] = true
		out = append(out, e)
	}
	idx.Entries = out
}

func (c *Cache) updateIndex(path, slug string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.loadIndex()
	now := nowMs()
	found := false
	for i := range idx.Entries {
		if idx.Entries[i].Slug == slug {
			idx.Entries[i].LastAccessMs = now
			idx.Entries[i].Path = path
			found = true
			break
		}
	}
	if !found {
		idx.Entries = append(idx.Entries, indexEntry{Slug: slug, Path: path, LastAccessMs: now})
	}
	sortAndDedup(&idx)
	if err := c.saveIndex(idx); err != nil {
		log.Warn().Err(err).Msg("failed to persist git cache index")
	}
}

func (c *Cache) updateIndexWithFetch(path, slug string, fetchMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.loadIndex()
	now := nowMs()
	found := false
	for i := range idx.Entries {
		if idx.Entries[i].Path == path {
			idx.Entries[i].LastAccessMs = now
			f := fetchMs
			idx.Entries[i].LastFetchMs = &f
			found = true
			break
		}
	}
	if !found {
		f := fetchMs
		idx.Entries = append(idx.Entries, indexEntry{Slug: slug, Path: path, LastAccessMs: now, LastFetchMs: &f})
	}
	sortAndDedup(&idx)
	if err := c.saveIndex(idx); err != nil {
		log.Warn().Err(err).Msg("failed to persist git cache index")
	}
}

func (c *Cache) indexLastFetch(path string) (time.Time, bool) {
	c.mu.Lock()
	idx := c.loadIndex()
	c.mu.Unlock()
	for _, e := range idx.Entries {
		if e.Path == path && e.LastFetchMs != nil {
			return time.UnixMilli(*e.LastFetchMs), true
		}
	}
	return time.Time{}, false
}

// SWRFetch performs a stale-while-revalidate fetch: if the last fetch was
// within window, a background fetch is kicked off and SWRFetch returns
// (false, nil) immediately (stale-but-served); otherwise it fetches
// synchronously and returns (true, nil).
func (c *Cache) SWRFetch(ctx context.Context, path string, window time.Duration) (fetchedNow bool, err error) {
	now := time.Now()

	var lastFetch time.Time
	var have bool
	if t, ok := c.indexLastFetch(path); ok {
		lastFetch, have = t, true
	} else if v, ok := c.lastFetch.Load(path); ok {
		lastFetch, have = v.(time.Time), true
	}

	if have && now.Sub(lastFetch) <= window {
		go func() {
			bgCtx := context.Background()
			if err := runGit(bgCtx, path, "fetch", "--all", "--tags", "--prune"); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("background git fetch failed")
			}
			t := time.Now()
			c.updateIndexWithFetch(path, filepath.Base(path), t.UnixMilli())
			c.lastFetch.Store(path, t)
		}()
		return false, nil
	}

	if err := runGit(ctx, path, "fetch", "--all", "--tags", "--prune"); err != nil {
		return false, err
	}
	t := time.Now()
	c.updateIndexWithFetch(path, filepath.Base(path), t.UnixMilli())
	c.lastFetch.Store(path, t)
	return true, nil
}

// enforceLimit evicts the least-recently-used clones beyond maxCacheRepos.
func (c *Cache) enforceLimit() {
	c.mu.Lock()
	idx := c.loadIndex()
	if len(idx.Entries) <= maxCacheRepos {
		c.mu.Unlock()
		return
	}
	sortAndDedup(&idx)
	survivors := idx.Entries[:maxCacheRepos]
	victims := idx.Entries[maxCacheRepos:]
	idx.Entries = survivors
	if err := c.saveIndex(idx); err != nil {
		log.Warn().Err(err).Msg("failed to persist git cache index after eviction")
	}
	c.mu.Unlock()

	for _, v := range victims {
		reclaimed := dirSize(v.Path)
		if err := os.RemoveAll(v.Path); err != nil {
			log.Warn().Err(err).Str("path", v.Path).Msg("failed to evict git cache entry")
			continue
		}
		log.Info().Str("path", v.Path).Str("reclaimed", humanize.Bytes(reclaimed)).Msg("evicted git cache entry")
	}
}

// dirSize sums file sizes under path. Used only for the human-readable
// eviction log line above; a failed walk just logs 0 reclaimed rather than
// blocking eviction on it.
func dirSize(path string) uint64 {
	var total uint64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += uint64(info.Size())
		return nil
	})
	return total
}
