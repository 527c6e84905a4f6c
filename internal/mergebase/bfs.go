// Package mergebase finds the best common ancestor of two commits with a
// bidirectional breadth-first search over the parent graph, rather than
// shelling out to `git merge-base` per call. Ported from the teacher
// corpus's style of wrapping an external tool (nsenter/ip/docker) behind a
// small Go API, applied here to the original Rust implementation's
// in-process gix-based BFS (apps/server/native/core/src/merge_base/bfs.rs),
// with git-plumbing parent lookups substituted for gix's object database
// since no pure-Go git library is available anywhere in the example corpus.
package mergebase

import "context"

// ParentLookup resolves a commit's immediate parent IDs. The production
// implementation shells out to `git log --pretty=%P -n1 <id>`; tests
// supply an in-memory graph instead, so the search algorithm itself is
// unit-testable without a real repository.
type ParentLookup interface {
	Parents(ctx context.Context, id string) ([]string, error)
}

// frontier tracks one side's BFS distance map and work queue.
type frontier struct {
	dist  map[string]int
	queue []string
}

func newFrontier(start string) *frontier {
	return &frontier{dist: map[string]int{start: 0}, queue: []string{start}}
}

func (f *frontier) pop() (string, bool) {
	if len(f.queue) == 0 {
		return "", false
	}
	id := f.queue[0]
	f.queue = f.queue[1:]
	return id, true
}

// Find returns the merge base of a and b: the common ancestor minimizing
// combined distance from both sides, expanding whichever frontier is
// currently smaller at each step (mirrors the Rust source's "expand the
// smaller frontier" tie-break for performance). A commit whose parents
// cannot be looked up is treated as having none and the search continues.
// If no common ancestor is found, a is returned — any ancestor chain is
// better than failing the comparison outright, matching the original's
// `.or(Some(a))` fallback.
func Find(ctx context.Context, a, b string, lookup ParentLookup) (string, error) {
	if a == b {
		return a, nil
	}

	fa := newFrontier(a)
	fb := newFrontier(b)

	var bestID string
	bestCost := -1
	haveBest := false

	expand := func(from *frontier, other *frontier) (bool, error) {
		cur, ok := from.pop()
		if !ok {
			return false, nil
		}
		d := from.dist[cur]
		if haveBest && d > bestCost {
			return false, nil
		}
		parents, err := lookup.Parents(ctx, cur)
		if err != nil {
			// A single unreadable commit shouldn't abort the whole search;
			// treat it as having no parents and keep going.
			return true, nil
		}
		for _, p := range parents {
			if _, seen := from.dist[p]; seen {
				continue
			}
			from.dist[p] = d + 1
			from.queue = append(from.queue, p)
			if od, ok := other.dist[p]; ok {
				cost := (d + 1) + od
				if !haveBest || cost < bestCost {
					bestID, bestCost, haveBest = p, cost, true
				}
			}
		}
		return true, nil
	}

	for {
		// Mirrors the Rust source's short-circuiting `expand(x) ||
		// expand(!x)`: the smaller frontier is tried first, and the other
		// side is only touched when the first had nothing left to pop.
		aSmaller := len(fa.queue) <= len(fb.queue)
		var progressed bool
		var err error
		if aSmaller {
			progressed, err = expand(fa, fb)
			if err == nil && !progressed {
				progressed, err = expand(fb, fa)
			}
		} else {
			progressed, err = expand(fb, fa)
			if err == nil && !progressed {
				progressed, err = expand(fa, fb)
			}
		}
		if err != nil {
			return a, err
		}
		if !progressed {
			break
		}
	}

	if haveBest {
		return bestID, nil
	}
	return a, nil
}
