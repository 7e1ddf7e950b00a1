package pluginmgr

import (
	"fmt"
	"sort"

	"github.com/kafuuchino-desu/mcdr-go/internal/plugin"
)

type colour int

const (
	white colour = iota // unvisited
	gray                // on the current DFS stack
	black               // finished, already emitted
)

// WalkItem is one plugin's outcome from a dependency walk: whether its
// dependencies (transitively) are all present and satisfied, and if not,
// why.
type WalkItem struct {
	PluginID string
	Success  bool
	Reason   string
}

// DependencyWalker computes a load-safe topological order over a plugin
// set's declared dependencies, using a three-colour depth-first search:
// white nodes are unvisited, gray nodes are on the current recursion stack
// (visiting them again means a cycle), black nodes are finished and already
// emitted in topo order.
type DependencyWalker struct {
	plugins map[string]*plugin.Plugin
}

// NewDependencyWalker builds a walker over the given id -> plugin map.
func NewDependencyWalker(plugins map[string]*plugin.Plugin) *DependencyWalker {
	return &DependencyWalker{plugins: plugins}
}

// Walk returns one WalkItem per plugin. Items are appended in topological
// order as they finish, so the SuccessList order downstream callers rely on
// (dependencies before dependents) falls out naturally: a plugin is only
// marked successful after every dependency it's visited through already is.
func (w *DependencyWalker) Walk() []WalkItem {
	colours := make(map[string]colour, len(w.plugins))
	var items []WalkItem
	failed := make(map[string]string)

	fail := func(id, reason string) (bool, string) {
		if prior, done := failed[id]; done {
			// already emitted (e.g. the cycle head failed while a dependant
			// was mid-visit); keep the first reason, emit no duplicate item
			return false, prior
		}
		colours[id] = black
		failed[id] = reason
		items = append(items, WalkItem{PluginID: id, Success: false, Reason: reason})
		return false, reason
	}

	var visit func(id string, stack []string) (ok bool, reason string)
	visit = func(id string, stack []string) (bool, string) {
		switch colours[id] {
		case black:
			if reason, isFailed := failed[id]; isFailed {
				return false, reason
			}
			return true, ""
		case gray:
			return fail(id, fmt.Sprintf("dependency cycle: %s", cyclePath(stack, id)))
		}

		colours[id] = gray
		p, known := w.plugins[id]
		if !known {
			return fail(id, fmt.Sprintf("plugin %q not found", id))
		}

		meta := p.MetaData()
		stack = append(stack, id)

		depIDs := make([]string, 0, len(meta.Dependencies))
		for depID := range meta.Dependencies {
			depIDs = append(depIDs, depID)
		}
		sort.Strings(depIDs)

		for _, depID := range depIDs {
			req := meta.Dependencies[depID]
			dep, exists := w.plugins[depID]
			if !exists {
				return fail(id, fmt.Sprintf("missing dependency %q", depID))
			}
			if ok, reason := visit(depID, stack); !ok {
				return fail(id, fmt.Sprintf("dependency %q: %s", depID, reason))
			}
			if !req.Satisfies(dep.MetaData().Version) {
				return fail(id, fmt.Sprintf("dependency %q version %s does not satisfy %s", depID, dep.MetaData().Version, req))
			}
		}

		colours[id] = black
		items = append(items, WalkItem{PluginID: id, Success: true})
		return true, ""
	}

	ids := make([]string, 0, len(w.plugins))
	for id := range w.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if colours[id] == white {
			visit(id, nil)
		}
	}

	return items
}

func cyclePath(stack []string, closingID string) string {
	out := closingID
	for i := len(stack) - 1; i >= 0; i-- {
		out += " <- " + stack[i]
		if stack[i] == closingID {
			break
		}
	}
	return out
}
