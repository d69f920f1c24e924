// Package hoist implements the node_modules hoisting linker (spec §4.G):
// turning the resolver's (possibly virtualized) dependency graph into a
// flattened node_modules tree the same way npm's own installer does,
// lifting each package as close to the root as it can go without breaking
// another package's view of its own dependencies.
//
// Grounded on original_source/packages/zpm/src/linker/nm/hoist.rs: the
// two-phase unfold-then-hoist structure, the per-node SCC-atomic hoisting
// batch, and the self-dependency/override/requirement checks in
// Hoister.process_node all carry over. Go has no structural-equality map
// key for locator.Locator (it embeds a *Locator and a []string), so the
// ported algorithm keys every map by Locator.ToFileString() instead of the
// value itself, the same substitution internal/resolver's Graph already
// makes for the same reason.
package hoist

import (
	"sort"

	"github.com/quillpm/quill/internal/ident"
	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/manifest"
	"github.com/quillpm/quill/internal/resolver"
)

// InputNode is one resolved package and the idents it depends on, exactly
// as the resolver graph recorded it.
type InputNode struct {
	Locator      locator.Locator
	Dependencies map[ident.Ident]locator.Locator
}

// InputTree is the resolver's output, reshaped for hoisting: every locator
// the install touched, keyed by its file-string form, plus the root
// workspace it all hangs off of.
type InputTree struct {
	Nodes map[string]InputNode
	Root  string
}

// FromGraph builds an InputTree from a finished resolver.Graph, rooted at
// root (the top-level workspace's locator). Grounded on
// InputTree::from_install_state.
func FromGraph(g *resolver.Graph, root locator.Locator) InputTree {
	nodes := make(map[string]InputNode, len(g.Resolutions))
	for key, res := range g.Resolutions {
		nodes[key] = inputNodeFromResolution(g, res)
	}
	return InputTree{Nodes: nodes, Root: root.ToFileString()}
}

func inputNodeFromResolution(g *resolver.Graph, res manifest.Resolution) InputNode {
	deps := make(map[ident.Ident]locator.Locator, len(res.Dependencies))
	for _, d := range res.Dependencies {
		if target, ok := g.Locate(d); ok {
			deps[d.Ident] = target
		}
	}
	return InputNode{Locator: res.Locator, Dependencies: deps}
}

// WorkNode is one physical position in the unfolded (pre-hoist) or
// flattened (post-hoist) install tree. children maps an ident to the index
// of the WorkNode providing it at this position — the thing that, after
// hoisting settles, becomes one level of node_modules.
type WorkNode struct {
	Locator      locator.Locator
	Dependencies map[ident.Ident]locator.Locator
	Children     map[ident.Ident]int
}

// WorkTree is the mutable tree Hoister operates on in place.
type WorkTree struct {
	Nodes []WorkNode
}

// Unfold builds the initial (fully duplicated, one physical copy per
// distinct parent chain) WorkTree from an InputTree. Grounded on
// WorkTree::from_input_tree / import_dfs: a locator already on the current
// DFS path is reused in place (breaking dependency cycles without
// recursing forever); everywhere else gets its own copy, so the same
// package can be hoisted to different depths independently depending on
// who depends on it.
func Unfold(input InputTree) WorkTree {
	wt := WorkTree{}
	rootIdx := wt.importNode(input, input.Root)
	onPath := map[string]int{input.Root: rootIdx}

	rootDeps := sortedDeps(input.Nodes[input.Root].Dependencies)
	for _, dep := range rootDeps {
		wt.importDFS(input, dep.ToFileString(), rootIdx, onPath)
	}
	return wt
}

func (wt *WorkTree) importNode(input InputTree, key string) int {
	n := input.Nodes[key]
	idx := len(wt.Nodes)
	wt.Nodes = append(wt.Nodes, WorkNode{
		Locator:      n.Locator,
		Dependencies: n.Dependencies,
		Children:     make(map[ident.Ident]int),
	})
	return idx
}

func (wt *WorkTree) importDFS(input InputTree, key string, parentIdx int, onPath map[string]int) {
	if existingIdx, ok := onPath[key]; ok {
		// A self-dependency (the package depends on the exact copy that's
		// already its own ancestor on this path) is dropped: every package
		// has an implicit dependency on itself already.
		if existingIdx == parentIdx {
			return
		}
		wt.Nodes[parentIdx].Children[wt.Nodes[existingIdx].Locator.Ident] = existingIdx
		return
	}

	newIdx := wt.importNode(input, key)
	wt.Nodes[parentIdx].Children[wt.Nodes[newIdx].Locator.Ident] = newIdx
	onPath[key] = newIdx

	for _, dep := range sortedDeps(input.Nodes[key].Dependencies) {
		wt.importDFS(input, dep.ToFileString(), newIdx, onPath)
	}
	delete(onPath, key)
}

// sortedDeps returns a node's dependency locators in a stable order, so
// Unfold and Hoist are deterministic regardless of Go's map iteration order.
func sortedDeps(deps map[ident.Ident]locator.Locator) []locator.Locator {
	out := make([]locator.Locator, 0, len(deps))
	for _, l := range deps {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ident.Less(out[j].Ident) })
	return out
}
