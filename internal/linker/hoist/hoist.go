package hoist

import (
	"sort"

	"github.com/quillpm/quill/internal/ident"
	"github.com/quillpm/quill/internal/locator"
)

// candidate is a package a child subtree would like hoisted into the
// current node: the locator itself, plus every immediate child (by work
// index) that currently holds a copy of it and would give it up.
type candidate struct {
	locator locator.Locator
	parents []int
}

// Hoist runs the hoisting pass to a fixpoint: repeatedly walking the tree
// from the root and lifting every package it safely can, until a full
// traversal makes no further change. Grounded on Hoister::hoist /
// Hoister::process_node.
func Hoist(wt *WorkTree) {
	if len(wt.Nodes) == 0 {
		return
	}
	h := &hoister{wt: wt}
	changed := true
	for changed {
		h.seen = make([]bool, len(wt.Nodes))
		h.changed = false
		h.processNode(0)
		changed = h.changed
	}
}

type hoister struct {
	wt      *WorkTree
	seen    []bool
	changed bool
}

func (h *hoister) processNode(nodeIdx int) {
	h.seen[nodeIdx] = true

	children := make(map[ident.Ident]int, len(h.wt.Nodes[nodeIdx].Children))
	for id, idx := range h.wt.Nodes[nodeIdx].Children {
		children[id] = idx
	}

	hoistCandidates := make(map[string]*candidate)
	for _, childIdx := range sortedChildIndices(children) {
		if h.seen[childIdx] {
			continue
		}
		h.processNode(childIdx)

		for _, grandIdx := range sortedChildIndices(h.wt.Nodes[childIdx].Children) {
			l := h.wt.Nodes[grandIdx].Locator
			key := l.ToFileString()
			c, ok := hoistCandidates[key]
			if !ok {
				c = &candidate{locator: l}
				hoistCandidates[key] = c
			}
			c.parents = append(c.parents, childIdx)
		}
	}

	// A child we already host ourselves can always absorb a transitive
	// copy of itself: remove those from the candidate set (even if they're
	// part of an SCC that otherwise couldn't be hoisted) and melt the
	// duplicate children away instead.
	for key, c := range hoistCandidates {
		existingIdx, ok := h.wt.Nodes[nodeIdx].Children[c.locator.Ident]
		if ok && h.wt.Nodes[existingIdx].Locator.ToFileString() == key {
			for _, parentIdx := range c.parents {
				delete(h.wt.Nodes[parentIdx].Children, c.locator.Ident)
			}
			delete(hoistCandidates, key)
		}
	}

	if len(hoistCandidates) > 0 {
		h.hoistInto(nodeIdx, hoistCandidates)
	}

	// A package never needs its own copy of itself in node_modules.
	node := &h.wt.Nodes[nodeIdx]
	if selfIdx, ok := node.Children[node.Locator.Ident]; ok {
		if h.wt.Nodes[selfIdx].Locator.ToFileString() == node.Locator.ToFileString() {
			delete(node.Children, node.Locator.Ident)
		}
	}

	h.seen[nodeIdx] = false
}

// hoistInto attempts to lift candidates into nodeIdx, one strongly
// connected component at a time so that mutually dependent packages are
// always hoisted (or skipped) together.
func (h *hoister) hoistInto(nodeIdx int, hoistCandidates map[string]*candidate) {
	node := h.wt.Nodes[nodeIdx]

	selected := selectMostPopular(hoistCandidates)

	// candidateDeps[i] is the set of dependency idents of selected[i] that
	// nodeIdx also already provides — the only ones hoisting could
	// possibly break.
	byFileString := make(map[string]int, len(selected))
	for i, c := range selected {
		byFileString[c.locator.ToFileString()] = i
	}

	candidateDeps := make([][]locator.Locator, len(selected))
	for i, c := range selected {
		originIdx := h.wt.Nodes[c.parents[0]].Children[c.locator.Ident]
		originNode := h.wt.Nodes[originIdx]

		var deps []locator.Locator
		for _, dep := range sortedDeps(originNode.Dependencies) {
			if _, ownsIt := originNode.Children[dep.Ident]; ownsIt {
				continue
			}
			if _, parentHasIt := node.Children[dep.Ident]; !parentHasIt {
				continue
			}
			deps = append(deps, dep)
		}
		candidateDeps[i] = deps
	}

	edges := make(map[int][]int, len(selected))
	for i, deps := range candidateDeps {
		for _, dep := range deps {
			if j, ok := byFileString[dep.ToFileString()]; ok {
				edges[i] = append(edges[i], j)
			}
		}
	}
	sccs := stronglyConnectedComponents(len(selected), edges)

	newDependencies := make(map[ident.Ident]locator.Locator, len(node.Dependencies))
	for k, v := range node.Dependencies {
		newDependencies[k] = v
	}
	newChildren := make(map[ident.Ident]int, len(node.Children))
	for k, v := range node.Children {
		newChildren[k] = v
	}

	var removals []*candidate

nextSCC:
	for _, scc := range sccs {
		sccSet := make(map[string]bool, len(scc))
		for _, i := range scc {
			sccSet[selected[i].locator.ToFileString()] = true
		}

		for _, i := range scc {
			pkg := selected[i].locator
			if pkg.Ident == node.Locator.Ident && pkg.ToFileString() != node.Locator.ToFileString() {
				continue nextSCC // would break the parent's own self-dependency
			}
			if existing, ok := node.Dependencies[pkg.Ident]; ok && existing.ToFileString() != pkg.ToFileString() {
				continue nextSCC // conflicts with one of the parent's own dependencies
			}
			if existingIdx, ok := newChildren[pkg.Ident]; ok && h.wt.Nodes[existingIdx].Locator.ToFileString() != pkg.ToFileString() {
				continue nextSCC // parent already hosts a different package under that name
			}
		}

		for _, i := range scc {
			pkg := selected[i].locator
			for _, dep := range candidateDeps[i] {
				if sccSet[dep.ToFileString()] {
					continue // hoisted alongside pkg in this same batch
				}
				current, ok := newDependencies[dep.Ident]
				if ok && current.ToFileString() == dep.ToFileString() {
					continue
				}
				_ = pkg
				continue nextSCC // a requirement this batch can't satisfy
			}
		}

		h.changed = true
		for _, i := range scc {
			c := selected[i]
			originIdx := h.wt.Nodes[c.parents[0]].Children[c.locator.Ident]
			newDependencies[c.locator.Ident] = c.locator
			newChildren[c.locator.Ident] = originIdx
			removals = append(removals, c)
		}
	}

	for _, c := range removals {
		for _, parentIdx := range c.parents {
			delete(h.wt.Nodes[parentIdx].Children, c.locator.Ident)
		}
	}

	h.wt.Nodes[nodeIdx].Dependencies = newDependencies
	h.wt.Nodes[nodeIdx].Children = newChildren
}

// selectMostPopular collapses candidates down to one per ident: when two
// different locators for the same ident are both hoist candidates (e.g. a
// depends on B@1 while b depends on B@2), the one more children would
// benefit from wins.
func selectMostPopular(hoistCandidates map[string]*candidate) []*candidate {
	byIdent := make(map[ident.Ident][]*candidate)
	for _, c := range hoistCandidates {
		byIdent[c.locator.Ident] = append(byIdent[c.locator.Ident], c)
	}

	idents := make([]ident.Ident, 0, len(byIdent))
	for id := range byIdent {
		idents = append(idents, id)
	}
	sort.Slice(idents, func(i, j int) bool { return idents[i].Less(idents[j]) })

	selected := make([]*candidate, 0, len(idents))
	for _, id := range idents {
		group := byIdent[id]
		sort.Slice(group, func(i, j int) bool {
			if len(group[i].parents) != len(group[j].parents) {
				return len(group[i].parents) > len(group[j].parents)
			}
			return group[i].locator.ToFileString() < group[j].locator.ToFileString()
		})
		selected = append(selected, group[0])
	}
	return selected
}

func sortedChildIndices(children map[ident.Ident]int) []int {
	idents := make([]ident.Ident, 0, len(children))
	for id := range children {
		idents = append(idents, id)
	}
	sort.Slice(idents, func(i, j int) bool { return idents[i].Less(idents[j]) })
	out := make([]int, len(idents))
	for i, id := range idents {
		out[i] = children[id]
	}
	return out
}
