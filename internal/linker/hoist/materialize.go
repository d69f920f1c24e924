package hoist

import (
	"fmt"

	"github.com/quillpm/quill/internal/cache"
	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/turbopath"
)

// LocalDir resolves a locator that lives on disk already (a workspace, or a
// folder:/link:/portal: override) to its directory, so Materialize can
// symlink it instead of extracting it from the archive cache. It returns
// ok=false for every archive-backed kind (registry, url, tarball, git,
// patch), which Materialize extracts instead.
type LocalDir func(l locator.Locator) (dir turbopath.AbsoluteSystemPath, ok bool)

// Materialize walks a post-hoist WorkTree and lays it out on disk exactly
// as the tree shape dictates: node i's node_modules directory holds one
// entry per child, either a symlink to an on-disk package (workspace,
// folder:, link:, portal:) or the child's contents extracted from the
// archive cache. Grounded on the teacher's fsCache.Fetch restore-to-anchor
// pattern (internal/cache/archive.go), generalized from "restore one cached
// blob" to "restore an entire dependency tree one level at a time".
func Materialize(archive *cache.ArchiveCache, localDir LocalDir, rootDir turbopath.AbsoluteSystemPath, wt *WorkTree) error {
	if len(wt.Nodes) == 0 {
		return nil
	}
	return materializeNode(archive, localDir, rootDir, wt, 0)
}

func materializeNode(archive *cache.ArchiveCache, localDir LocalDir, dir turbopath.AbsoluteSystemPath, wt *WorkTree, nodeIdx int) error {
	node := wt.Nodes[nodeIdx]
	if len(node.Children) == 0 {
		return nil
	}

	nodeModules := dir.UntypedJoin("node_modules")
	if err := nodeModules.MkdirAll(0775); err != nil {
		return fmt.Errorf("hoist: create %s: %w", nodeModules.ToString(), err)
	}

	for _, childIdx := range sortedChildIndices(node.Children) {
		child := wt.Nodes[childIdx]
		childDir := nodeModules.UntypedJoin(child.Locator.Ident.String())

		if target, ok := localDir(child.Locator); ok {
			if err := symlinkInto(childDir, target); err != nil {
				return err
			}
		} else {
			ok, _, err := archive.Fetch(child.Locator, dir)
			if err != nil {
				return fmt.Errorf("hoist: extract %s: %w", child.Locator.ToHumanString(), err)
			}
			if !ok {
				return fmt.Errorf("hoist: no cached archive for %s", child.Locator.ToHumanString())
			}
		}

		if err := materializeNode(archive, localDir, childDir, wt, childIdx); err != nil {
			return err
		}
	}
	return nil
}

// symlinkInto replaces dest (if present) with a fresh symlink to target,
// matching the teacher's convention that linking is always an overwrite
// rather than an incremental merge.
func symlinkInto(dest, target turbopath.AbsoluteSystemPath) error {
	if _, err := dest.Lstat(); err == nil {
		if err := dest.RemoveAll(); err != nil {
			return fmt.Errorf("hoist: remove existing %s: %w", dest.ToString(), err)
		}
	}
	if err := dest.Dir().MkdirAll(0775); err != nil {
		return err
	}
	if err := dest.Symlink(target.ToString()); err != nil {
		return fmt.Errorf("hoist: symlink %s -> %s: %w", dest.ToString(), target.ToString(), err)
	}
	return nil
}
