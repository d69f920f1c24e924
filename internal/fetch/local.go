package fetch

import (
	"os"
	"strings"

	"github.com/quillpm/quill/internal/fs"
	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/patch"
	"github.com/quillpm/quill/internal/turbopath"
)

// archiveLocalDir copies an already-on-disk package directory (a git
// checkout, principally) into the archive cache under l, skipping the
// download/extract step url/tarball/registry fetches need.
func (f *Fetcher) archiveLocalDir(l locator.Locator, dir turbopath.AbsoluteSystemPath) (string, error) {
	anchor := f.scratchDir(l.ToFileString() + ".localcopy")
	defer anchor.RemoveAll()

	prefix := nodeModulesPrefix(l.Ident)
	dest := anchor.UntypedJoin(prefix.ToString())
	if err := dest.Dir().MkdirAll(0775); err != nil {
		return "", err
	}
	if err := fs.RecursiveCopy(dir, dest); err != nil {
		return "", err
	}

	files, err := listFiles(dest, prefix)
	if err != nil {
		return "", err
	}
	if err := f.Archive.Put(l, anchor, files); err != nil {
		return "", err
	}
	return f.Archive.Checksum(l)
}

// listFiles walks an already-materialized directory and returns every
// regular file and symlink as an archive-relative AnchoredSystemPath under
// prefix, the shape ArchiveCache.Put expects.
func listFiles(dir turbopath.AbsoluteSystemPath, prefix turbopath.AnchoredSystemPath) ([]turbopath.AnchoredSystemPath, error) {
	var files []turbopath.AnchoredSystemPath
	err := fs.WalkMode(dir.ToString(), func(name string, isDir bool, mode os.FileMode) error {
		if isDir {
			return nil
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(name, dir.ToString()), string(os.PathSeparator))
		files = append(files, turbopath.AnchoredSystemPathFromUpstream(prefix.ToString()+"/"+filepathToSlash(rel)))
		return nil
	})
	return files, err
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, string(os.PathSeparator), "/")
}

// loadEntries reads every regular file under root into a patch.Entries map
// keyed by its path relative to root, the shape internal/patch applies
// hunks against.
func loadEntries(root turbopath.AbsoluteSystemPath) (patch.Entries, error) {
	entries := make(patch.Entries)
	if info, err := root.Lstat(); err != nil || !info.IsDir() {
		return entries, nil
	}
	err := fs.WalkMode(root.ToString(), func(name string, isDir bool, mode os.FileMode) error {
		if isDir {
			return nil
		}
		rel := filepathToSlash(strings.TrimPrefix(strings.TrimPrefix(name, root.ToString()), string(os.PathSeparator)))
		data, err := turbopath.AbsoluteSystemPathFromUpstream(name).ReadFile()
		if err != nil {
			return err
		}
		entries[rel] = &patch.Entry{Content: data, Mode: mode}
		return nil
	})
	return entries, err
}

// writeEntries materializes a patch.Entries map back onto disk under
// anchor/prefix, returning the archive-relative file list ArchiveCache.Put
// expects.
func writeEntries(anchor turbopath.AbsoluteSystemPath, prefix turbopath.AnchoredSystemPath, entries patch.Entries) ([]turbopath.AnchoredSystemPath, error) {
	files := make([]turbopath.AnchoredSystemPath, 0, len(entries))
	for rel, entry := range entries {
		mode := entry.Mode
		if mode == 0 {
			mode = 0644
		}
		target := anchor.UntypedJoin(prefix.ToString(), rel)
		if err := target.Dir().MkdirAll(0775); err != nil {
			return nil, err
		}
		if err := target.WriteFile(entry.Content, mode); err != nil {
			return nil, err
		}
		files = append(files, turbopath.AnchoredSystemPathFromUpstream(prefix.ToString()+"/"+rel))
	}
	return files, nil
}
