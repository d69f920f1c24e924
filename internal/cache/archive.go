// Archive cache: grounded on the teacher's fsCache (cache_fs.go) atomic
// write/restore pattern, generalized from "task output keyed by input hash"
// to "package contents keyed by locator". Reuses internal/cacheitem's
// tar+zstd writer/reader wholesale — it already has symlink-aware restore
// logic the hoisting linker also needs, so both consumers share one
// extraction path instead of each rolling their own.
package cache

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/quillpm/quill/internal/cacheitem"
	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/turbopath"
)

// ArchiveCache stores fetched package contents on disk, one archive per
// physical locator. Archives are immutable once written: a given locator
// always resolves to the same bytes, so there is no invalidation path,
// only "exists" / "doesn't exist yet".
type ArchiveCache struct {
	dir       turbopath.AbsoluteSystemPath
	immutable bool
}

// NewArchiveCache opens (creating if necessary) an archive cache rooted at
// dir. immutable mirrors --immutable: a Put for an entry that doesn't
// already exist becomes a hard failure instead of populating the cache,
// matching the "frozen lockfile" CI posture described in the spec's
// runtime configuration section.
func NewArchiveCache(dir turbopath.AbsoluteSystemPath, immutable bool) (*ArchiveCache, error) {
	if err := dir.MkdirAll(0775); err != nil {
		return nil, err
	}
	return &ArchiveCache{dir: dir, immutable: immutable}, nil
}

var unsafeSlugChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Slug renders a locator into a filesystem-safe cache key. Virtual
// locators are physicalized first since their hash is a function of their
// dependents' shape, not their contents — two virtual instances that wrap
// the same physical locator always share one archive.
func Slug(l locator.Locator) string {
	phys := l.Physical()
	raw := phys.Ident.String() + "-" + phys.Reference.ToFileString()
	return unsafeSlugChars.ReplaceAllString(raw, "_")
}

func (c *ArchiveCache) path(l locator.Locator) turbopath.AbsoluteSystemPath {
	return c.dir.UntypedJoin(Slug(l) + ".tar.zst")
}

// Exists reports whether l's archive is already cached.
func (c *ArchiveCache) Exists(l locator.Locator) ItemStatus {
	return ItemStatus{Local: c.path(l).FileExists()}
}

// Fetch extracts the cached archive for l onto disk at anchor, returning
// the set of restored paths. ok is false (with a nil error) on a clean
// cache miss.
func (c *ArchiveCache) Fetch(l locator.Locator, anchor turbopath.AbsoluteSystemPath) (ok bool, files []turbopath.AnchoredSystemPath, err error) {
	p := c.path(l)
	if !p.FileExists() {
		return false, nil, nil
	}

	item, err := cacheitem.Open(p)
	if err != nil {
		return false, nil, fmt.Errorf("cache: open archive for %s: %w", l.ToHumanString(), err)
	}
	defer item.Close()

	restored, err := item.Restore(anchor)
	if err != nil {
		return false, nil, fmt.Errorf("cache: restore archive for %s: %w", l.ToHumanString(), err)
	}
	return true, restored, nil
}

// Put archives files (rooted at anchor) under l's cache key.
func (c *ArchiveCache) Put(l locator.Locator, anchor turbopath.AbsoluteSystemPath, files []turbopath.AnchoredSystemPath) error {
	p := c.path(l)
	if c.immutable && !p.FileExists() {
		return &ErrImmutable{Path: p.ToString()}
	}

	item, err := cacheitem.Create(p)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := item.AddFile(anchor, f); err != nil {
			_ = item.Close()
			return err
		}
	}
	return item.Close()
}

// Checksum returns the SHA-512 checksum of l's cached archive bytes, used
// as the lockfile entry's checksum field and as upsert_blob's "checksum
// matches" freshness check (spec §4.D).
func (c *ArchiveCache) Checksum(l locator.Locator) (string, error) {
	data, err := c.path(l).ReadFile()
	if err != nil {
		return "", err
	}
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:]), nil
}

// Clean removes every archive for the given idents' names, used by `quill
// cache clean <pkg>`. An empty prefix removes everything.
func (c *ArchiveCache) Clean(namePrefix string) error {
	entries, err := c.dir.ReadDir()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if namePrefix == "" || strings.HasPrefix(entry.Name(), namePrefix) {
			if err := c.dir.UntypedJoin(entry.Name()).Remove(); err != nil {
				return err
			}
		}
	}
	return nil
}
