// Package cache implements two content-addressed stores used during an
// install: the archive cache (fetched package tarballs, keyed by locator)
// and the manifest cache (registry metadata responses, keyed by ident,
// revalidated with conditional GET). Both share the write-then-rename and
// directory-locking discipline the teacher's filesystem task cache used for
// the same reason: a crash mid-write must never corrupt a cache entry a
// concurrent install is reading.
package cache

import (
	"os"

	"github.com/adrg/xdg"
	"github.com/nightlyone/lockfile"
)

// ItemStatus reports whether a cache lookup found its entry locally.
type ItemStatus struct {
	Local bool
}

// ErrImmutable is returned by a Put when the cache was opened in
// immutable mode (CI / --immutable) and would otherwise need to write a
// new entry — per spec §7's ImmutableViolation error kind.
type ErrImmutable struct {
	Path string
}

func (e *ErrImmutable) Error() string {
	return "cache: refusing to write " + e.Path + " (immutable mode)"
}

// DefaultCacheRoot returns the default cache directory: XDG_CACHE_HOME on
// platforms that define it, falling back to xdg's own per-OS default.
func DefaultCacheRoot() (string, error) {
	return xdg.CacheFile("quill")
}

// withDirLock runs fn while holding an advisory lock on lockPath, used to
// serialize writers into the same cache directory across processes. A
// failure to acquire the lock is not fatal: reads never need it, and a
// best-effort write still uses atomic rename to avoid corruption.
func withDirLock(lockPath string, fn func() error) error {
	lock, err := lockfile.New(lockPath)
	if err != nil {
		return fn()
	}
	if err := lock.TryLock(); err != nil {
		return fn()
	}
	defer lock.Unlock()
	return fn()
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
