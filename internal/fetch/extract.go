package fetch

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/quillpm/quill/internal/turbopath"
)

// extractTarGz unpacks a gzipped tarball (the wire format every npm
// registry serves) onto disk at anchor, under prefix. npm tarballs wrap
// every entry in a leading "package/" directory; that segment is dropped
// so the result lands directly at <anchor>/<prefix>/... — the
// node_modules/<ident>/ layout spec §4.F requires archive entries to carry.
//
// Uses archive/tar and compress/gzip directly: no retrieved example
// repo uses a third-party gzip/tar codec (internal/cacheitem's own
// create.go reaches for the stdlib tar writer too, pairing it with
// DataDog/zstd only for its own zstd frame — there's no ecosystem
// gzip-tar decoder anywhere in the pack to prefer instead).
func extractTarGz(src, anchor turbopath.AbsoluteSystemPath, prefix turbopath.AnchoredSystemPath) ([]turbopath.AnchoredSystemPath, error) {
	f, err := src.OpenFile(os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("extract: %s is not gzip: %w", src.ToString(), err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	var files []turbopath.AnchoredSystemPath
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("extract: %s: %w", src.ToString(), err)
		}

		rel := stripLeadingComponent(hdr.Name)
		if rel == "" {
			continue
		}
		target := anchor.UntypedJoin(prefix.ToString(), rel)
		archivePath := turbopath.AnchoredSystemPathFromUpstream(prefix.ToString() + "/" + rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := target.MkdirAll(0775); err != nil {
				return nil, err
			}
		case tar.TypeReg:
			if err := target.Dir().MkdirAll(0775); err != nil {
				return nil, err
			}
			if err := writeRegularFile(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return nil, err
			}
			files = append(files, archivePath)
		case tar.TypeSymlink:
			if err := target.Dir().MkdirAll(0775); err != nil {
				return nil, err
			}
			_ = target.Remove()
			if err := target.Symlink(hdr.Linkname); err != nil {
				return nil, err
			}
			files = append(files, archivePath)
		default:
			// Registry tarballs don't carry device files/fifos; skip
			// anything else rather than failing the whole install over it.
		}
	}
	return files, nil
}

func writeRegularFile(target turbopath.AbsoluteSystemPath, r io.Reader, mode os.FileMode) error {
	if mode == 0 {
		mode = 0644
	}
	out, err := target.OpenFile(os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, r)
	return err
}

// stripLeadingComponent drops a tar entry's first path segment (npm's
// "package/" wrapper, or a git checkout's repo-name wrapper) and
// normalizes to forward slashes.
func stripLeadingComponent(name string) string {
	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	parts := strings.SplitN(clean, "/", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
